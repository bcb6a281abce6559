package provider

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"whatsapp-inbox-backend/internal/model"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// OutboundMessage is the payload handed to the WhatsApp gateway workers.
// The clientId travels with it so the gateway can stamp the delivery echo
// and the inbox can reconcile the optimistic message.
type OutboundMessage struct {
	ChannelID string `json:"channelId"`
	ChatKey   string `json:"chatKey"`
	ClientID  string `json:"clientId"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
}

// Gateway publishes outbound messages to the provider exchange, one routing
// key per channel so gateway workers can bind selectively.
type Gateway struct {
	conn     *amqp091.Connection
	exchange string
}

func NewGateway(url, exchange string) (*Gateway, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &Gateway{
		conn:     conn,
		exchange: exchange,
	}, nil
}

func (g *Gateway) Send(ctx context.Context, channelID string, message model.MessageItem) error {
	ch, err := g.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	payload := OutboundMessage{
		ChannelID: channelID,
		ChatKey:   message.ChatKey,
		ClientID:  message.ClientID,
		Kind:      string(message.Kind),
		Body:      message.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	correlationID := message.ClientID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	key := "wa.out." + channelID
	err = ch.PublishWithContext(
		ctx, g.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     message.MessageID,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err == nil {
		log.Printf("[provider] published %s to %s", message.MessageID, key)
	}
	return err
}

func (g *Gateway) Close() error {
	return g.conn.Close()
}
