package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-inbox-backend/internal/inbox"
	"whatsapp-inbox-backend/internal/model"
)

// Publisher pushes inbox events through redis to every ws-server instance
// holding a room for the channel.
type Publisher struct{}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) PublishNewMessage(channelID string, message model.MessageItem) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("websocket publish: marshal message: %w", err)
	}
	return Publish(channelID, &Event{
		Type:      EventNewMessage,
		ChannelID: channelID,
		ChatKey:   message.ChatKey,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
}

func (p *Publisher) PublishConversationUpdated(channelID string, summary inbox.ConversationSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("websocket publish: marshal summary: %w", err)
	}
	return Publish(channelID, &Event{
		Type:      EventConversationUpdated,
		ChannelID: channelID,
		ChatKey:   summary.ChatKey,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	})
}

func (p *Publisher) PublishTyping(channelID, chatKey string) error {
	return Publish(channelID, &Event{
		Type:      EventTyping,
		ChannelID: channelID,
		ChatKey:   chatKey,
		Timestamp: time.Now().Unix(),
	})
}

// Publish sends one event to the channel room over redis.
func Publish(roomID string, event *Event) error {
	if roomID == "" {
		return fmt.Errorf("websocket publish: roomID required")
	}
	if redisClient == nil {
		return fmt.Errorf("websocket publish: redis client not initialised")
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("websocket publish: marshal event: %w", err)
	}

	if err := redisClient.Publish(context.Background(), roomID, string(eventJSON)).Err(); err != nil {
		return fmt.Errorf("websocket publish: redis publish: %w", err)
	}
	return nil
}
