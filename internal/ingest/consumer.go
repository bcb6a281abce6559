package ingest

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"whatsapp-inbox-backend/internal/wire"

	"github.com/rabbitmq/amqp091-go"
)

// EnvelopeSink is the inbox side of the ingest pipeline.
type EnvelopeSink interface {
	IngestRaw(ctx context.Context, channelID string, payload []byte) error
}

// Consumer drains provider envelopes from the gateway exchange. Routing
// keys follow wa.in.<channelId>; the channel id is recovered from the key
// so one queue serves every channel.
type Consumer struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	sink     EnvelopeSink

	msgChan   chan amqp091.Delivery
	done      chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
	workerCnt int
}

func NewConsumer(url, exchange string, sink EnvelopeSink, workerCnt int) (*Consumer, error) {
	if workerCnt <= 0 {
		workerCnt = 4
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:      conn,
		ch:        ch,
		exchange:  exchange,
		sink:      sink,
		msgChan:   make(chan amqp091.Delivery, 64),
		done:      make(chan struct{}),
		workerCnt: workerCnt,
	}, nil
}

func (c *Consumer) Start(queueName string) error {
	var startErr error
	c.once.Do(func() {
		if err := c.setupQueue(queueName); err != nil {
			startErr = err
			return
		}
		for i := 0; i < c.workerCnt; i++ {
			c.wg.Add(1)
			go c.workerLoop()
		}
		log.Printf("[ingest] consumer started on queue %s", queueName)
	})
	return startErr
}

func (c *Consumer) setupQueue(queueName string) error {
	if err := c.ch.Qos(10, 0, false); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, "wa.in.*", c.exchange, false, nil); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go c.forward(msgs)
	return nil
}

// forward drains broker deliveries into the worker channel. Both exit
// paths close msgChan so the worker pool can drain and stop.
func (c *Consumer) forward(msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-c.done:
			close(c.msgChan)
			return
		case msg, ok := <-msgs:
			if !ok {
				close(c.msgChan)
				return
			}
			c.msgChan <- msg
		}
	}
}

func (c *Consumer) workerLoop() {
	defer c.wg.Done()
	for msg := range c.msgChan {
		channelID := channelFromKey(msg.RoutingKey)
		if channelID == "" {
			log.Printf("[ingest] dropping delivery with routing key %q", msg.RoutingKey)
			_ = msg.Nack(false, false)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.sink.IngestRaw(ctx, channelID, msg.Body)
		cancel()
		if err != nil {
			// Malformed envelopes never become parseable; only transient
			// failures are worth requeueing.
			requeue := !wire.IsParseError(err)
			log.Printf("[ingest] handler error on %s (requeue=%v): %v", msg.RoutingKey, requeue, err)
			_ = msg.Nack(false, requeue)
		} else {
			_ = msg.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	close(c.done)
	c.wg.Wait()
	_ = c.ch.Close()
	return c.conn.Close()
}

func channelFromKey(routingKey string) string {
	const prefix = "wa.in."
	if !strings.HasPrefix(routingKey, prefix) {
		return ""
	}
	return strings.TrimPrefix(routingKey, prefix)
}
