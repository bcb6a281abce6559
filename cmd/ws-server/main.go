package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/router"
	"whatsapp-inbox-backend/internal/database"
	"whatsapp-inbox-backend/internal/env"
	"whatsapp-inbox-backend/internal/inbox"
	"whatsapp-inbox-backend/internal/queue"
	channelsvc "whatsapp-inbox-backend/internal/service/channel"
	"whatsapp-inbox-backend/internal/websocket"
)

// commandSink routes client socket commands into the inbox service.
type commandSink struct {
	service *inbox.Service
}

func (c *commandSink) HandleCommand(channelID string, cmd websocket.ClientCommand) {
	switch cmd.Action {
	case websocket.ActionTyping:
		c.service.HandleTyping(channelID, cmd.ChatKey)
	case websocket.ActionMarkRead:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.service.MarkRead(ctx, channelID, cmd.ChatKey); err != nil {
			log.Printf("mark read %s/%s: %v", channelID, cmd.ChatKey, err)
		}
	default:
		log.Printf("unknown client command %q on channel %s", cmd.Action, channelID)
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	env.MustCheck()

	queueManager := queue.NewRequestQueueManager(10, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	service := inbox.NewService(inbox.NewDynamoRepository(db), nil, nil, websocket.NewPublisher(), nil)
	channels := channelsvc.New(db)

	hub := websocket.NewHub()
	go hub.Run()
	handler := websocket.NewHandler(hub, &commandSink{service: service})

	server := api.NewAPIServer(
		":83",
		queueManager,
		db,
		handler,
		router.UtilsRoutes("/api/ws/v1"),
		router.InboxWebsocketRoutes("/api/ws/v1", service, channels),
	)

	handler.SubscribeToRedisChannels()

	server.Run()
}
