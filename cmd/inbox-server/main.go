package main

import (
	"log"

	"github.com/joho/godotenv"

	"whatsapp-inbox-backend/internal/ai"
	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/router"
	"whatsapp-inbox-backend/internal/database"
	"whatsapp-inbox-backend/internal/env"
	"whatsapp-inbox-backend/internal/inbox"
	"whatsapp-inbox-backend/internal/provider"
	"whatsapp-inbox-backend/internal/queue"
	channelsvc "whatsapp-inbox-backend/internal/service/channel"
	"whatsapp-inbox-backend/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	env.MustCheck(env.AMQPUrl, env.WAExchange)

	queueManager := queue.NewRequestQueueManager(10, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	gateway, err := provider.NewGateway(env.MustGet(env.AMQPUrl), env.MustGet(env.WAExchange))
	if err != nil {
		log.Fatalf("provider gateway init failed: %v", err)
	}
	defer gateway.Close()

	service := inbox.NewService(inbox.NewDynamoRepository(db), nil, gateway, websocket.NewPublisher(), nil)
	if env.Get(env.OpenAIAPIKey) != "" {
		service.SetAutoResponder(ai.NewResponder())
	}
	channels := channelsvc.New(db)

	server := api.NewAPIServer(
		":81",
		queueManager,
		db,
		nil,
		router.UtilsRoutes("/api/v1"),
		router.AuthRoutes("/api/v1"),
		router.ChannelRoutes("/api/v1"),
		router.InboxRoutes("/api/v1", service, channels),
		router.WebhookRoutes("/api/v1", service),
	)

	server.Run()
}
