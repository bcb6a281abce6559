package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"whatsapp-inbox-backend/internal/ai"
	"whatsapp-inbox-backend/internal/database"
	"whatsapp-inbox-backend/internal/env"
	"whatsapp-inbox-backend/internal/inbox"
	"whatsapp-inbox-backend/internal/ingest"
	"whatsapp-inbox-backend/internal/provider"
	"whatsapp-inbox-backend/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	env.MustCheck(env.AMQPUrl, env.WAExchange)

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

	consumer, err := ingest.NewConsumer(env.MustGet(env.AMQPUrl), env.MustGet(env.WAExchange), service, 4)
	if err != nil {
		log.Fatalf("consumer init failed: %v", err)
	}
	defer consumer.Close()

	if err := consumer.Start(env.GetOrDefault("INGEST_QUEUE", "wa-inbox-ingest")); err != nil {
		log.Fatalf("consumer start failed: %v", err)
	}

	log.Println("ingest worker running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("ingest worker shutting down")
}
