package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/brystrange/reserveflow/internal/awsx"
	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/brystrange/reserveflow/internal/notifications"
	"github.com/brystrange/reserveflow/internal/orders"
	"github.com/brystrange/reserveflow/internal/reservations"
	"github.com/brystrange/reserveflow/internal/settings"
	"github.com/joho/godotenv"
)

func buildSweeper(clients *awsx.Clients) *Sweeper {
	catalogStore := catalog.NewStore(clients.DynamoDB, os.Getenv("PRODUCTS_TABLE"), os.Getenv("COLLECTIONS_TABLE"))
	resStore := reservations.NewStore(clients.DynamoDB, os.Getenv("RESERVATIONS_TABLE"))
	orderStore := orders.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"))
	notifStore := notifications.NewStore(clients.DynamoDB, os.Getenv("NOTIFICATIONS_TABLE"))
	settingsStore := settings.NewStore(clients.DynamoDB, os.Getenv("SETTINGS_TABLE"))

	var publisher *awsx.Publisher
	if queueURL := os.Getenv("NOTIFICATIONS_QUEUE_URL"); queueURL != "" {
		publisher = awsx.NewPublisher(clients.SQS, queueURL)
	}
	emitter := notifications.NewEmitter(notifStore, publisher)
	uploader := awsx.NewUploader(clients.S3, os.Getenv("PROOF_BUCKET"), os.Getenv("PROOF_BASE_URL"))
	metrics := awsx.NewMetrics(clients.CloudWatch, "ReserveFlow")

	return &Sweeper{
		engine:  reservations.NewEngine(resStore, catalogStore, settingsStore, emitter, metrics),
		manager: orders.NewManager(orderStore, resStore, catalogStore, settingsStore, emitter, uploader, metrics),
	}
}

func main() {
	runLocal := os.Getenv("RUN_LOCAL") == "true"
	if runLocal {
		_ = godotenv.Load()
	}

	clients, err := awsx.NewClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	sweeper := buildSweeper(clients)

	if runLocal {
		log.Printf("running local sweeper")
		sweeper.RunLocal(context.Background())
		return
	}

	// Scheduled Lambda: EventBridge triggers one pass per invocation.
	lambda.Start(func(ctx context.Context) error {
		sweeper.RunOnce(ctx)
		return nil
	})
}
