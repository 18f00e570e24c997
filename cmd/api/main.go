package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/brystrange/reserveflow/internal/awsx"
	"github.com/brystrange/reserveflow/internal/handlers"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func configFromEnv(clients *awsx.Clients) handlers.HandlerConfig {
	return handlers.HandlerConfig{
		DynamoDBClient:     clients.DynamoDB,
		S3Client:           clients.S3,
		SQSClient:          clients.SQS,
		CloudWatchClient:   clients.CloudWatch,
		ProductsTable:      os.Getenv("PRODUCTS_TABLE"),
		CollectionsTable:   os.Getenv("COLLECTIONS_TABLE"),
		ReservationsTable:  os.Getenv("RESERVATIONS_TABLE"),
		OrdersTable:        os.Getenv("ORDERS_TABLE"),
		NotificationsTable: os.Getenv("NOTIFICATIONS_TABLE"),
		SettingsTable:      os.Getenv("SETTINGS_TABLE"),
		IdempotencyTable:   os.Getenv("IDEMPOTENCY_TABLE"),
		QueueURL:           os.Getenv("NOTIFICATIONS_QUEUE_URL"),
		ProofBucket:        os.Getenv("PROOF_BUCKET"),
		ProofBaseURL:       os.Getenv("PROOF_BASE_URL"),
		TTLWindow:          48 * time.Hour,
	}
}

func main() {
	runLocal := os.Getenv("RUN_LOCAL") == "true"
	if runLocal {
		// .env is optional; missing file is fine.
		_ = godotenv.Load()
	}

	clients, err := awsx.NewClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	r := setupRouter(configFromEnv(clients))

	if runLocal {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
