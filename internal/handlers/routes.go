package handlers

import (
	"net/http"
	"time"

	"github.com/brystrange/reserveflow/internal/awsx"
	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/brystrange/reserveflow/internal/idempotency"
	"github.com/brystrange/reserveflow/internal/notifications"
	"github.com/brystrange/reserveflow/internal/orders"
	"github.com/brystrange/reserveflow/internal/reservations"
	"github.com/brystrange/reserveflow/internal/settings"
	"github.com/brystrange/reserveflow/internal/validation"
	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	DynamoDBClient   awsx.DynamoDBAPI
	S3Client         awsx.S3API
	SQSClient        awsx.SQSAPI
	CloudWatchClient awsx.CloudWatchAPI

	ProductsTable      string
	CollectionsTable   string
	ReservationsTable  string
	OrdersTable        string
	NotificationsTable string
	SettingsTable      string
	IdempotencyTable   string

	QueueURL     string
	ProofBucket  string
	ProofBaseURL string

	TTLWindow time.Duration
}

// deps is the wired object graph shared by all route groups.
type deps struct {
	validate      *validatorv10.Validate
	catalog       *catalog.Store
	engine        *reservations.Engine
	manager       *orders.Manager
	notifications *notifications.Store
	settings      *settings.Store
	idempotency   *idempotency.Store
}

// RegisterRoutes wires the stores and registers every API route.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	catalogStore := catalog.NewStore(cfg.DynamoDBClient, cfg.ProductsTable, cfg.CollectionsTable)
	resStore := reservations.NewStore(cfg.DynamoDBClient, cfg.ReservationsTable)
	orderStore := orders.NewStore(cfg.DynamoDBClient, cfg.OrdersTable)
	notifStore := notifications.NewStore(cfg.DynamoDBClient, cfg.NotificationsTable)
	settingsStore := settings.NewStore(cfg.DynamoDBClient, cfg.SettingsTable)
	idempStore := idempotency.NewStore(cfg.DynamoDBClient, cfg.IdempotencyTable, cfg.TTLWindow)

	var publisher *awsx.Publisher
	if cfg.QueueURL != "" {
		publisher = awsx.NewPublisher(cfg.SQSClient, cfg.QueueURL)
	}
	emitter := notifications.NewEmitter(notifStore, publisher)
	uploader := awsx.NewUploader(cfg.S3Client, cfg.ProofBucket, cfg.ProofBaseURL)
	metrics := awsx.NewMetrics(cfg.CloudWatchClient, "ReserveFlow")

	d := &deps{
		validate:      validation.New(),
		catalog:       catalogStore,
		engine:        reservations.NewEngine(resStore, catalogStore, settingsStore, emitter, metrics),
		manager:       orders.NewManager(orderStore, resStore, catalogStore, settingsStore, emitter, uploader, metrics),
		notifications: notifStore,
		settings:      settingsStore,
		idempotency:   idempStore,
	}

	registerCatalogRoutes(r, d)
	registerReservationRoutes(r, d)
	registerOrderRoutes(r, d)
	registerNotificationRoutes(r, d)
	registerAdminRoutes(r, d)
}

// userID extracts the caller identity from the trusted upstream header.
// Writes a 401 and returns "" when absent.
func userID(c *gin.Context) string {
	uid := c.GetHeader("X-User-Id")
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_user_id"})
	}
	return uid
}

// requireAdmin gates the admin route group on the upstream role header.
func requireAdmin(c *gin.Context) {
	if c.GetHeader("X-User-Role") != "admin" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_only"})
	}
}
