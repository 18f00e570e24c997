package catalog

import "time"

// Collection statuses
const (
	CollectionDraft     = "draft"
	CollectionScheduled = "scheduled"
	CollectionPublished = "published"
)

// Product is the item stored in the products DynamoDB table.
// available_stock is only ever mutated through conditional update
// expressions (reserve decrement, return increment), never read-then-write.
type Product struct {
	ProductID      string    `dynamodbav:"product_id" json:"product_id"` // PK
	CollectionID   string    `dynamodbav:"collection_id,omitempty" json:"collection_id,omitempty"`
	Name           string    `dynamodbav:"name" json:"name"`
	Price          float64   `dynamodbav:"price" json:"price"`
	TotalStock     int       `dynamodbav:"total_stock" json:"total_stock"`
	AvailableStock int       `dynamodbav:"available_stock" json:"available_stock"` // 0 <= available_stock <= total_stock
	ImageURL       string    `dynamodbav:"image_url,omitempty" json:"image_url,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Collection groups products for the storefront. Only its status matters to
// the core (unpublished collections are filtered from customer listings).
type Collection struct {
	CollectionID string     `dynamodbav:"collection_id" json:"collection_id"` // PK
	Name         string     `dynamodbav:"name" json:"name"`
	Status       string     `dynamodbav:"status" json:"status"` // draft | scheduled | published
	ScheduledAt  *time.Time `dynamodbav:"scheduled_at,omitempty" json:"scheduled_at,omitempty"`
	CreatedAt    time.Time  `dynamodbav:"created_at" json:"created_at"`
}
