package notifications

import "time"

// Notification event kinds.
const (
	TypeReservationExpired       = "reservation_expired"
	TypeReservationExpiryWarning = "reservation_expiry_warning"
	TypePaymentVerified          = "payment_verified"
	TypePaymentDeclined          = "payment_declined"
	TypeOrderCancelled           = "order_cancelled"
	TypeOrderCancelWarning       = "order_cancel_warning"
)

// Notification is an append-only user-facing record. Only the read flag is
// ever mutated after creation.
type Notification struct {
	NotificationID string    `dynamodbav:"notification_id" json:"notification_id"` // PK
	UserID         string    `dynamodbav:"user_id" json:"user_id"`
	Type           string    `dynamodbav:"type" json:"type"`
	Title          string    `dynamodbav:"title" json:"title"`
	Message        string    `dynamodbav:"message" json:"message"`
	Read           bool      `dynamodbav:"read" json:"read"`
	OrderID        string    `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	ReservationID  string    `dynamodbav:"reservation_id,omitempty" json:"reservation_id,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
}
