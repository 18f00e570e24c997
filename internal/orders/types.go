package orders

import "time"

// Payment statuses
const (
	PaymentPending   = "pending"
	PaymentSubmitted = "payment_submitted"
	PaymentVerified  = "verified"
	PaymentCancelled = "cancelled"
)

// Order statuses
const (
	OrderPending         = "pending"
	OrderProcessing      = "processing"
	OrderShipped         = "shipped"
	OrderDelivered       = "delivered"
	OrderCancelled       = "cancelled"
	OrderAwaitingPayment = "awaiting_payment"
)

// Payment attempt statuses
const (
	AttemptPending  = "pending"
	AttemptApproved = "approved"
	AttemptDeclined = "declined"
)

// MaxPaymentAttempts bounds the proof-submission retry cycle. The (n+1)-th
// attempt is only accepted while the persisted attempt count is below this.
const MaxPaymentAttempts = 3

// PaymentAttempt is one proof-of-payment submission, embedded in the order.
type PaymentAttempt struct {
	AttemptNumber int        `dynamodbav:"attempt_number" json:"attempt_number"` // 1..3
	ProofURL      string     `dynamodbav:"proof_url" json:"proof_url"`
	UploadedAt    time.Time  `dynamodbav:"uploaded_at" json:"uploaded_at"`
	Status        string     `dynamodbav:"status" json:"status"` // pending | approved | declined
	ApprovedAt    *time.Time `dynamodbav:"approved_at,omitempty" json:"approved_at,omitempty"`
	DeclinedAt    *time.Time `dynamodbav:"declined_at,omitempty" json:"declined_at,omitempty"`
	Note          string     `dynamodbav:"note,omitempty" json:"note,omitempty"`
}

// OrderItem is one line of an order, carrying the reservation it consumed so
// cancellation can reconcile stock per product.
type OrderItem struct {
	ProductID     string  `dynamodbav:"product_id" json:"product_id"`
	ReservationID string  `dynamodbav:"reservation_id" json:"reservation_id"`
	Quantity      int     `dynamodbav:"quantity" json:"quantity"`
	UnitPrice     float64 `dynamodbav:"unit_price" json:"unit_price"`
	TotalPrice    float64 `dynamodbav:"total_price" json:"total_price"`
}

// ShippingDetails captures the delivery address supplied at checkout.
type ShippingDetails struct {
	RecipientName string `dynamodbav:"recipient_name" json:"recipient_name"`
	Phone         string `dynamodbav:"phone" json:"phone"`
	AddressLine   string `dynamodbav:"address_line" json:"address_line"`
	City          string `dynamodbav:"city" json:"city"`
	Province      string `dynamodbav:"province,omitempty" json:"province,omitempty"`
	PostalCode    string `dynamodbav:"postal_code,omitempty" json:"postal_code,omitempty"`
	Notes         string `dynamodbav:"notes,omitempty" json:"notes,omitempty"`
}

// Order is the item stored in the orders DynamoDB table. Orders are never
// hard-deleted; terminal states are verified(+delivered) and cancelled.
type Order struct {
	OrderID     string          `dynamodbav:"order_id" json:"order_id"` // PK
	UserID      string          `dynamodbav:"user_id" json:"user_id"`   // GSI
	OrderNumber string          `dynamodbav:"order_number" json:"order_number"`
	Items       []OrderItem     `dynamodbav:"items" json:"items"`
	TotalAmount float64         `dynamodbav:"total_amount" json:"total_amount"`
	Shipping    ShippingDetails `dynamodbav:"shipping" json:"shipping"`

	PaymentStatus string `dynamodbav:"payment_status" json:"payment_status"`
	OrderStatus   string `dynamodbav:"order_status" json:"order_status"`

	PaymentAttempts []PaymentAttempt `dynamodbav:"payment_attempts" json:"payment_attempts"`
	CurrentAttempt  int              `dynamodbav:"current_attempt" json:"current_attempt"` // 0..3

	// Convenience copies of the latest proof, kept for list views.
	PaymentProofURL        string     `dynamodbav:"payment_proof_url,omitempty" json:"payment_proof_url,omitempty"`
	PaymentProofUploadedAt *time.Time `dynamodbav:"payment_proof_uploaded_at,omitempty" json:"payment_proof_uploaded_at,omitempty"`

	TrackingNumber string `dynamodbav:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	CourierName    string `dynamodbav:"courier_name,omitempty" json:"courier_name,omitempty"`

	CancelWarningNotified bool       `dynamodbav:"cancel_warning_notified" json:"-"`
	CancelledAt           *time.Time `dynamodbav:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CancellationReason    string     `dynamodbav:"cancellation_reason,omitempty" json:"cancellation_reason,omitempty"`

	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Terminal reports whether the payment state machine has reached an end
// state; no payment transition may leave it.
func (o Order) Terminal() bool {
	return o.PaymentStatus == PaymentVerified || o.PaymentStatus == PaymentCancelled
}
