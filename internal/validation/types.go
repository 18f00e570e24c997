package validation

// ReserveRequest is the payload for POST /reservations
type ReserveRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"` // must be >= 1
}

// Shipping carries the delivery address supplied at checkout.
type Shipping struct {
	RecipientName string `json:"recipient_name" validate:"required"`
	Phone         string `json:"phone" validate:"required"`
	AddressLine   string `json:"address_line" validate:"required"`
	City          string `json:"city" validate:"required"`
	Province      string `json:"province,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	ReservationIDs []string `json:"reservation_ids" validate:"required,min=1,dive,required"`
	Shipping       Shipping `json:"shipping" validate:"required"`
}

// DeclineRequest is the payload for POST /admin/orders/:id/decline
type DeclineRequest struct {
	Note string `json:"note,omitempty"`
}

// CancelRequest is the payload for POST /admin/orders/:id/cancel
type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// TrackingRequest is the payload for POST /admin/orders/:id/tracking
type TrackingRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required"`
	CourierName    string `json:"courier_name" validate:"required"`
}

// TimeSettingsRequest is the payload for PUT /admin/settings/time
type TimeSettingsRequest struct {
	ReservationExpiryMinutes int  `json:"reservation_expiry_minutes" validate:"required,min=1"`
	PaymentWaitHours         int  `json:"payment_wait_hours" validate:"required,min=1"`
	AutoCancelDeclined       bool `json:"auto_cancel_declined"`
}

// PaymentSettingsRequest is the payload for PUT /admin/settings/payment
type PaymentSettingsRequest struct {
	BankName      string `json:"bank_name" validate:"required"`
	AccountName   string `json:"account_name" validate:"required"`
	AccountNumber string `json:"account_number" validate:"required"`
	Instructions  string `json:"instructions,omitempty"`
}

// InvoiceSettingsRequest is the payload for PUT /admin/settings/invoice
type InvoiceSettingsRequest struct {
	BusinessName string `json:"business_name" validate:"required"`
	LogoURL      string `json:"logo_url,omitempty"`
	FooterNote   string `json:"footer_note,omitempty"`
}
