package settings

// Settings document ids within the settings table.
const (
	DocPayment = "payment"
	DocTime    = "time"
	DocInvoice = "invoice"
)

// PaymentSettings holds the bank-transfer instructions shown at checkout.
type PaymentSettings struct {
	SettingsID    string `dynamodbav:"settings_id" json:"-"` // PK, always "payment"
	Instructions  string `dynamodbav:"instructions,omitempty" json:"instructions,omitempty"`
	BankName      string `dynamodbav:"bank_name,omitempty" json:"bank_name,omitempty"`
	AccountName   string `dynamodbav:"account_name,omitempty" json:"account_name,omitempty"`
	AccountNumber string `dynamodbav:"account_number,omitempty" json:"account_number,omitempty"`
}

// TimeSettings holds the time thresholds the reservation engine and order
// lifecycle manager read fresh on every operation.
type TimeSettings struct {
	SettingsID               string `dynamodbav:"settings_id" json:"-"` // PK, always "time"
	ReservationExpiryMinutes int    `dynamodbav:"reservation_expiry_minutes" json:"reservation_expiry_minutes"`
	PaymentWaitHours         int    `dynamodbav:"payment_wait_hours" json:"payment_wait_hours"`
	// AutoCancelDeclined opts declined-and-not-resubmitted orders into the
	// auto-cancel sweep. Off by default: a declined order waits for the
	// customer until an admin acts.
	AutoCancelDeclined bool `dynamodbav:"auto_cancel_declined" json:"auto_cancel_declined"`
}

// InvoiceSettings holds invoice branding.
type InvoiceSettings struct {
	SettingsID   string `dynamodbav:"settings_id" json:"-"` // PK, always "invoice"
	BusinessName string `dynamodbav:"business_name,omitempty" json:"business_name,omitempty"`
	LogoURL      string `dynamodbav:"logo_url,omitempty" json:"logo_url,omitempty"`
	FooterNote   string `dynamodbav:"footer_note,omitempty" json:"footer_note,omitempty"`
}

// Defaults applied when the settings table has no time document yet.
const (
	DefaultReservationExpiryMinutes = 30
	DefaultPaymentWaitHours         = 24
)
