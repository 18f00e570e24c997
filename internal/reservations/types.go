package reservations

import "time"

// Reservation statuses
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusOrdered = "ordered"
)

// Clock states. The expiry countdown is a two-state machine: either it is
// running against expires_at, or it is frozen and frozen_remaining_ms holds
// the true remaining budget. The two are mutually exclusive; expires_at is
// pinned far in the future while frozen so the value is meaningless in that
// state.
const (
	ClockRunning = "running"
	ClockFrozen  = "frozen"
)

// Reservation is a time-boxed hold on product stock for one user.
type Reservation struct {
	ReservationID         string    `dynamodbav:"reservation_id" json:"reservation_id"` // PK
	UserID                string    `dynamodbav:"user_id" json:"user_id"`               // GSI
	ProductID             string    `dynamodbav:"product_id" json:"product_id"`
	Quantity              int       `dynamodbav:"quantity" json:"quantity"` // >= 1
	Status                string    `dynamodbav:"status" json:"status"`     // active | expired | ordered
	ReservedAt            time.Time `dynamodbav:"reserved_at" json:"reserved_at"`
	ClockState            string    `dynamodbav:"clock_state" json:"clock_state"` // running | frozen
	ExpiresAt             time.Time `dynamodbav:"expires_at" json:"expires_at"`
	FrozenRemainingMs     int64     `dynamodbav:"frozen_remaining_ms,omitempty" json:"frozen_remaining_ms,omitempty"`
	WindowMs              int64     `dynamodbav:"window_ms" json:"window_ms"` // full expiry window at creation
	ExpiryWarningNotified bool      `dynamodbav:"expiry_warning_notified" json:"-"`
	OrderID               string    `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"` // set when status=ordered
	UpdatedAt             time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Remaining returns the reservation's remaining budget at now, regardless of
// clock state.
func (r Reservation) Remaining(now time.Time) time.Duration {
	switch r.ClockState {
	case ClockFrozen:
		return time.Duration(r.FrozenRemainingMs) * time.Millisecond
	default:
		d := r.ExpiresAt.Sub(now)
		if d < 0 {
			return 0
		}
		return d
	}
}

// ExpiredAt reports whether a running reservation's window has lapsed at now.
// A frozen reservation never expires.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return r.ClockState == ClockRunning && now.After(r.ExpiresAt)
}
