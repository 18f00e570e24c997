package reservations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/brystrange/reserveflow/internal/awsx"
	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/brystrange/reserveflow/internal/notifications"
	"github.com/brystrange/reserveflow/internal/settings"
	"github.com/google/uuid"
)

// frozenPinYears is how far expires_at is pushed while a reservation is
// frozen. The sweep keys off clock_state, not this timestamp; the pin only
// keeps readers that look at expires_at alone from seeing a lapsed window.
const frozenPinYears = 100

// Engine owns the reservation lifecycle: reserve, cancel, expire, freeze,
// unfreeze, and the two background sweeps. Stock accounting rides in the same
// transaction as every status change.
type Engine struct {
	store    *Store
	products *catalog.Store
	settings *settings.Store
	notifier *notifications.Emitter
	metrics  *awsx.Metrics
	nowFunc  func() time.Time

	// Local fast-path dedup: the persisted conditions are authoritative, but
	// read-after-write visibility is not instantaneous, so overlapping sweep
	// ticks are filtered here first.
	mu       sync.Mutex
	expiring map[string]struct{}
	warned   map[string]struct{}
}

// NewEngine wires a reservation Engine. metrics may be nil.
func NewEngine(store *Store, products *catalog.Store, st *settings.Store, notifier *notifications.Emitter, metrics *awsx.Metrics) *Engine {
	return &Engine{
		store:    store,
		products: products,
		settings: st,
		notifier: notifier,
		metrics:  metrics,
		nowFunc:  time.Now,
		expiring: map[string]struct{}{},
		warned:   map[string]struct{}{},
	}
}

// Store exposes the underlying store for collaborators (order creation flips
// reservation rows inside its own transaction).
func (e *Engine) Store() *Store { return e.store }

// Reserve atomically decrements product stock and creates an active
// reservation whose window comes from the current time settings.
func (e *Engine) Reserve(ctx context.Context, productID, userID string, quantity int) (*Reservation, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("reservations: quantity must be >= 1")
	}
	product, err := e.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, catalog.ErrNotFound
	}

	ts, err := e.settings.GetTime(ctx)
	if err != nil {
		return nil, err
	}
	window := time.Duration(ts.ReservationExpiryMinutes) * time.Minute

	now := e.nowFunc()
	r := Reservation{
		ReservationID:         uuid.NewString(),
		UserID:                userID,
		ProductID:             productID,
		Quantity:              quantity,
		Status:                StatusActive,
		ReservedAt:            now,
		ClockState:            ClockRunning,
		ExpiresAt:             now.Add(window),
		WindowMs:              window.Milliseconds(),
		ExpiryWarningNotified: false,
		UpdatedAt:             now,
	}

	if err := e.store.Create(ctx, r, e.products.ReserveStockTx(productID, quantity)); err != nil {
		if isTransactConditionFailed(err) {
			// Product existed a moment ago, so the failed condition is the
			// stock guard.
			return nil, catalog.ErrInsufficientStock
		}
		return nil, err
	}
	return &r, nil
}

// Cancel deletes an active reservation and returns its stock. A reservation
// or product that vanished concurrently is treated as already-resolved:
// logged, not surfaced.
func (e *Engine) Cancel(ctx context.Context, reservationID string) error {
	r, err := e.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r == nil || r.Status != StatusActive {
		log.Printf("[reservations] cancel %s: already resolved", reservationID)
		return nil
	}
	err = e.store.DeleteActive(ctx, reservationID, e.products.ReturnStockTx(r.ProductID, r.Quantity))
	if errors.Is(err, ErrStateMismatch) {
		log.Printf("[reservations] cancel %s: concurrent resolution, skipping", reservationID)
		return nil
	}
	return err
}

// Expire flips an active running reservation to expired, returns its stock
// and notifies the owner in one batch. Safe to call twice: the second call
// hits the status condition and becomes a no-op.
func (e *Engine) Expire(ctx context.Context, reservationID string) error {
	r, err := e.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r == nil || r.Status != StatusActive {
		return nil
	}

	n, notifTx, err := e.notifier.BuildTx(notifications.Notification{
		UserID:        r.UserID,
		Type:          notifications.TypeReservationExpired,
		Title:         "Reservation expired",
		Message:       fmt.Sprintf("Your reservation for %d item(s) has expired and the stock was released.", r.Quantity),
		ReservationID: r.ReservationID,
	})
	if err != nil {
		return err
	}

	err = e.store.MarkExpired(ctx, reservationID,
		e.products.ReturnStockTx(r.ProductID, r.Quantity),
		notifTx,
	)
	if errors.Is(err, ErrStateMismatch) {
		return nil
	}
	if err != nil {
		return err
	}
	e.notifier.Publish(ctx, n)
	return nil
}

// Freeze pins every active reservation owned by userID, persisting each
// row's true remaining budget. Idempotent per row; best-effort overall.
func (e *Engine) Freeze(ctx context.Context, userID string) error {
	list, err := e.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	now := e.nowFunc()
	pinned := now.AddDate(frozenPinYears, 0, 0)
	var lastErr error
	for _, r := range list {
		if r.ClockState != ClockRunning {
			continue
		}
		remaining := r.ExpiresAt.Sub(now).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		err := e.store.Freeze(ctx, r.ReservationID, remaining, pinned)
		if errors.Is(err, ErrStateMismatch) {
			continue
		}
		if err != nil {
			log.Printf("[reservations] freeze %s: %v", r.ReservationID, err)
			lastErr = err
		}
	}
	return lastErr
}

// Unfreeze resumes every frozen reservation owned by userID from its
// persisted remaining budget. The persisted frozen_remaining_ms is the source
// of truth, so this is correct even after a client reload mid-freeze.
func (e *Engine) Unfreeze(ctx context.Context, userID string) error {
	list, err := e.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	now := e.nowFunc()
	var lastErr error
	for _, r := range list {
		if r.ClockState != ClockFrozen {
			continue
		}
		newExpiry := now.Add(time.Duration(r.FrozenRemainingMs) * time.Millisecond)
		err := e.store.Unfreeze(ctx, r.ReservationID, newExpiry)
		if errors.Is(err, ErrStateMismatch) {
			continue
		}
		if err != nil {
			log.Printf("[reservations] unfreeze %s: %v", r.ReservationID, err)
			lastErr = err
		}
	}
	return lastErr
}

// SweepExpired processes every lapsed running reservation. Errors on a single
// row are logged and skipped; the sweep never aborts mid-pass.
func (e *Engine) SweepExpired(ctx context.Context) {
	list, err := e.store.ListActive(ctx)
	if err != nil {
		log.Printf("[expiry-sweep] list: %v", err)
		return
	}
	now := e.nowFunc()
	expired := 0
	for _, r := range list {
		if !r.ExpiredAt(now) {
			continue
		}
		if !e.claim(e.expiring, r.ReservationID) {
			continue
		}
		err := e.Expire(ctx, r.ReservationID)
		e.release(e.expiring, r.ReservationID)
		if err != nil {
			log.Printf("[expiry-sweep] expire %s: %v", r.ReservationID, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Printf("[expiry-sweep] expired %d reservation(s)", expired)
		e.metrics.Count(ctx, "ReservationsExpired", float64(expired))
	}
}

// SweepWarnings emits the one-shot halfway warning for active running
// reservations. Gated by the persisted flag plus the local warned set.
func (e *Engine) SweepWarnings(ctx context.Context) {
	list, err := e.store.ListActive(ctx)
	if err != nil {
		log.Printf("[warning-sweep] list: %v", err)
		return
	}
	now := e.nowFunc()
	sent := 0
	for _, r := range list {
		if r.ClockState != ClockRunning || r.ExpiryWarningNotified {
			continue
		}
		elapsed := now.Sub(r.ReservedAt)
		if r.WindowMs <= 0 || elapsed.Milliseconds()*2 <= r.WindowMs {
			continue
		}
		if !e.claim(e.warned, r.ReservationID) {
			continue
		}
		n, notifTx, err := e.notifier.BuildTx(notifications.Notification{
			UserID:        r.UserID,
			Type:          notifications.TypeReservationExpiryWarning,
			Title:         "Reservation expiring soon",
			Message:       fmt.Sprintf("Your reservation expires in %s. Complete checkout to keep it.", r.Remaining(now).Round(time.Second)),
			ReservationID: r.ReservationID,
		})
		if err != nil {
			e.release(e.warned, r.ReservationID)
			log.Printf("[warning-sweep] build %s: %v", r.ReservationID, err)
			continue
		}
		err = e.store.MarkWarned(ctx, r.ReservationID, notifTx)
		if errors.Is(err, ErrStateMismatch) {
			// Another tick or process won; keep the local marker.
			continue
		}
		if err != nil {
			e.release(e.warned, r.ReservationID)
			log.Printf("[warning-sweep] mark %s: %v", r.ReservationID, err)
			continue
		}
		e.notifier.Publish(ctx, n)
		sent++
	}
	if sent > 0 {
		e.metrics.Count(ctx, "ReservationExpiryWarnings", float64(sent))
	}
}

func (e *Engine) claim(set map[string]struct{}, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	return true
}

func (e *Engine) release(set map[string]struct{}, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(set, id)
}
