package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brystrange/reserveflow/internal/awsx"
	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/brystrange/reserveflow/internal/notifications"
	"github.com/brystrange/reserveflow/internal/reservations"
	"github.com/brystrange/reserveflow/internal/settings"
	"github.com/google/uuid"
)

// ErrNotFound indicates a missing order.
var ErrNotFound = errors.New("orders: not found")

// ErrAlreadyTerminal indicates an action against a verified or cancelled order.
var ErrAlreadyTerminal = errors.New("orders: order is already verified or cancelled")

// ErrAttemptLimitExceeded indicates a 4th proof submission.
var ErrAttemptLimitExceeded = errors.New("orders: payment attempt limit exceeded")

// ErrNoProofUnderReview indicates verify/decline was called while no
// submitted proof is awaiting review.
var ErrNoProofUnderReview = errors.New("orders: no payment proof under review")

// ErrReservationUnavailable indicates order creation referenced a reservation
// that is missing, not owned by the caller, or no longer active.
var ErrReservationUnavailable = errors.New("orders: reservation unavailable")

// autoCancelReason is recorded when the wait window lapses with no proof.
const autoCancelReason = "no payment proof within the payment window"

// Manager drives the order lifecycle: creation from reservations, the
// bounded payment-proof attempt cycle, cancellation paths and the auto-cancel
// sweep. Stock reconciliation rides in the same transaction as every
// terminal transition.
type Manager struct {
	store        *Store
	reservations *reservations.Store
	products     *catalog.Store
	settings     *settings.Store
	notifier     *notifications.Emitter
	uploader     *awsx.Uploader
	metrics      *awsx.Metrics
	nowFunc      func() time.Time

	mu         sync.Mutex
	cancelling map[string]struct{}
	warned     map[string]struct{}
}

// NewManager wires an order lifecycle Manager. metrics may be nil.
func NewManager(store *Store, res *reservations.Store, products *catalog.Store, st *settings.Store, notifier *notifications.Emitter, uploader *awsx.Uploader, metrics *awsx.Metrics) *Manager {
	return &Manager{
		store:        store,
		reservations: res,
		products:     products,
		settings:     st,
		notifier:     notifier,
		uploader:     uploader,
		metrics:      metrics,
		nowFunc:      time.Now,
		cancelling:   map[string]struct{}{},
		warned:       map[string]struct{}{},
	}
}

// Store exposes the underlying store for read-only handler paths.
func (m *Manager) Store() *Store { return m.store }

// CreateOrder converts the user's active reservations into an order. The
// order put and every reservation active->ordered flip commit as one batch;
// stock transfers to the order rather than being returned.
func (m *Manager) CreateOrder(ctx context.Context, userID string, reservationIDs []string, shipping ShippingDetails) (*Order, error) {
	if len(reservationIDs) == 0 {
		return nil, fmt.Errorf("orders: no reservations given")
	}

	items := make([]OrderItem, 0, len(reservationIDs))
	total := 0.0
	for _, resID := range reservationIDs {
		r, err := m.reservations.Get(ctx, resID)
		if err != nil {
			return nil, err
		}
		if r == nil || r.UserID != userID || r.Status != reservations.StatusActive {
			return nil, fmt.Errorf("%w: %s", ErrReservationUnavailable, resID)
		}
		p, err := m.products.GetProduct(ctx, r.ProductID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: product %s", ErrReservationUnavailable, r.ProductID)
		}
		line := OrderItem{
			ProductID:     r.ProductID,
			ReservationID: r.ReservationID,
			Quantity:      r.Quantity,
			UnitPrice:     p.Price,
			TotalPrice:    p.Price * float64(r.Quantity),
		}
		items = append(items, line)
		total += line.TotalPrice
	}

	orderNumber, err := m.store.NextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	now := m.nowFunc()
	o := Order{
		OrderID:         uuid.NewString(),
		UserID:          userID,
		OrderNumber:     orderNumber,
		Items:           items,
		TotalAmount:     total,
		Shipping:        shipping,
		PaymentStatus:   PaymentPending,
		OrderStatus:     OrderPending,
		PaymentAttempts: []PaymentAttempt{},
		CurrentAttempt:  0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	flips := make([]types.TransactWriteItem, 0, len(items))
	for _, it := range items {
		flips = append(flips, m.reservations.MarkOrderedTx(it.ReservationID, o.OrderID))
	}
	if err := m.store.Create(ctx, o, flips...); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			// A reservation flipped or expired between validation and commit.
			return nil, ErrReservationUnavailable
		}
		return nil, err
	}
	return &o, nil
}

// SubmitPaymentProof uploads the proof image and appends a payment attempt.
// The 3-attempt boundary is re-derived from the persisted attempts list both
// before the upload and inside the write condition.
func (m *Manager) SubmitPaymentProof(ctx context.Context, orderID string, proof []byte, contentType string) (*PaymentAttempt, error) {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNotFound
	}
	if o.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	count := len(o.PaymentAttempts)
	if count >= MaxPaymentAttempts {
		return nil, ErrAttemptLimitExceeded
	}

	url, err := m.uploader.UploadProof(ctx, orderID, count+1, proof, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload proof: %w", err)
	}

	attempt := PaymentAttempt{
		AttemptNumber: count + 1,
		ProofURL:      url,
		UploadedAt:    m.nowFunc(),
		Status:        AttemptPending,
	}
	err = m.store.AppendAttempt(ctx, orderID, attempt, count)
	if errors.Is(err, ErrStatusMismatch) {
		// Re-fetch to report the precise reason, as a competing writer moved
		// the order underneath us.
		o2, gerr := m.store.Get(ctx, orderID)
		if gerr == nil && o2 != nil && o2.Terminal() {
			return nil, ErrAlreadyTerminal
		}
		return nil, ErrAttemptLimitExceeded
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// VerifyPayment approves the most recent attempt and locks the order into
// verified/processing. Irreversible.
func (m *Manager) VerifyPayment(ctx context.Context, orderID string) error {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrNotFound
	}
	if o.Terminal() {
		return ErrAlreadyTerminal
	}
	if o.PaymentStatus != PaymentSubmitted || len(o.PaymentAttempts) == 0 {
		return ErrNoProofUnderReview
	}

	now := m.nowFunc()
	attempts := append([]PaymentAttempt{}, o.PaymentAttempts...)
	last := &attempts[len(attempts)-1]
	last.Status = AttemptApproved
	last.ApprovedAt = &now

	n, notifTx, err := m.notifier.BuildTx(notifications.Notification{
		UserID:  o.UserID,
		Type:    notifications.TypePaymentVerified,
		Title:   "Payment verified",
		Message: fmt.Sprintf("Payment for order %s has been verified. We are preparing your items.", o.OrderNumber),
		OrderID: o.OrderID,
	})
	if err != nil {
		return err
	}
	if err := m.store.Verify(ctx, orderID, attempts, notifTx); err != nil {
		return err
	}
	m.notifier.Publish(ctx, n)
	return nil
}

// DeclinePayment rejects the most recent attempt. Below the attempt cap the
// order returns to a resubmittable state; on the 3rd decline the order is
// cancelled and all item stock returns, exactly once.
func (m *Manager) DeclinePayment(ctx context.Context, orderID, note string) error {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrNotFound
	}
	if o.Terminal() {
		return ErrAlreadyTerminal
	}
	if o.PaymentStatus != PaymentSubmitted || len(o.PaymentAttempts) == 0 {
		return ErrNoProofUnderReview
	}

	now := m.nowFunc()
	attempts := append([]PaymentAttempt{}, o.PaymentAttempts...)
	last := &attempts[len(attempts)-1]
	last.Status = AttemptDeclined
	last.DeclinedAt = &now
	last.Note = note

	if len(attempts) < MaxPaymentAttempts {
		remaining := MaxPaymentAttempts - len(attempts)
		n, notifTx, err := m.notifier.BuildTx(notifications.Notification{
			UserID:  o.UserID,
			Type:    notifications.TypePaymentDeclined,
			Title:   "Payment proof declined",
			Message: fmt.Sprintf("Your payment proof for order %s was declined. You have %d attempt(s) remaining.", o.OrderNumber, remaining),
			OrderID: o.OrderID,
		})
		if err != nil {
			return err
		}
		if err := m.store.DeclineKeep(ctx, orderID, attempts, notifTx); err != nil {
			return err
		}
		m.notifier.Publish(ctx, n)
		return nil
	}

	// Terminal failure path of the attempt state machine.
	reason := "payment declined after 3 attempts"
	return m.cancelWithStock(ctx, o, attempts, reason, GuardSubmitted, nil)
}

// AdminCancel unconditionally cancels any non-terminal order: stock returns
// for every item, surviving reservations are deleted, and the customer is
// notified. A reservation already removed by a prior sweep is not an error.
func (m *Manager) AdminCancel(ctx context.Context, orderID, reason string) error {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrNotFound
	}
	if o.Terminal() {
		return ErrAlreadyTerminal
	}

	deletes := make([]types.TransactWriteItem, 0, len(o.Items))
	for _, it := range o.Items {
		deletes = append(deletes, m.reservations.DeleteTx(it.ReservationID))
	}
	return m.cancelWithStock(ctx, o, nil, reason, GuardNonTerminal, deletes)
}

// cancelWithStock performs the shared cancel transaction: order update, stock
// return per item, optional extra items, notification. Products that vanished
// are skipped (already-reconciled), never an error.
func (m *Manager) cancelWithStock(ctx context.Context, o *Order, attempts []PaymentAttempt, reason string, guard CancelGuard, extra []types.TransactWriteItem) error {
	companions := make([]types.TransactWriteItem, 0, len(o.Items)+len(extra)+1)
	for _, it := range o.Items {
		p, err := m.products.GetProduct(ctx, it.ProductID)
		if err != nil {
			return err
		}
		if p == nil {
			log.Printf("[orders] cancel %s: product %s missing, skipping stock return", o.OrderID, it.ProductID)
			continue
		}
		companions = append(companions, m.products.ReturnStockTx(it.ProductID, it.Quantity))
	}
	companions = append(companions, extra...)

	n, notifTx, err := m.notifier.BuildTx(notifications.Notification{
		UserID:  o.UserID,
		Type:    notifications.TypeOrderCancelled,
		Title:   "Order cancelled",
		Message: fmt.Sprintf("Order %s was cancelled: %s", o.OrderNumber, reason),
		OrderID: o.OrderID,
	})
	if err != nil {
		return err
	}
	companions = append(companions, notifTx)

	if err := m.store.Cancel(ctx, o.OrderID, attempts, reason, guard, companions...); err != nil {
		return err
	}
	m.notifier.Publish(ctx, n)
	return nil
}

// SweepAutoCancel cancels stale unpaid orders and emits the one-shot
// half-window warning. Time thresholds are read fresh each pass. Declined
// orders awaiting resubmission are exempt unless AutoCancelDeclined is set.
func (m *Manager) SweepAutoCancel(ctx context.Context) {
	ts, err := m.settings.GetTime(ctx)
	if err != nil {
		log.Printf("[autocancel-sweep] settings: %v", err)
		return
	}
	wait := time.Duration(ts.PaymentWaitHours) * time.Hour

	list, err := m.store.ListByPaymentStatus(ctx, PaymentPending)
	if err != nil {
		log.Printf("[autocancel-sweep] list: %v", err)
		return
	}

	now := m.nowFunc()
	cancelled, warnings := 0, 0
	for i := range list {
		o := list[i]
		neverSubmitted := len(o.PaymentAttempts) == 0
		declinedIdle := o.OrderStatus == OrderAwaitingPayment
		if !neverSubmitted && !(declinedIdle && ts.AutoCancelDeclined) {
			continue
		}
		age := now.Sub(o.CreatedAt)

		switch {
		case age > wait:
			if !m.claim(m.cancelling, o.OrderID) {
				continue
			}
			err := m.autoCancelOne(ctx, o.OrderID)
			m.release(m.cancelling, o.OrderID)
			if err != nil {
				log.Printf("[autocancel-sweep] cancel %s: %v", o.OrderID, err)
				continue
			}
			cancelled++
		case age*2 > wait && !o.CancelWarningNotified:
			if !m.claim(m.warned, o.OrderID) {
				continue
			}
			if err := m.warnOne(ctx, o, wait-age); err != nil {
				if !errors.Is(err, ErrStatusMismatch) {
					m.release(m.warned, o.OrderID)
					log.Printf("[autocancel-sweep] warn %s: %v", o.OrderID, err)
				}
				continue
			}
			warnings++
		}
	}
	if cancelled > 0 {
		log.Printf("[autocancel-sweep] cancelled %d order(s)", cancelled)
		m.metrics.Count(ctx, "OrdersAutoCancelled", float64(cancelled))
	}
	if warnings > 0 {
		m.metrics.Count(ctx, "OrderCancelWarnings", float64(warnings))
	}
}

// autoCancelOne re-fetches the order from the authoritative store first and
// skips it if a concurrent writer already resolved it.
func (m *Manager) autoCancelOne(ctx context.Context, orderID string) error {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil || o.PaymentStatus != PaymentPending {
		return nil
	}
	err = m.cancelWithStock(ctx, o, nil, autoCancelReason, GuardPending, nil)
	if errors.Is(err, ErrStatusMismatch) {
		return nil
	}
	return err
}

func (m *Manager) warnOne(ctx context.Context, o Order, remaining time.Duration) error {
	n, notifTx, err := m.notifier.BuildTx(notifications.Notification{
		UserID:  o.UserID,
		Type:    notifications.TypeOrderCancelWarning,
		Title:   "Payment reminder",
		Message: fmt.Sprintf("Order %s will be cancelled in %s unless payment proof is uploaded.", o.OrderNumber, remaining.Round(time.Minute)),
		OrderID: o.OrderID,
	})
	if err != nil {
		return err
	}
	if err := m.store.MarkCancelWarned(ctx, o.OrderID, notifTx); err != nil {
		return err
	}
	m.notifier.Publish(ctx, n)
	return nil
}

func (m *Manager) claim(set map[string]struct{}, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	return true
}

func (m *Manager) release(set map[string]struct{}, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(set, id)
}
