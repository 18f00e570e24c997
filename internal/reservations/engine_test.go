package reservations

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brystrange/reserveflow/internal/awstest"
	"github.com/brystrange/reserveflow/internal/awsx"
	"github.com/brystrange/reserveflow/internal/catalog"
	"github.com/brystrange/reserveflow/internal/notifications"
	"github.com/brystrange/reserveflow/internal/settings"
)

type fixture struct {
	fake    *awstest.FakeDynamo
	sqs     *awstest.FakeSQS
	cw      *awstest.FakeCloudWatch
	engine  *Engine
	catalog *catalog.Store
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := awstest.NewFakeDynamo(map[string]string{
		"products":      "product_id",
		"collections":   "collection_id",
		"reservations":  "reservation_id",
		"notifications": "notification_id",
		"settings":      "settings_id",
	})
	sqs := awstest.NewFakeSQS()
	cw := awstest.NewFakeCloudWatch()

	catalogStore := catalog.NewStore(fake, "products", "collections")
	settingsStore := settings.NewStore(fake, "settings")
	notifStore := notifications.NewStore(fake, "notifications")
	emitter := notifications.NewEmitter(notifStore, awsx.NewPublisher(sqs, "http://queue"))
	store := NewStore(fake, "reservations")
	engine := NewEngine(store, catalogStore, settingsStore, emitter, awsx.NewMetrics(cw, "Test"))

	f := &fixture{fake: fake, sqs: sqs, cw: cw, engine: engine, catalog: catalogStore}
	f.setNow(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	if err := catalogStore.PutProduct(context.Background(), catalog.Product{
		ProductID:      "p1",
		Name:           "Linen Shirt",
		Price:          45.0,
		TotalStock:     10,
		AvailableStock: 10,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return f
}

func (f *fixture) setNow(now time.Time) {
	f.now = now
	f.engine.nowFunc = func() time.Time { return now }
	f.engine.store.nowFunc = func() time.Time { return now }
}

func (f *fixture) advance(d time.Duration) {
	f.setNow(f.now.Add(d))
}

func (f *fixture) availableStock(t *testing.T, productID string) int {
	t.Helper()
	item := f.fake.Raw("products", productID)
	if item == nil {
		t.Fatalf("product %s missing", productID)
	}
	n, ok := item["available_stock"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatalf("available_stock not a number: %#v", item["available_stock"])
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		t.Fatalf("parse available_stock: %v", err)
	}
	return v
}

func TestReserveDecrementsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Reserve(ctx, "p1", "u1", 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := f.availableStock(t, "p1"); got != 7 {
		t.Fatalf("available_stock = %d, want 7", got)
	}
	if r.Status != StatusActive || r.ClockState != ClockRunning {
		t.Fatalf("unexpected state: %s/%s", r.Status, r.ClockState)
	}
	if want := f.now.Add(30 * time.Minute); !r.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", r.ExpiresAt, want)
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Reserve(ctx, "p1", "u1", 11); !errors.Is(err, catalog.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if got := f.availableStock(t, "p1"); got != 10 {
		t.Fatalf("available_stock = %d, want 10 (untouched)", got)
	}
	if f.fake.Len("reservations") != 0 {
		t.Fatal("reservation created despite failed stock guard")
	}
}

func TestReserveUnknownProduct(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Reserve(context.Background(), "nope", "u1", 1); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelReturnsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Reserve(ctx, "p1", "u1", 4)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.engine.Cancel(ctx, r.ReservationID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.availableStock(t, "p1"); got != 10 {
		t.Fatalf("available_stock = %d, want 10", got)
	}
	if f.fake.Raw("reservations", r.ReservationID) != nil {
		t.Fatal("reservation still present after cancel")
	}

	// cancelling again is a logged no-op
	if err := f.engine.Cancel(ctx, r.ReservationID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestExpireIsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Reserve(ctx, "p1", "u1", 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := f.engine.Expire(ctx, r.ReservationID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := f.engine.Expire(ctx, r.ReservationID); err != nil {
		t.Fatalf("second expire: %v", err)
	}

	if got := f.availableStock(t, "p1"); got != 10 {
		t.Fatalf("available_stock = %d, want 10 (stock returned exactly once)", got)
	}
	if n := f.fake.Len("notifications"); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
	got, err := f.engine.store.Get(ctx, r.ReservationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if len(f.sqs.Sent()) != 1 {
		t.Fatalf("published %d events, want 1", len(f.sqs.Sent()))
	}
}

func TestFreezeUnfreezeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Reserve(ctx, "p1", "u1", 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// 90 seconds left on a 30 minute window
	f.advance(30*time.Minute - 90*time.Second)
	if err := f.engine.Freeze(ctx, "u1"); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	got, err := f.engine.store.Get(ctx, r.ReservationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ClockState != ClockFrozen {
		t.Fatalf("clock_state = %s, want frozen", got.ClockState)
	}
	if got.FrozenRemainingMs != 90000 {
		t.Fatalf("frozen_remaining_ms = %d, want 90000", got.FrozenRemainingMs)
	}

	// a frozen reservation survives any amount of wall time
	f.advance(48 * time.Hour)
	f.engine.SweepExpired(ctx)
	if got, _ := f.engine.store.Get(ctx, r.ReservationID); got.Status != StatusActive {
		t.Fatalf("frozen reservation expired by sweep: %s", got.Status)
	}

	if err := f.engine.Unfreeze(ctx, "u1"); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	got, _ = f.engine.store.Get(ctx, r.ReservationID)
	if got.ClockState != ClockRunning {
		t.Fatalf("clock_state = %s, want running", got.ClockState)
	}
	if want := f.now.Add(90 * time.Second); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", got.ExpiresAt, want)
	}
	if got.FrozenRemainingMs != 0 {
		t.Fatalf("frozen_remaining_ms = %d, want cleared", got.FrozenRemainingMs)
	}

	// freezing with no running reservations is a no-op, as is double unfreeze
	if err := f.engine.Unfreeze(ctx, "u1"); err != nil {
		t.Fatalf("second unfreeze: %v", err)
	}
}

func TestSweepExpiredReleasesLapsedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r1, err := f.engine.Reserve(ctx, "p1", "u1", 2)
	if err != nil {
		t.Fatalf("reserve r1: %v", err)
	}
	f.advance(10 * time.Minute)
	r2, err := f.engine.Reserve(ctx, "p1", "u2", 3)
	if err != nil {
		t.Fatalf("reserve r2: %v", err)
	}

	// r1 lapses at +30m, r2 at +40m
	f.advance(25 * time.Minute)
	f.engine.SweepExpired(ctx)

	got1, _ := f.engine.store.Get(ctx, r1.ReservationID)
	got2, _ := f.engine.store.Get(ctx, r2.ReservationID)
	if got1.Status != StatusExpired {
		t.Fatalf("r1 status = %s, want expired", got1.Status)
	}
	if got2.Status != StatusActive {
		t.Fatalf("r2 status = %s, want active", got2.Status)
	}
	if got := f.availableStock(t, "p1"); got != 7 {
		t.Fatalf("available_stock = %d, want 7 (only r1 returned)", got)
	}
	if f.cw.Counts["ReservationsExpired"] != 1 {
		t.Fatalf("ReservationsExpired = %v, want 1", f.cw.Counts["ReservationsExpired"])
	}
}

func TestSweepWarningsFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Reserve(ctx, "p1", "u1", 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// before the halfway point: nothing
	f.advance(10 * time.Minute)
	f.engine.SweepWarnings(ctx)
	if n := f.fake.Len("notifications"); n != 0 {
		t.Fatalf("notifications = %d, want 0 before halfway", n)
	}

	// past halfway: exactly one warning, then the flag holds
	f.advance(6 * time.Minute)
	f.engine.SweepWarnings(ctx)
	f.engine.SweepWarnings(ctx)
	if n := f.fake.Len("notifications"); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
	got, _ := f.engine.store.Get(ctx, r.ReservationID)
	if !got.ExpiryWarningNotified {
		t.Fatal("expiry_warning_notified not persisted")
	}
	if f.cw.Counts["ReservationExpiryWarnings"] != 1 {
		t.Fatalf("ReservationExpiryWarnings = %v, want 1", f.cw.Counts["ReservationExpiryWarnings"])
	}
}

func TestFrozenReservationSkipsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Reserve(ctx, "p1", "u1", 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := f.engine.Freeze(ctx, "u1"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	f.advance(20 * time.Minute)
	f.engine.SweepWarnings(ctx)
	if n := f.fake.Len("notifications"); n != 0 {
		t.Fatalf("notifications = %d, want 0 for frozen reservation", n)
	}
}
