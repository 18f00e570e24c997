package notifications

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/brystrange/reserveflow/internal/awstest"
	"github.com/brystrange/reserveflow/internal/awsx"
)

func newEmitter(sqs *awstest.FakeSQS) (*Emitter, *Store, *awstest.FakeDynamo) {
	fake := awstest.NewFakeDynamo(map[string]string{"notifications": "notification_id"})
	store := NewStore(fake, "notifications")
	var publisher *awsx.Publisher
	if sqs != nil {
		publisher = awsx.NewPublisher(sqs, "http://queue")
	}
	return NewEmitter(store, publisher), store, fake
}

func TestEmitPersistsAndPublishes(t *testing.T) {
	sqs := awstest.NewFakeSQS()
	emitter, store, fake := newEmitter(sqs)
	ctx := context.Background()

	err := emitter.Emit(ctx, Notification{
		UserID:  "u1",
		Type:    TypePaymentVerified,
		Title:   "Payment verified",
		Message: "Order RSV-20250601-0001 is paid.",
		OrderID: "o1",
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if fake.Len("notifications") != 1 {
		t.Fatalf("stored %d, want 1", fake.Len("notifications"))
	}
	sent := sqs.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0], TypePaymentVerified) {
		t.Fatalf("published = %v", sent)
	}

	list, err := store.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].NotificationID == "" || list[0].Read {
		t.Fatalf("list = %+v", list)
	}
}

func TestEmitSurvivesPublishFailure(t *testing.T) {
	sqs := awstest.NewFakeSQS()
	sqs.Err = context.DeadlineExceeded
	emitter, _, fake := newEmitter(sqs)

	if err := emitter.Emit(context.Background(), Notification{UserID: "u1", Type: TypeOrderCancelled}); err != nil {
		t.Fatalf("emit should swallow publish failure, got %v", err)
	}
	if fake.Len("notifications") != 1 {
		t.Fatal("store write should still happen")
	}
}

func TestListForUserNewestFirst(t *testing.T) {
	emitter, store, _ := newEmitter(nil)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		store.nowFunc = func() time.Time { return ts }
		if err := emitter.Emit(ctx, Notification{UserID: "u1", Type: TypeReservationExpired, Title: ts.String()}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	// another user's rows never leak in
	if err := emitter.Emit(ctx, Notification{UserID: "u2", Type: TypeReservationExpired}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	list, err := store.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatalf("not sorted newest first: %v", list)
		}
	}
}

func TestMarkRead(t *testing.T) {
	emitter, store, _ := newEmitter(nil)
	ctx := context.Background()

	if err := emitter.Emit(ctx, Notification{UserID: "u1", Type: TypeOrderCancelWarning}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	list, _ := store.ListForUser(ctx, "u1")
	if err := store.MarkRead(ctx, list[0].NotificationID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	list, _ = store.ListForUser(ctx, "u1")
	if !list[0].Read {
		t.Fatal("read flag not set")
	}
}
