package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/brystrange/reserveflow/internal/awstest"
)

func newStore() *Store {
	fake := awstest.NewFakeDynamo(map[string]string{"idempotency": "idempotency_key"})
	return NewStore(fake, "idempotency", 48*time.Hour)
}

func TestCreateIfNotExists(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	created, err := s.CreateIfNotExists(ctx, "key-1", "order-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("first create should report created=true")
	}

	created, err = s.CreateIfNotExists(ctx, "key-1", "order-2")
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Fatal("duplicate create should report created=false")
	}

	rec, err := s.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.OrderID != "order-1" || rec.Status != StatusInProgress {
		t.Fatalf("record = %+v", rec)
	}
	if rec.ExpiresAt == 0 {
		t.Fatal("ttl not set")
	}
}

func TestGetMissing(t *testing.T) {
	s := newStore()
	rec, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("record = %+v, want nil", rec)
	}
}

func TestMarkDoneStoresResponse(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	if _, err := s.CreateIfNotExists(ctx, "key-1", "order-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkDone(ctx, "key-1", `{"order_id":"order-1"}`, http.StatusCreated); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	rec, _ := s.Get(ctx, "key-1")
	if rec.Status != StatusDone || rec.ResponseStatus != http.StatusCreated || rec.ResponseBody == "" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestMarkFailedKeepsNote(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	if _, err := s.CreateIfNotExists(ctx, "key-1", "order-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.MarkFailed(ctx, "key-1", "enqueue_failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	rec, _ := s.Get(ctx, "key-1")
	if rec.Status != StatusFailed || rec.Note != "enqueue_failed" {
		t.Fatalf("record = %+v", rec)
	}
}
