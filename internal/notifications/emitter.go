package notifications

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brystrange/reserveflow/internal/awsx"
)

// Emitter appends notification records and fans them out to SQS for
// downstream senders. The store write is authoritative; the queue publish is
// best-effort and never fails the triggering state transition.
type Emitter struct {
	store     *Store
	publisher *awsx.Publisher // nil disables fan-out
}

// NewEmitter creates an Emitter. publisher may be nil.
func NewEmitter(store *Store, publisher *awsx.Publisher) *Emitter {
	return &Emitter{store: store, publisher: publisher}
}

// Emit persists the notification and publishes it.
func (e *Emitter) Emit(ctx context.Context, n Notification) error {
	n = e.store.New(n)
	if err := e.store.Put(ctx, n); err != nil {
		return err
	}
	e.Publish(ctx, n)
	return nil
}

// BuildTx returns the filled-in notification and a transact item persisting
// it, for callers that bundle the record into an atomic batch. The caller
// should Publish after the batch commits.
func (e *Emitter) BuildTx(n Notification) (Notification, types.TransactWriteItem, error) {
	n = e.store.New(n)
	tx, err := e.store.PutTx(n)
	return n, tx, err
}

// Publish sends the notification to the fan-out queue. Failures are logged
// and swallowed.
func (e *Emitter) Publish(ctx context.Context, n Notification) {
	if e.publisher == nil {
		return
	}
	body, err := json.Marshal(n)
	if err != nil {
		log.Printf("[notify] marshal event: %v", err)
		return
	}
	attrs := map[string]string{
		"type":    n.Type,
		"user_id": n.UserID,
	}
	if err := e.publisher.SendEvent(ctx, string(body), attrs); err != nil {
		log.Printf("[notify] publish %s failed: %v", n.Type, err)
	}
}
