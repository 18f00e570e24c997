package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brystrange/reserveflow/internal/awsx"
)

// userIndex is the GSI used for per-user order listing.
const userIndex = "user_id-index"

// counterKey is the reserved order_id holding the order-number sequence.
const counterKey = "counter#order_number"

// ErrStatusMismatch indicates a conditional payment-state transition failed;
// the order was no longer in the expected state.
var ErrStatusMismatch = errors.New("orders: status mismatch/conditional failed")

// CancelGuard selects the condition under which a cancellation is allowed.
type CancelGuard int

const (
	// GuardSubmitted: decline path, order must still be payment_submitted.
	GuardSubmitted CancelGuard = iota
	// GuardPending: auto-cancel path, order must still be pending.
	GuardPending
	// GuardNonTerminal: admin path, any state except verified/cancelled.
	GuardNonTerminal
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates an orders Store.
func NewStore(client awsx.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

func (s *Store) key(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// NextOrderNumber allocates a unique human-readable order number from an
// atomic counter item. The counter only ever moves forward, so two orders can
// never share a number.
func (s *Store) NextOrderNumber(ctx context.Context) (string, error) {
	update := "SET seq = if_not_exists(seq, :zero) + :one"
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(counterKey),
		UpdateExpression: &update,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return "", fmt.Errorf("increment order counter: %w", err)
	}
	seqAV, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("order counter returned no seq")
	}
	seq, err := strconv.ParseInt(seqAV.Value, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse order counter: %w", err)
	}
	return fmt.Sprintf("RSV-%s-%04d", s.nowFunc().Format("20060102"), seq), nil
}

// Create persists a new order together with its companion items (the
// reservation active->ordered flips) in one TransactWriteItems call. A
// partial application would let stock be double-reserved, so it is all or
// nothing by construction.
func (s *Store) Create(ctx context.Context, o Order, companions ...types.TransactWriteItem) error {
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	cond := "attribute_not_exists(order_id)"
	items := append([]types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                item,
				ConditionExpression: &cond,
			},
		},
	}, companions...)
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isTransactConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("transact create order: %w", err)
	}
	return nil
}

// AppendAttempt appends a payment attempt, guarded by the persisted attempt
// count: the condition re-derives the boundary from size(payment_attempts)
// rather than trusting the caller, so a stale client cannot push a 4th
// attempt.
func (s *Store) AppendAttempt(ctx context.Context, orderID string, attempt PaymentAttempt, expectedCount int) error {
	attAV, err := attributevalue.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	uploadedAV, err := attributevalue.Marshal(attempt.UploadedAt)
	if err != nil {
		return fmt.Errorf("marshal uploaded_at: %w", err)
	}
	update := "SET payment_attempts = list_append(payment_attempts, :att), " +
		"current_attempt = :n, payment_status = :submitted, " +
		"payment_proof_url = :url, payment_proof_uploaded_at = :ts, updated_at = :ua"
	cond := "size(payment_attempts) = :cur AND payment_status <> :verified AND payment_status <> :cancelled"
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(orderID),
		UpdateExpression:    &update,
		ConditionExpression: &cond,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":att":       &types.AttributeValueMemberL{Value: []types.AttributeValue{attAV}},
			":n":         &types.AttributeValueMemberN{Value: strconv.Itoa(attempt.AttemptNumber)},
			":submitted": &types.AttributeValueMemberS{Value: PaymentSubmitted},
			":url":       &types.AttributeValueMemberS{Value: attempt.ProofURL},
			":ts":        uploadedAV,
			":ua":        &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
			":cur":       &types.AttributeValueMemberN{Value: strconv.Itoa(expectedCount)},
			":verified":  &types.AttributeValueMemberS{Value: PaymentVerified},
			":cancelled": &types.AttributeValueMemberS{Value: PaymentCancelled},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// Verify marks the order verified/processing with the updated attempts list,
// conditioned on a proof being under review. Companions carry the
// notification.
func (s *Store) Verify(ctx context.Context, orderID string, attempts []PaymentAttempt, companions ...types.TransactWriteItem) error {
	attAV, err := attributevalue.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	update := "SET payment_attempts = :att, payment_status = :verified, order_status = :processing, verified_at = :ts, updated_at = :ua"
	cond := "payment_status = :submitted"
	items := append([]types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:           &s.tableName,
				Key:                 s.key(orderID),
				UpdateExpression:    &update,
				ConditionExpression: &cond,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":att":        attAV,
					":verified":   &types.AttributeValueMemberS{Value: PaymentVerified},
					":processing": &types.AttributeValueMemberS{Value: OrderProcessing},
					":ts":         &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
					":ua":         &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
					":submitted":  &types.AttributeValueMemberS{Value: PaymentSubmitted},
				},
			},
		},
	}, companions...)
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isTransactConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("transact verify order: %w", err)
	}
	return nil
}

// DeclineKeep records a declined attempt while leaving the order
// resubmittable: payment returns to pending, order to awaiting_payment.
func (s *Store) DeclineKeep(ctx context.Context, orderID string, attempts []PaymentAttempt, companions ...types.TransactWriteItem) error {
	attAV, err := attributevalue.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	update := "SET payment_attempts = :att, payment_status = :pending, order_status = :awaiting, updated_at = :ua"
	cond := "payment_status = :submitted"
	items := append([]types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:           &s.tableName,
				Key:                 s.key(orderID),
				UpdateExpression:    &update,
				ConditionExpression: &cond,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":att":       attAV,
					":pending":   &types.AttributeValueMemberS{Value: PaymentPending},
					":awaiting":  &types.AttributeValueMemberS{Value: OrderAwaitingPayment},
					":ua":        &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
					":submitted": &types.AttributeValueMemberS{Value: PaymentSubmitted},
				},
			},
		},
	}, companions...)
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isTransactConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("transact decline order: %w", err)
	}
	return nil
}

// Cancel terminates the order under the given guard. attempts may be nil to
// leave the attempts list untouched (admin/auto-cancel paths). Companions
// carry the per-item stock returns, reservation deletes and the notification,
// so stock reconciliation commits atomically with the cancellation.
func (s *Store) Cancel(ctx context.Context, orderID string, attempts []PaymentAttempt, reason string, guard CancelGuard, companions ...types.TransactWriteItem) error {
	update := "SET payment_status = :cancelledPS, order_status = :cancelledOS, cancellation_reason = :r, cancelled_at = :ts, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":cancelledPS": &types.AttributeValueMemberS{Value: PaymentCancelled},
		":cancelledOS": &types.AttributeValueMemberS{Value: OrderCancelled},
		":r":           &types.AttributeValueMemberS{Value: reason},
		":ts":          &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
		":ua":          &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
	}
	if attempts != nil {
		attAV, err := attributevalue.Marshal(attempts)
		if err != nil {
			return fmt.Errorf("marshal attempts: %w", err)
		}
		update += ", payment_attempts = :att"
		values[":att"] = attAV
	}

	var cond string
	switch guard {
	case GuardSubmitted:
		cond = "payment_status = :submitted"
		values[":submitted"] = &types.AttributeValueMemberS{Value: PaymentSubmitted}
	case GuardPending:
		cond = "payment_status = :pendingPS"
		values[":pendingPS"] = &types.AttributeValueMemberS{Value: PaymentPending}
	default:
		cond = "payment_status <> :verifiedPS AND payment_status <> :cancelledPS"
		values[":verifiedPS"] = &types.AttributeValueMemberS{Value: PaymentVerified}
	}

	items := append([]types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:                 &s.tableName,
				Key:                       s.key(orderID),
				UpdateExpression:          &update,
				ConditionExpression:       &cond,
				ExpressionAttributeValues: values,
			},
		},
	}, companions...)
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isTransactConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("transact cancel order: %w", err)
	}
	return nil
}

// MarkCancelWarned sets the persisted half-window warning flag, with the
// warning notification riding in the same batch. At-most-once by condition.
func (s *Store) MarkCancelWarned(ctx context.Context, orderID string, companions ...types.TransactWriteItem) error {
	update := "SET cancel_warning_notified = :t, updated_at = :ua"
	cond := "cancel_warning_notified = :f AND payment_status = :pending"
	items := append([]types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:           &s.tableName,
				Key:                 s.key(orderID),
				UpdateExpression:    &update,
				ConditionExpression: &cond,
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t":       &types.AttributeValueMemberBOOL{Value: true},
					":f":       &types.AttributeValueMemberBOOL{Value: false},
					":pending": &types.AttributeValueMemberS{Value: PaymentPending},
					":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
				},
			},
		},
	}, companions...)
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isTransactConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("transact mark cancel warned: %w", err)
	}
	return nil
}

// SetTracking records fulfillment details on a verified order.
func (s *Store) SetTracking(ctx context.Context, orderID, trackingNumber, courierName, orderStatus string) error {
	update := "SET tracking_number = :tn, courier_name = :cn, order_status = :os, updated_at = :ua"
	cond := "payment_status = :verified"
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(orderID),
		UpdateExpression:    &update,
		ConditionExpression: &cond,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tn":       &types.AttributeValueMemberS{Value: trackingNumber},
			":cn":       &types.AttributeValueMemberS{Value: courierName},
			":os":       &types.AttributeValueMemberS{Value: orderStatus},
			":ua":       &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
			":verified": &types.AttributeValueMemberS{Value: PaymentVerified},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("set tracking: %w", err)
	}
	return nil
}

// ListByPaymentStatus scans orders in one payment status (auto-cancel sweep).
func (s *Store) ListByPaymentStatus(ctx context.Context, paymentStatus string) ([]Order, error) {
	filter := "payment_status = :p AND attribute_exists(user_id)"
	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: &filter,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: paymentStatus},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	return unmarshalOrders(out.Items)
}

// ListForUser returns a user's orders, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	keyCond := "user_id = :uid"
	index := userIndex
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &index,
		KeyConditionExpression: &keyCond,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query orders by user: %w", err)
	}
	list, err := unmarshalOrders(out.Items)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func unmarshalOrders(items []map[string]types.AttributeValue) ([]Order, error) {
	list := make([]Order, 0, len(items))
	for _, item := range items {
		var o Order
		if err := attributevalue.UnmarshalMap(item, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		list = append(list, o)
	}
	return list, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func isTransactConditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return len(tce.CancellationReasons) == 0
}
