package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brystrange/reserveflow/internal/awsx"
)

// userIndex is the GSI used for per-user freeze/unfreeze.
const userIndex = "user_id-index"

// ErrStateMismatch indicates a conditional transition failed because the row
// was no longer in the expected state. Callers treat this as already-resolved.
var ErrStateMismatch = errors.New("reservations: state mismatch/conditional failed")

// Store encapsulates operations on the reservations table. Multi-document
// effects take companion transact items (stock adjustments, notifications) so
// the whole effect commits or nothing does.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a reservations Store.
func NewStore(client awsx.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

func (s *Store) key(reservationID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"reservation_id": &types.AttributeValueMemberS{Value: reservationID},
	}
}

// Get fetches a reservation. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, reservationID string) (*Reservation, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(reservationID),
	})
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r Reservation
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal reservation: %w", err)
	}
	return &r, nil
}

// Create persists a new reservation together with its companion items (the
// stock decrement) in one TransactWriteItems call.
func (s *Store) Create(ctx context.Context, r Reservation, companions ...types.TransactWriteItem) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}
	cond := "attribute_not_exists(reservation_id)"
	items := append(companions, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: &cond,
		},
	})
	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("transact create reservation: %w", err)
	}
	return nil
}

// DeleteActive removes an active reservation together with its companions
// (the stock return). ErrStateMismatch if the row is gone or no longer active.
func (s *Store) DeleteActive(ctx context.Context, reservationID string, companions ...types.TransactWriteItem) error {
	cond := "#s = :active"
	items := append([]types.TransactWriteItem{
		{
			Delete: &types.Delete{
				TableName:                &s.tableName,
				Key:                      s.key(reservationID),
				ConditionExpression:      &cond,
				ExpressionAttributeNames: map[string]string{"#s": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":active": &types.AttributeValueMemberS{Value: StatusActive},
				},
			},
		},
	}, companions...)
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isTransactConditionFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("transact delete reservation: %w", err)
	}
	return nil
}

// MarkExpired flips active->expired together with its companions (stock
// return, notification). The status+clock condition makes the stock return
// exactly-once: a second attempt fails the condition and returns
// ErrStateMismatch.
func (s *Store) MarkExpired(ctx context.Context, reservationID string, companions ...types.TransactWriteItem) error {
	update := "SET #s = :expired, updated_at = :ua"
	cond := "#s = :active AND clock_state = :running"
	items := append([]types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:                &s.tableName,
				Key:                      s.key(reservationID),
				UpdateExpression:         &update,
				ConditionExpression:      &cond,
				ExpressionAttributeNames: map[string]string{"#s": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":expired": &types.AttributeValueMemberS{Value: StatusExpired},
					":active":  &types.AttributeValueMemberS{Value: StatusActive},
					":running": &types.AttributeValueMemberS{Value: ClockRunning},
					":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
				},
			},
		},
	}, companions...)
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isTransactConditionFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("transact expire reservation: %w", err)
	}
	return nil
}

// MarkOrderedTx builds the transact item flipping active->ordered with an
// order back-reference, for inclusion in the order-creation batch.
func (s *Store) MarkOrderedTx(reservationID, orderID string) types.TransactWriteItem {
	update := "SET #s = :ordered, order_id = :oid, updated_at = :ua"
	cond := "#s = :active"
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &s.tableName,
			Key:                      s.key(reservationID),
			UpdateExpression:         &update,
			ConditionExpression:      &cond,
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ordered": &types.AttributeValueMemberS{Value: StatusOrdered},
				":active":  &types.AttributeValueMemberS{Value: StatusActive},
				":oid":     &types.AttributeValueMemberS{Value: orderID},
				":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
			},
		},
	}
}

// DeleteTx builds an unconditional delete for admin order cancellation.
// Deleting an absent key succeeds, so a reservation already swept away is not
// an error.
func (s *Store) DeleteTx(reservationID string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: &s.tableName,
			Key:       s.key(reservationID),
		},
	}
}

// MarkWarned sets the persisted expiry-warning dedup flag together with the
// warning notification itself. The flag condition guarantees at-most-once
// emission even across process restarts.
func (s *Store) MarkWarned(ctx context.Context, reservationID string, companions ...types.TransactWriteItem) error {
	update := "SET expiry_warning_notified = :t, updated_at = :ua"
	cond := "expiry_warning_notified = :f AND #s = :active"
	items := append([]types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName:                &s.tableName,
				Key:                      s.key(reservationID),
				UpdateExpression:         &update,
				ConditionExpression:      &cond,
				ExpressionAttributeNames: map[string]string{"#s": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t":      &types.AttributeValueMemberBOOL{Value: true},
					":f":      &types.AttributeValueMemberBOOL{Value: false},
					":active": &types.AttributeValueMemberS{Value: StatusActive},
					":ua":     &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
				},
			},
		},
	}, companions...)
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isTransactConditionFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("transact mark warned: %w", err)
	}
	return nil
}

// Freeze pins an active running reservation: persists the remaining budget
// and pushes expires_at out of the sweep's reach.
func (s *Store) Freeze(ctx context.Context, reservationID string, remainingMs int64, pinnedUntil time.Time) error {
	update := "SET clock_state = :frozen, frozen_remaining_ms = :rem, expires_at = :exp, updated_at = :ua"
	cond := "#s = :active AND clock_state = :running"
	expAV, err := attributevalue.Marshal(pinnedUntil)
	if err != nil {
		return fmt.Errorf("marshal pinned expiry: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(reservationID),
		UpdateExpression:         &update,
		ConditionExpression:      &cond,
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":frozen":  &types.AttributeValueMemberS{Value: ClockFrozen},
			":rem":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", remainingMs)},
			":exp":     expAV,
			":active":  &types.AttributeValueMemberS{Value: StatusActive},
			":running": &types.AttributeValueMemberS{Value: ClockRunning},
			":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("freeze reservation: %w", err)
	}
	return nil
}

// Unfreeze resumes the countdown from the persisted remaining budget.
func (s *Store) Unfreeze(ctx context.Context, reservationID string, newExpiresAt time.Time) error {
	update := "SET clock_state = :running, expires_at = :exp, updated_at = :ua REMOVE frozen_remaining_ms"
	cond := "#s = :active AND clock_state = :frozen"
	expAV, err := attributevalue.Marshal(newExpiresAt)
	if err != nil {
		return fmt.Errorf("marshal expiry: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(reservationID),
		UpdateExpression:         &update,
		ConditionExpression:      &cond,
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":running": &types.AttributeValueMemberS{Value: ClockRunning},
			":exp":     expAV,
			":active":  &types.AttributeValueMemberS{Value: StatusActive},
			":frozen":  &types.AttributeValueMemberS{Value: ClockFrozen},
			":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrStateMismatch
		}
		return fmt.Errorf("unfreeze reservation: %w", err)
	}
	return nil
}

// ListActive scans all active reservations for the sweep.
// TODO: move to a status GSI once row counts outgrow a filtered scan.
func (s *Store) ListActive(ctx context.Context) ([]Reservation, error) {
	filter := "#s = :active"
	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName:                &s.tableName,
		FilterExpression:         &filter,
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: StatusActive},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan active reservations: %w", err)
	}
	return unmarshalList(out.Items)
}

// ListActiveByUser queries a user's active reservations.
func (s *Store) ListActiveByUser(ctx context.Context, userID string) ([]Reservation, error) {
	keyCond := "user_id = :uid"
	filter := "#s = :active"
	index := userIndex
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                &s.tableName,
		IndexName:                &index,
		KeyConditionExpression:   &keyCond,
		FilterExpression:         &filter,
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":    &types.AttributeValueMemberS{Value: userID},
			":active": &types.AttributeValueMemberS{Value: StatusActive},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query reservations by user: %w", err)
	}
	return unmarshalList(out.Items)
}

func unmarshalList(items []map[string]types.AttributeValue) ([]Reservation, error) {
	list := make([]Reservation, 0, len(items))
	for _, item := range items {
		var r Reservation
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("unmarshal reservation: %w", err)
		}
		list = append(list, r)
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
	// Some SDK paths omit reasons; treat a canceled transaction as conditional.
	return len(tce.CancellationReasons) == 0
}
