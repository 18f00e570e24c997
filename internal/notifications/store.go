package notifications

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brystrange/reserveflow/internal/awsx"
	"github.com/google/uuid"
)

// userIndex is the GSI used for per-user listing.
const userIndex = "user_id-index"

// Store encapsulates operations on the notifications table.
type Store struct {
	client  awsx.DynamoDBAPI
	table   string
	nowFunc func() time.Time
}

// NewStore creates a notifications Store.
func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table, nowFunc: time.Now}
}

// New fills in id and timestamp for a notification about to be persisted.
func (s *Store) New(n Notification) Notification {
	n.NotificationID = uuid.NewString()
	n.CreatedAt = s.nowFunc()
	return n
}

// Put appends a notification.
func (s *Store) Put(ctx context.Context, n Notification) error {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.table,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put notification: %w", err)
	}
	return nil
}

// PutTx builds a transact item appending the notification, so the record can
// ride in the same atomic batch as the state transition it describes.
func (s *Store) PutTx(n Notification) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal notification: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName: &s.table,
			Item:      item,
		},
	}, nil
}

// ListForUser returns a user's notifications, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Notification, error) {
	keyCond := "user_id = :uid"
	index := userIndex
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.table,
		IndexName:              &index,
		KeyConditionExpression: &keyCond,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	list := make([]Notification, 0, len(out.Items))
	for _, item := range out.Items {
		var n Notification
		if err := attributevalue.UnmarshalMap(item, &n); err != nil {
			return nil, fmt.Errorf("unmarshal notification: %w", err)
		}
		list = append(list, n)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// MarkRead flips the read flag.
func (s *Store) MarkRead(ctx context.Context, notificationID string) error {
	update := "SET #r = :true"
	if _, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"notification_id": &types.AttributeValueMemberS{Value: notificationID},
		},
		UpdateExpression:         &update,
		ExpressionAttributeNames: map[string]string{"#r": "read"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	}); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
