package settings

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

// ErrOffline indicates the pre-flight connectivity check failed; the admin
// mutation was not attempted.
var ErrOffline = errors.New("settings: store unreachable")

// pingTimeout bounds the pre-flight check so an unreachable store fails fast.
const pingTimeout = 3 * time.Second

// Store reads and writes the settings table. Readers always fetch fresh;
// nothing here is cached.
type Store struct {
	client awsx.DynamoDBAPI
	table  string
}

// NewStore creates a settings Store.
func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) get(ctx context.Context, docID string, out interface{}) (bool, error) {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"settings_id": &types.AttributeValueMemberS{Value: docID},
		},
	})
	if err != nil {
		return false, fmt.Errorf("get settings %s: %w", docID, err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal settings %s: %w", docID, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, doc interface{}) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.table,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

// GetTime returns the current time settings, falling back to defaults when
// the document has not been created yet.
func (s *Store) GetTime(ctx context.Context) (TimeSettings, error) {
	ts := TimeSettings{
		SettingsID:               DocTime,
		ReservationExpiryMinutes: DefaultReservationExpiryMinutes,
		PaymentWaitHours:         DefaultPaymentWaitHours,
	}
	found, err := s.get(ctx, DocTime, &ts)
	if err != nil {
		return ts, err
	}
	if !found {
		return TimeSettings{
			SettingsID:               DocTime,
			ReservationExpiryMinutes: DefaultReservationExpiryMinutes,
			PaymentWaitHours:         DefaultPaymentWaitHours,
		}, nil
	}
	if ts.ReservationExpiryMinutes <= 0 {
		ts.ReservationExpiryMinutes = DefaultReservationExpiryMinutes
	}
	if ts.PaymentWaitHours <= 0 {
		ts.PaymentWaitHours = DefaultPaymentWaitHours
	}
	return ts, nil
}

// GetPayment returns the payment instructions document.
func (s *Store) GetPayment(ctx context.Context) (PaymentSettings, error) {
	ps := PaymentSettings{SettingsID: DocPayment}
	_, err := s.get(ctx, DocPayment, &ps)
	return ps, err
}

// GetInvoice returns the invoice branding document.
func (s *Store) GetInvoice(ctx context.Context) (InvoiceSettings, error) {
	is := InvoiceSettings{SettingsID: DocInvoice}
	_, err := s.get(ctx, DocInvoice, &is)
	return is, err
}

// Ping performs a bounded read to verify the store is reachable before an
// admin mutation. Returns ErrOffline on any failure.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"settings_id": &types.AttributeValueMemberS{Value: DocTime},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	return nil
}

// UpdateTime replaces the time settings after a connectivity pre-check.
func (s *Store) UpdateTime(ctx context.Context, ts TimeSettings) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	ts.SettingsID = DocTime
	return s.put(ctx, ts)
}

// UpdatePayment replaces the payment settings after a connectivity pre-check.
func (s *Store) UpdatePayment(ctx context.Context, ps PaymentSettings) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	ps.SettingsID = DocPayment
	return s.put(ctx, ps)
}

// UpdateInvoice replaces the invoice settings after a connectivity pre-check.
func (s *Store) UpdateInvoice(ctx context.Context, is InvoiceSettings) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	is.SettingsID = DocInvoice
	return s.put(ctx, is)
}
