package settings

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/brystrange/reserveflow/internal/awstest"
	"github.com/brystrange/reserveflow/internal/awsx"
)

func newStore() (*Store, *awstest.FakeDynamo) {
	fake := awstest.NewFakeDynamo(map[string]string{"settings": "settings_id"})
	return NewStore(fake, "settings"), fake
}

func TestGetTimeDefaults(t *testing.T) {
	s, _ := newStore()
	ts, err := s.GetTime(context.Background())
	if err != nil {
		t.Fatalf("get time: %v", err)
	}
	if ts.ReservationExpiryMinutes != DefaultReservationExpiryMinutes {
		t.Fatalf("reservation_expiry_minutes = %d, want %d", ts.ReservationExpiryMinutes, DefaultReservationExpiryMinutes)
	}
	if ts.PaymentWaitHours != DefaultPaymentWaitHours {
		t.Fatalf("payment_wait_hours = %d, want %d", ts.PaymentWaitHours, DefaultPaymentWaitHours)
	}
	if ts.AutoCancelDeclined {
		t.Fatal("auto_cancel_declined should default to false")
	}
}

func TestUpdateTimeRoundTrip(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	in := TimeSettings{ReservationExpiryMinutes: 45, PaymentWaitHours: 12, AutoCancelDeclined: true}
	if err := s.UpdateTime(ctx, in); err != nil {
		t.Fatalf("update time: %v", err)
	}
	out, err := s.GetTime(ctx)
	if err != nil {
		t.Fatalf("get time: %v", err)
	}
	if out.ReservationExpiryMinutes != 45 || out.PaymentWaitHours != 12 || !out.AutoCancelDeclined {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestGetTimeSanitizesBadValues(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	if err := s.UpdateTime(ctx, TimeSettings{ReservationExpiryMinutes: 0, PaymentWaitHours: -1}); err != nil {
		t.Fatalf("update time: %v", err)
	}
	out, err := s.GetTime(ctx)
	if err != nil {
		t.Fatalf("get time: %v", err)
	}
	if out.ReservationExpiryMinutes != DefaultReservationExpiryMinutes || out.PaymentWaitHours != DefaultPaymentWaitHours {
		t.Fatalf("bad values not sanitized: %+v", out)
	}
}

func TestPaymentAndInvoiceRoundTrip(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	if err := s.UpdatePayment(ctx, PaymentSettings{BankName: "BDO", AccountName: "Shop", AccountNumber: "001122"}); err != nil {
		t.Fatalf("update payment: %v", err)
	}
	ps, err := s.GetPayment(ctx)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if ps.BankName != "BDO" || ps.AccountNumber != "001122" {
		t.Fatalf("payment mismatch: %+v", ps)
	}

	if err := s.UpdateInvoice(ctx, InvoiceSettings{BusinessName: "Bry's Picks"}); err != nil {
		t.Fatalf("update invoice: %v", err)
	}
	is, err := s.GetInvoice(ctx)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if is.BusinessName != "Bry's Picks" {
		t.Fatalf("invoice mismatch: %+v", is)
	}
}

// failingDynamo simulates an unreachable store.
type failingDynamo struct {
	awsx.DynamoDBAPI
}

func (f failingDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	return nil, errors.New("network down")
}

func TestUpdateFailsOffline(t *testing.T) {
	fake := awstest.NewFakeDynamo(map[string]string{"settings": "settings_id"})
	s := NewStore(failingDynamo{fake}, "settings")

	err := s.UpdateTime(context.Background(), TimeSettings{ReservationExpiryMinutes: 45, PaymentWaitHours: 12})
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	// nothing written
	if fake.Len("settings") != 0 {
		t.Fatal("settings written despite failed pre-flight")
	}
}
