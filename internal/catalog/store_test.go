package catalog

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/brystrange/reserveflow/internal/awstest"
)

func newStore() (*Store, *awstest.FakeDynamo) {
	fake := awstest.NewFakeDynamo(map[string]string{
		"products":    "product_id",
		"collections": "collection_id",
	})
	return NewStore(fake, "products", "collections"), fake
}

func TestGetProductMissing(t *testing.T) {
	s, _ := newStore()
	p, err := s.GetProduct(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p != nil {
		t.Fatalf("p = %+v, want nil", p)
	}
}

func TestPutAndListProducts(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	if err := s.PutProduct(ctx, Product{ProductID: "p1", Name: "Shirt", Price: 45, TotalStock: 5, AvailableStock: 5, CollectionID: "c1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutProduct(ctx, Product{ProductID: "p2", Name: "Skirt", Price: 60, TotalStock: 3, AvailableStock: 3}); err != nil {
		t.Fatalf("put: %v", err)
	}

	all, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	byCol, err := s.ListByCollection(ctx, "c1")
	if err != nil {
		t.Fatalf("list by collection: %v", err)
	}
	if len(byCol) != 1 || byCol[0].ProductID != "p1" {
		t.Fatalf("byCol = %+v", byCol)
	}
}

func TestReserveStockTxGuardsAvailability(t *testing.T) {
	s, fake := newStore()
	ctx := context.Background()

	if err := s.PutProduct(ctx, Product{ProductID: "p1", Name: "Shirt", Price: 45, TotalStock: 2, AvailableStock: 2}); err != nil {
		t.Fatalf("put: %v", err)
	}

	apply := func(item types.TransactWriteItem) error {
		_, err := fake.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{item},
		})
		return err
	}

	if err := apply(s.ReserveStockTx("p1", 2)); err != nil {
		t.Fatalf("reserve within stock: %v", err)
	}

	// stock exhausted: the condition must reject the write
	err := apply(s.ReserveStockTx("p1", 1))
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		t.Fatalf("err = %v, want TransactionCanceledException", err)
	}

	if err := apply(s.ReturnStockTx("p1", 2)); err != nil {
		t.Fatalf("return stock: %v", err)
	}
	p, _ := s.GetProduct(ctx, "p1")
	if p.AvailableStock != 2 {
		t.Fatalf("available_stock = %d, want 2", p.AvailableStock)
	}

	// returning stock for a vanished product fails the existence condition
	err = apply(s.ReturnStockTx("ghost", 1))
	if !errors.As(err, &tce) {
		t.Fatalf("err = %v, want TransactionCanceledException", err)
	}
}
