package catalog

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

// ErrNotFound indicates a missing product or collection.
var ErrNotFound = errors.New("catalog: not found")

// ErrInsufficientStock indicates available stock is below the requested quantity.
var ErrInsufficientStock = errors.New("catalog: insufficient stock")

// Store encapsulates operations on the products and collections tables.
type Store struct {
	client           awsx.DynamoDBAPI
	productsTable    string
	collectionsTable string
	nowFunc          func() time.Time
}

// NewStore creates a new catalog Store.
func NewStore(client awsx.DynamoDBAPI, productsTable, collectionsTable string) *Store {
	return &Store{
		client:           client,
		productsTable:    productsTable,
		collectionsTable: collectionsTable,
		nowFunc:          time.Now,
	}
}

// GetProduct fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) GetProduct(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.productsTable,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// PutProduct writes a product (admin seeding / editing).
func (s *Store) PutProduct(ctx context.Context, p Product) error {
	now := s.nowFunc()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.productsTable,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// ListProducts scans the products table.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	out, err := s.client.Scan(ctx, &dyn.ScanInput{TableName: &s.productsTable})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	products := make([]Product, 0, len(out.Items))
	for _, item := range out.Items {
		var p Product
		if err := attributevalue.UnmarshalMap(item, &p); err != nil {
			return nil, fmt.Errorf("unmarshal product: %w", err)
		}
		products = append(products, p)
	}
	return products, nil
}

// ListByCollection scans products belonging to one collection.
func (s *Store) ListByCollection(ctx context.Context, collectionID string) ([]Product, error) {
	filter := "collection_id = :cid"
	out, err := s.client.Scan(ctx, &dyn.ScanInput{
		TableName:        &s.productsTable,
		FilterExpression: &filter,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: collectionID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan products by collection: %w", err)
	}
	products := make([]Product, 0, len(out.Items))
	for _, item := range out.Items {
		var p Product
		if err := attributevalue.UnmarshalMap(item, &p); err != nil {
			return nil, fmt.Errorf("unmarshal product: %w", err)
		}
		products = append(products, p)
	}
	return products, nil
}

// PutCollection writes a collection.
func (s *Store) PutCollection(ctx context.Context, c Collection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.nowFunc()
	}
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal collection: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.collectionsTable,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put collection: %w", err)
	}
	return nil
}

// ListCollections scans the collections table.
func (s *Store) ListCollections(ctx context.Context) ([]Collection, error) {
	out, err := s.client.Scan(ctx, &dyn.ScanInput{TableName: &s.collectionsTable})
	if err != nil {
		return nil, fmt.Errorf("scan collections: %w", err)
	}
	cols := make([]Collection, 0, len(out.Items))
	for _, item := range out.Items {
		var c Collection
		if err := attributevalue.UnmarshalMap(item, &c); err != nil {
			return nil, fmt.Errorf("unmarshal collection: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// ReserveStockTx builds the transact item that atomically decrements
// available_stock, guarded so it can never go negative. Always used inside a
// TransactWriteItems batch together with the write that consumes the stock.
func (s *Store) ReserveStockTx(productID string, quantity int) types.TransactWriteItem {
	update := "SET available_stock = available_stock - :q, updated_at = :ua"
	cond := "attribute_exists(product_id) AND available_stock >= :q"
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.productsTable,
			Key: map[string]types.AttributeValue{
				"product_id": &types.AttributeValueMemberS{Value: productID},
			},
			UpdateExpression:    &update,
			ConditionExpression: &cond,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
				":ua": &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
			},
		},
	}
}

// ReturnStockTx builds the transact item that atomically returns quantity to
// available_stock (cancel, expire, decline-to-cancel, admin cancel).
func (s *Store) ReturnStockTx(productID string, quantity int) types.TransactWriteItem {
	update := "SET updated_at = :ua ADD available_stock :q"
	cond := "attribute_exists(product_id)"
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.productsTable,
			Key: map[string]types.AttributeValue{
				"product_id": &types.AttributeValueMemberS{Value: productID},
			},
			UpdateExpression:    &update,
			ConditionExpression: &cond,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":q":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", quantity)},
				":ua": &types.AttributeValueMemberS{Value: s.nowFunc().Format(time.RFC3339)},
			},
		},
	}
}
