package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
)

// OrderRepository handles the tradeOrders table: one item per exchange order
// placed by the trade executor, keyed by exchange order id.
type OrderRepository struct {
	client DynamoAPI
	table  string
	log    zerolog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(client DynamoAPI, table string, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		client: client,
		table:  table,
		log:    log.With().Str("repo", "order").Logger(),
	}
}

// Put persists the exchange's returned order snapshot. Re-persisting the same
// order id on redelivery overwrites with identical content.
func (r *OrderRepository) Put(ctx context.Context, order domain.Order) error {
	item, err := attributevalue.MarshalMap(toOrderRecord(order))
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", order.OrderID, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put order %s: %w", order.OrderID, err)
	}

	r.log.Info().
		Str("order_id", order.OrderID).
		Str("slug", order.Slug).
		Str("side", order.Side).
		Msg("Order persisted")
	return nil
}

// Get returns the persisted order, or ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	if len(out.Item) == 0 {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	var rec orderRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.Order{}, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return rec.toDomain(), nil
}
