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

// PositionRepository handles the tradeMeta table. The existence of an item
// is the single source of truth for "slug has an open position"; conditional
// writes enforce at most one item per slug without a read-before-write race.
type PositionRepository struct {
	client DynamoAPI
	table  string
	log    zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(client DynamoAPI, table string, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		client: client,
		table:  table,
		log:    log.With().Str("repo", "position").Logger(),
	}
}

// Create inserts the position meta, failing with ErrConditionFailed when the
// slug already has one.
func (r *PositionRepository) Create(ctx context.Context, meta domain.PositionMeta) error {
	item, err := attributevalue.MarshalMap(toPositionRecord(meta))
	if err != nil {
		return fmt.Errorf("failed to marshal position meta %s: %w", meta.Slug, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(slug)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("position for %s: %w", meta.Slug, ErrConditionFailed)
		}
		return fmt.Errorf("failed to create position meta %s: %w", meta.Slug, err)
	}

	r.log.Info().Str("slug", meta.Slug).Str("guid", meta.GUID).Msg("Position meta created")
	return nil
}

// Get returns the open-position meta for slug, or ErrNotFound.
func (r *PositionRepository) Get(ctx context.Context, slug string) (domain.PositionMeta, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"slug": &types.AttributeValueMemberS{Value: slug},
		},
	})
	if err != nil {
		return domain.PositionMeta{}, fmt.Errorf("failed to get position meta %s: %w", slug, err)
	}
	if len(out.Item) == 0 {
		return domain.PositionMeta{}, fmt.Errorf("position meta %s: %w", slug, ErrNotFound)
	}

	var rec positionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.PositionMeta{}, fmt.Errorf("failed to unmarshal position meta: %w", err)
	}
	return rec.toDomain(), nil
}

// Exists reports whether the slug currently has an open position.
func (r *PositionRepository) Exists(ctx context.Context, slug string) (bool, error) {
	_, err := r.Get(ctx, slug)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteIfGUID removes the position meta only when its guid still matches.
// ErrConditionFailed means another writer replaced the position in the
// meantime and the caller's view is stale.
func (r *PositionRepository) DeleteIfGUID(ctx context.Context, slug, guid string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"slug": &types.AttributeValueMemberS{Value: slug},
		},
		ConditionExpression: aws.String("guid = :guid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":guid": &types.AttributeValueMemberS{Value: guid},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("position %s guid mismatch: %w", slug, ErrConditionFailed)
		}
		return fmt.Errorf("failed to delete position meta %s: %w", slug, err)
	}

	r.log.Info().Str("slug", slug).Str("guid", guid).Msg("Position meta deleted")
	return nil
}
