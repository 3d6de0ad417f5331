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

// DecisionRepository handles the tradeDetails table: the append-only audit
// trail of committed open/close decisions, keyed by position guid.
type DecisionRepository struct {
	client DynamoAPI
	table  string
	log    zerolog.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(client DynamoAPI, table string, log zerolog.Logger) *DecisionRepository {
	return &DecisionRepository{
		client: client,
		table:  table,
		log:    log.With().Str("repo", "decision").Logger(),
	}
}

// Create appends a decision record. Records are never mutated afterwards
// except for the closed flag set by the monitor stage.
func (r *DecisionRepository) Create(ctx context.Context, record domain.DecisionRecord) error {
	item, err := attributevalue.MarshalMap(toDecisionRecord(record))
	if err != nil {
		return fmt.Errorf("failed to marshal decision %s: %w", record.GUID, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to create decision %s: %w", record.GUID, err)
	}

	r.log.Info().
		Str("slug", record.Slug).
		Str("guid", record.GUID).
		Str("action", string(record.Action)).
		Msg("Decision recorded")
	return nil
}

// Get returns the decision record for a position guid, or ErrNotFound.
func (r *DecisionRepository) Get(ctx context.Context, guid string) (domain.DecisionRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"guid": &types.AttributeValueMemberS{Value: guid},
		},
	})
	if err != nil {
		return domain.DecisionRecord{}, fmt.Errorf("failed to get decision %s: %w", guid, err)
	}
	if len(out.Item) == 0 {
		return domain.DecisionRecord{}, fmt.Errorf("decision %s: %w", guid, ErrNotFound)
	}

	var rec decisionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.DecisionRecord{}, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	return rec.toDomain(), nil
}

// MarkClosed flips the closed flag on the decision once the closing sell has
// filled. Atomic single-field update.
func (r *DecisionRepository) MarkClosed(ctx context.Context, guid string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"guid": &types.AttributeValueMemberS{Value: guid},
		},
		UpdateExpression: aws.String("SET closed = :closed"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":closed": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark decision %s closed: %w", guid, err)
	}

	r.log.Info().Str("guid", guid).Msg("Decision marked closed")
	return nil
}
