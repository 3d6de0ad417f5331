package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
)

// MetricRepository handles the harvest table: append-only metric samples
// keyed by (slug, datetime_metric). Writes are plain puts, so re-delivering
// a harvest batch rewrites identical items instead of duplicating rows.
type MetricRepository struct {
	client DynamoAPI
	table  string
	log    zerolog.Logger
}

// NewMetricRepository creates a new metric repository
func NewMetricRepository(client DynamoAPI, table string, log zerolog.Logger) *MetricRepository {
	return &MetricRepository{
		client: client,
		table:  table,
		log:    log.With().Str("repo", "metric").Logger(),
	}
}

// PutSamples persists the samples one item at a time. Idempotent per
// (slug, timestamp): a crash between persistence and queue delete only causes
// harmless rewrites on redelivery.
func (r *MetricRepository) PutSamples(ctx context.Context, samples []domain.MetricSample) error {
	for _, sample := range samples {
		item, err := attributevalue.MarshalMap(toMetricRecord(sample))
		if err != nil {
			return fmt.Errorf("failed to marshal sample %s@%s: %w",
				sample.Slug, sample.Timestamp.Format(domain.TimeFormat), err)
		}
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(r.table),
			Item:      item,
		})
		if err != nil {
			return fmt.Errorf("failed to put sample %s@%s: %w",
				sample.Slug, sample.Timestamp.Format(domain.TimeFormat), err)
		}
	}

	r.log.Debug().Int("count", len(samples)).Msg("Samples persisted")
	return nil
}

// GetRange returns the samples for slug with timestamps in [from, to],
// ascending.
func (r *MetricRepository) GetRange(ctx context.Context, slug string, from, to time.Time) ([]domain.MetricSample, error) {
	var samples []domain.MetricSample
	var startKey map[string]types.AttributeValue

	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.table),
			KeyConditionExpression: aws.String("slug = :slug AND datetime_metric BETWEEN :from AND :to"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":slug": &types.AttributeValueMemberS{Value: slug},
				":from": &types.AttributeValueMemberS{Value: from.UTC().Format(domain.TimeFormat)},
				":to":   &types.AttributeValueMemberS{Value: to.UTC().Format(domain.TimeFormat)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query samples for %s: %w", slug, err)
		}

		for _, item := range out.Items {
			var rec metricRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sample item: %w", err)
			}
			sample, err := rec.toDomain()
			if err != nil {
				return nil, fmt.Errorf("bad sample timestamp for %s: %w", slug, err)
			}
			samples = append(samples, sample)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return samples, nil
}

// LatestTimestamp returns the watermark: the most recent sample timestamp for
// the slug, or nil when nothing has been harvested yet.
func (r *MetricRepository) LatestTimestamp(ctx context.Context, slug string) (*time.Time, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("slug = :slug"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":slug": &types.AttributeValueMemberS{Value: slug},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sample for %s: %w", slug, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var rec metricRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest sample: %w", err)
	}
	ts, err := time.Parse(domain.TimeFormat, rec.DatetimeMetric)
	if err != nil {
		return nil, fmt.Errorf("bad watermark timestamp for %s: %w", slug, err)
	}
	return &ts, nil
}
