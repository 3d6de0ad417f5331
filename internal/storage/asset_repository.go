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

// AssetRepository handles the discovery table: the set of tradable assets.
// Assets are immutable once inserted; discovery only ever adds new slugs and
// the harvest stage removes permanently broken ones.
type AssetRepository struct {
	client DynamoAPI
	table  string
	log    zerolog.Logger
}

// NewAssetRepository creates a new asset repository
func NewAssetRepository(client DynamoAPI, table string, log zerolog.Logger) *AssetRepository {
	return &AssetRepository{
		client: client,
		table:  table,
		log:    log.With().Str("repo", "asset").Logger(),
	}
}

// CreateIfAbsent inserts the asset unless its slug already exists. Returns
// true when a new item was written. The conditional put closes the
// check-then-act gap a separate existence check would leave open.
func (r *AssetRepository) CreateIfAbsent(ctx context.Context, asset domain.Asset) (bool, error) {
	item, err := attributevalue.MarshalMap(toAssetRecord(asset))
	if err != nil {
		return false, fmt.Errorf("failed to marshal asset %s: %w", asset.Slug, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(slug)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create asset %s: %w", asset.Slug, err)
	}

	r.log.Info().Str("slug", asset.Slug).Str("ticker", asset.Ticker).Msg("Asset discovered")
	return true, nil
}

// Exists reports whether the slug is in the tradable set.
func (r *AssetRepository) Exists(ctx context.Context, slug string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"slug": &types.AttributeValueMemberS{Value: slug},
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check asset %s: %w", slug, err)
	}
	return len(out.Item) > 0, nil
}

// Delete removes the slug from the tradable set. Used when harvest finds the
// asset permanently broken (mandatory metrics missing upstream).
func (r *AssetRepository) Delete(ctx context.Context, slug string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"slug": &types.AttributeValueMemberS{Value: slug},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete asset %s: %w", slug, err)
	}
	r.log.Warn().Str("slug", slug).Msg("Asset removed from tradable set")
	return nil
}

// List returns every tradable asset. Paginates the scan; the discovery table
// stays small (hundreds of slugs).
func (r *AssetRepository) List(ctx context.Context) ([]domain.Asset, error) {
	var assets []domain.Asset
	var startKey map[string]types.AttributeValue

	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan assets: %w", err)
		}

		for _, item := range out.Items {
			var rec assetRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal asset item: %w", err)
			}
			assets = append(assets, rec.toDomain())
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return assets, nil
}
