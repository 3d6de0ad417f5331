package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/mastheader/masthead/internal/domain"
)

// AccountRepository handles the account singleton row and the append-only
// account log. The persisted row is a cache of exchange truth; the account
// manager refreshes it wholesale and nudges single fields between refreshes.
type AccountRepository struct {
	client   DynamoAPI
	table    string
	logTable string
	log      zerolog.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(client DynamoAPI, table, logTable string, log zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		client:   client,
		table:    table,
		logTable: logTable,
		log:      log.With().Str("repo", "account").Logger(),
	}
}

// Put overwrites the account row with a freshly derived snapshot.
func (r *AccountRepository) Put(ctx context.Context, account domain.Account) error {
	item, err := attributevalue.MarshalMap(toAccountRecord(account))
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", account.Name, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put account %s: %w", account.Name, err)
	}
	return nil
}

// Get returns the persisted account snapshot, or ErrNotFound before the
// first refresh ever ran.
func (r *AccountRepository) Get(ctx context.Context, name string) (domain.Account, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"account_name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("failed to get account %s: %w", name, err)
	}
	if len(out.Item) == 0 {
		return domain.Account{}, fmt.Errorf("account %s: %w", name, ErrNotFound)
	}

	var rec accountRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.Account{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return rec.toDomain(), nil
}

// UpdateAvailableBalance atomically sets the available-balance field.
func (r *AccountRepository) UpdateAvailableBalance(ctx context.Context, name string, available float64) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"account_name": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression: aws.String("SET balance_avail = :avail"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":avail": &types.AttributeValueMemberN{Value: strconv.FormatFloat(available, 'f', -1, 64)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update available balance for %s: %w", name, err)
	}
	return nil
}

// IncrementTradesOpen atomically bumps the open-trade counter.
func (r *AccountRepository) IncrementTradesOpen(ctx context.Context, name string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"account_name": &types.AttributeValueMemberS{Value: name},
		},
		UpdateExpression: aws.String("SET trades_open = trades_open + :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to increment trades open for %s: %w", name, err)
	}
	return nil
}

// AppendLog writes the snapshot to the account log table, keyed by
// (account_name, datetime).
func (r *AccountRepository) AppendLog(ctx context.Context, account domain.Account) error {
	item, err := attributevalue.MarshalMap(toAccountRecord(account))
	if err != nil {
		return fmt.Errorf("failed to marshal account log %s: %w", account.Name, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.logTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to append account log %s: %w", account.Name, err)
	}

	r.log.Debug().Str("account", account.Name).Float64("balance", account.Balance).Msg("Account snapshot logged")
	return nil
}
