// Package queue wraps the SQS substrate: at-least-once delivery, visibility
// timeout redelivery, explicit delete-after-processing, batched sends and
// per-message delays.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

// MaxBatchEntries is the SQS limit on entries per batched send.
const MaxBatchEntries = 10

// SQSAPI is the subset of the SQS client the queue consumes.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Message is one received queue message.
type Message struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// Queue is a named SQS queue with its URL resolved once at construction.
type Queue struct {
	client SQSAPI
	name   string
	url    string
	log    zerolog.Logger
}

// NewQueue resolves the queue URL by name and returns the wrapper.
func NewQueue(ctx context.Context, client SQSAPI, name string, log zerolog.Logger) (*Queue, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve queue url for %s: %w", name, err)
	}

	return &Queue{
		client: client,
		name:   name,
		url:    aws.ToString(out.QueueUrl),
		log:    log.With().Str("queue", name).Logger(),
	}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Send publishes a single message with an optional delivery delay and returns
// the message id.
func (q *Queue) Send(ctx context.Context, body string, delay time.Duration) (string, error) {
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.url),
		MessageBody:  aws.String(body),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send to %s: %w", q.name, err)
	}
	return aws.ToString(out.MessageId), nil
}

// SendBatch publishes the bodies in chunks of at most MaxBatchEntries per
// underlying call.
func (q *Queue) SendBatch(ctx context.Context, bodies []string) error {
	for start := 0; start < len(bodies); start += MaxBatchEntries {
		end := start + MaxBatchEntries
		if end > len(bodies) {
			end = len(bodies)
		}

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, body := range bodies[start:end] {
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(start + i)),
				MessageBody: aws.String(body),
			})
		}

		out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.url),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("failed to batch send to %s: %w", q.name, err)
		}
		if len(out.Failed) > 0 {
			first := out.Failed[0]
			return fmt.Errorf("batch send to %s: %d entries failed, first: %s %s",
				q.name, len(out.Failed), aws.ToString(first.Code), aws.ToString(first.Message))
		}

		q.log.Debug().Int("count", end-start).Msg("Batch sent")
	}
	return nil
}

// Receive long-polls for up to max messages.
func (q *Queue) Receive(ctx context.Context, max int32, wait time.Duration) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", q.name, err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return messages, nil
}

// Delete removes a consumed message. Must be called exactly once per message,
// after processing succeeds.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", q.name, err)
	}
	return nil
}
