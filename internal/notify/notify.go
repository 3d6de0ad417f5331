// Package notify covers the outbound notification collaborators: the SNS
// topic publisher and the SES mailer.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

// SNSAPI is the subset of the SNS client the publisher consumes.
type SNSAPI interface {
	ListTopics(ctx context.Context, params *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes subject/message envelopes to named SNS topics,
// creating the topic when it does not exist yet.
type Publisher struct {
	client SNSAPI
	log    zerolog.Logger

	arns map[string]string // topic name -> resolved ARN
}

// NewPublisher creates a new topic publisher
func NewPublisher(client SNSAPI, log zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		log:    log.With().Str("service", "sns").Logger(),
		arns:   make(map[string]string),
	}
}

// Publish sends the message to the named topic and returns the message id.
func (p *Publisher) Publish(ctx context.Context, topic, subject, message string) (string, error) {
	arn, err := p.resolveTopic(ctx, topic)
	if err != nil {
		return "", err
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(arn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	p.log.Debug().Str("topic", topic).Str("subject", subject).Msg("Published")
	return aws.ToString(out.MessageId), nil
}

// resolveTopic finds the topic ARN by name, creating the topic if absent.
// Resolved ARNs are cached for the process lifetime.
func (p *Publisher) resolveTopic(ctx context.Context, topic string) (string, error) {
	if arn, ok := p.arns[topic]; ok {
		return arn, nil
	}

	var nextToken *string
	for {
		out, err := p.client.ListTopics(ctx, &sns.ListTopicsInput{NextToken: nextToken})
		if err != nil {
			return "", fmt.Errorf("failed to list topics: %w", err)
		}
		for _, t := range out.Topics {
			arn := aws.ToString(t.TopicArn)
			parts := strings.Split(arn, ":")
			if parts[len(parts)-1] == topic {
				p.arns[topic] = arn
				return arn, nil
			}
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	created, err := p.client.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(topic)})
	if err != nil {
		return "", fmt.Errorf("failed to create topic %s: %w", topic, err)
	}

	arn := aws.ToString(created.TopicArn)
	p.arns[topic] = arn
	p.log.Info().Str("topic", topic).Msg("Topic created")
	return arn, nil
}
