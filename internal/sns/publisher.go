// Package sns publishes status change events to an SNS topic. A queue
// subscribed to the topic feeds the notifier; events.Decode unwraps the
// notification envelope on the consuming side.
package sns

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/events"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher handles SNS topic publishing
type Publisher struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
	attempts uint
	delay    time.Duration
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newPublisher(sns.NewFromConfig(cfg), topicARN, logger), nil
}

// NewPublisherWithEndpoint creates a publisher with custom endpoint (for LocalStack)
func NewPublisherWithEndpoint(ctx context.Context, topicARN, endpoint, region string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return newPublisher(client, topicARN, logger), nil
}

func newPublisher(client snsAPI, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
		attempts: 3,
		delay:    250 * time.Millisecond,
	}
}

// Publish sends one event with attributes subscribers can filter on.
func (p *Publisher) Publish(ctx context.Context, e events.StatusChangeEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := events.Encode(e)
	if err != nil {
		return err
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(events.Source),
			},
			"detail-type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(events.DetailType),
			},
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(e.To)),
			},
		},
	}

	err = retry.Do(
		func() error {
			_, err := p.client.Publish(ctx, input)
			return err
		},
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("retrying sns publish", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}
