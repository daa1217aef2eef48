// Package sqs carries status change events over an SQS queue: the poller
// publishes, the notifier consumes. Failed deliveries are left on the queue
// so its redrive policy can move them to the dead-letter queue.
package sqs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/events"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// Endpoint overrides the service URL, e.g. for LocalStack.
	Endpoint string
}

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// NewClient loads the default AWS config for the region.
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Publisher sends status change events to the queue.
type Publisher struct {
	client   API
	queueURL string
	logger   *zap.Logger
	attempts uint
	delay    time.Duration
}

func NewPublisher(client API, queueURL string, logger *zap.Logger) *Publisher {
	logger.Info("sqs publisher initialized", zap.String("queue_url", queueURL))
	return &Publisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		attempts: 3,
		delay:    250 * time.Millisecond,
	}
}

// Publish sends one event, retrying transient send errors.
func (p *Publisher) Publish(ctx context.Context, e events.StatusChangeEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	body, err := events.Encode(e)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(events.Source),
			},
			"detail-type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(events.DetailType),
			},
			"term": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.Term),
			},
		},
	}

	var messageID string
	err = retry.Do(
		func() error {
			out, err := p.client.SendMessage(ctx, input)
			if err != nil {
				return err
			}
			messageID = aws.ToString(out.MessageId)
			return nil
		},
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("retrying sqs send",
				zap.Uint("attempt", n+1),
				zap.String("class_nbr", e.ClassNbr),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		p.logger.Error("failed to send event to sqs",
			zap.Error(err),
			zap.String("term", e.Term),
			zap.String("class_nbr", e.ClassNbr),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("event published",
		zap.String("message_id", messageID),
		zap.String("class_nbr", e.ClassNbr),
		zap.String("to", string(e.To)),
	)
	return nil
}
