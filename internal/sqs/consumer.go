package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/events"
	"github.com/lalithlochan/seatwatch/internal/metrics"
)

// Handler processes one decoded event. A nil return deletes the message.
// Errors wrapping events.ErrMalformed also delete it; any other error leaves
// it for redelivery.
type Handler func(ctx context.Context, e events.StatusChangeEvent) error

type ConsumerConfig struct {
	MaxMessages       int32
	WaitSeconds       int32
	VisibilityTimeout int32
	// RetryBackoff is the visibility applied per receive attempt after a
	// handler failure, capped at MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	if c.WaitSeconds <= 0 {
		c.WaitSeconds = 20
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 60
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 15 * time.Minute
	}
	return c
}

// Consumer reads status change events from SQS.
type Consumer struct {
	client   API
	queueURL string
	cfg      ConsumerConfig
	logger   *zap.Logger
}

func NewConsumer(client API, queueURL string, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized", zap.String("queue_url", queueURL))
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. Receive errors back off and retry.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := c.Poll(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("sqs receive failed", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
	}
}

// Poll receives one batch and handles each message. It returns the number of
// messages received.
func (c *Consumer) Poll(ctx context.Context, handle Handler) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(c.queueURL),
		MaxNumberOfMessages:         c.cfg.MaxMessages,
		WaitTimeSeconds:             c.cfg.WaitSeconds,
		VisibilityTimeout:           c.cfg.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs receive failed: %w", err)
	}

	metrics.SetBusMessagesInFlight(len(out.Messages))
	defer metrics.SetBusMessagesInFlight(0)

	for _, m := range out.Messages {
		c.handleMessage(ctx, m, handle)
	}
	return len(out.Messages), nil
}

func (c *Consumer) handleMessage(ctx context.Context, m types.Message, handle Handler) {
	receipt := aws.ToString(m.ReceiptHandle)
	receives := receiveCount(m)
	log := c.logger.With(
		zap.String("message_id", aws.ToString(m.MessageId)),
		zap.Int("receive_count", receives),
	)

	e, err := events.Decode([]byte(aws.ToString(m.Body)))
	if err == nil {
		err = e.Validate()
	}
	if err == nil {
		err = handle(ctx, e)
	}

	switch {
	case err == nil:
		metrics.RecordBusMessage("handled")
		c.delete(ctx, receipt, log)

	case errors.Is(err, events.ErrMalformed):
		log.Error("dropping malformed event", zap.Error(err))
		metrics.RecordBusMessage("malformed")
		c.delete(ctx, receipt, log)

	default:
		backoff := c.backoff(receives)
		log.Warn("event handling failed, leaving for redelivery",
			zap.Error(err),
			zap.String("class_nbr", e.ClassNbr),
			zap.Duration("retry_in", backoff),
		)
		metrics.RecordBusMessage("retried")
		if _, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(c.queueURL),
			ReceiptHandle:     aws.String(receipt),
			VisibilityTimeout: int32(backoff / time.Second),
		}); err != nil {
			log.Warn("sqs change visibility failed", zap.Error(err))
		}
	}
}

func (c *Consumer) delete(ctx context.Context, receipt string, log *zap.Logger) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		log.Error("sqs delete failed", zap.Error(err))
	}
}

func (c *Consumer) backoff(receives int) time.Duration {
	if receives < 1 {
		receives = 1
	}
	return min(c.cfg.RetryBackoff*time.Duration(receives), c.cfg.MaxRetryBackoff)
}

func receiveCount(m types.Message) int {
	n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		return 0
	}
	return n
}
