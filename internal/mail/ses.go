package mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTransport sends plain-text email through Amazon SES.
type SESTransport struct {
	client sesAPI
	logger *zap.Logger
}

type SESConfig struct {
	Region   string
	Endpoint string
}

func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESTransport{
		client: ses.NewFromConfig(awsCfg, func(o *ses.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
		logger: logger,
	}, nil
}

// Send sends an email via AWS SES
func (t *SESTransport) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}
	if msg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(msg.ConfigurationSet)
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	t.logger.Info("email sent via SES",
		zap.String("to", msg.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
