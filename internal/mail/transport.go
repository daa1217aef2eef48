// Package mail delivers composed notification emails.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrUnavailable means the transport as a whole cannot send right now, as
// opposed to a single recipient failing.
var ErrUnavailable = errors.New("mail transport unavailable")

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string

	// ConfigurationSet is the provider's tracking configuration, if any.
	ConfigurationSet string
}

// Validate checks the fields every transport needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("email message missing 'to' field")
	}
	if m.Subject == "" {
		return fmt.Errorf("email message missing 'subject' field")
	}
	if m.Body == "" {
		return fmt.Errorf("email message missing 'body' field")
	}
	return nil
}

// Transport sends a message and reports success or failure.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// LogTransport only logs messages (for development)
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	t.logger.Info("email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
