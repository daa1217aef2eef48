package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/mail"
)

// ProtectedTransport wraps a mail.Transport with a CircuitBreaker. While the
// circuit is open, Send fails fast with an error matching both
// ErrCircuitOpen and mail.ErrUnavailable.
type ProtectedTransport struct {
	transport mail.Transport
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

func NewProtectedTransport(transport mail.Transport, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

func (p *ProtectedTransport) Send(ctx context.Context, msg mail.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("to", msg.To),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %w", ErrCircuitOpen, mail.ErrUnavailable)
	}

	if err := p.transport.Send(ctx, msg); err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker exposes the breaker for the ops endpoint.
func (p *ProtectedTransport) Breaker() *CircuitBreaker {
	return p.breaker
}
