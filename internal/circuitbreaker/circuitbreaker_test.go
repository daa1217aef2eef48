package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/mail"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// fakeClock drives recovery timeouts without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newWithClock(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)}
	cb := New(cfg, testLogger())
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_AllowsRequestsWhenClosed(t *testing.T) {
	cb := New(DefaultConfig("test"), testLogger())
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: 1 * time.Second}, testLogger())
	for i := 0; i < 3; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 5 * time.Second}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("should reject when open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newWithClock(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute})
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	clock.advance(30 * time.Second)
	if cb.Allow() {
		t.Fatal("should still reject before the recovery timeout")
	}
	clock.advance(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("should allow probe after timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ClosesOnSuccessfulProbe(t *testing.T) {
	cb, clock := newWithClock(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute})
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	clock.advance(time.Minute)
	cb.Allow()
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReopensOnFailedProbe(t *testing.T) {
	cb, clock := newWithClock(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute})
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	clock.advance(time.Minute)
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 3}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("success should have reset failure count")
	}
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	cb, clock := newWithClock(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: time.Minute, HalfOpenMaxRequests: 1})
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	clock.advance(time.Minute)
	if !cb.Allow() {
		t.Fatal("first half-open request should be allowed")
	}
	if cb.Allow() {
		t.Fatal("second half-open request should be rejected")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{Name: "test", MaxFailures: 2, RecoveryTimeout: 5 * time.Second}, testLogger())
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Fatalf("expected StateClosed after reset, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("should allow after reset")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := New(Config{Name: "stats-test", MaxFailures: 5, RecoveryTimeout: 5 * time.Second}, testLogger())
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordSuccess()
	stats := cb.Stats()
	if stats.Name != "stats-test" {
		t.Fatalf("name = %s", stats.Name)
	}
	if stats.TotalRequests != 3 {
		t.Fatalf("total_requests = %d", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 2 {
		t.Fatalf("total_successes = %d", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 1 {
		t.Fatalf("total_failures = %d", stats.TotalFailures)
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("svc")
	if cfg.MaxFailures != 5 {
		t.Fatalf("max_failures = %d", cfg.MaxFailures)
	}
	if cfg.RecoveryTimeout != 30*time.Second {
		t.Fatalf("recovery_timeout = %v", cfg.RecoveryTimeout)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type fakeTransport struct {
	err   error
	calls int
}

func (f *fakeTransport) Send(ctx context.Context, msg mail.Message) error {
	f.calls++
	return f.err
}

func testMessage() mail.Message {
	return mail.Message{From: "alerts@seatwatch.dev", To: "bucky@wisc.edu", Subject: "s", Body: "b"}
}

func TestProtectedTransport_PassesThrough(t *testing.T) {
	fake := &fakeTransport{}
	pt := NewProtectedTransport(fake, New(Config{Name: "ses", MaxFailures: 5}, testLogger()), testLogger())

	if err := pt.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("calls = %d", fake.calls)
	}
}

func TestProtectedTransport_FailFastWhenOpen(t *testing.T) {
	fake := &fakeTransport{err: errors.New("down")}
	pt := NewProtectedTransport(fake, New(Config{Name: "ses", MaxFailures: 2}, testLogger()), testLogger())

	pt.Send(context.Background(), testMessage())
	pt.Send(context.Background(), testMessage())
	fake.calls = 0

	err := pt.Send(context.Background(), testMessage())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if !errors.Is(err, mail.ErrUnavailable) {
		t.Fatalf("expected mail.ErrUnavailable, got: %v", err)
	}
	if fake.calls != 0 {
		t.Fatalf("transport called %d times while open", fake.calls)
	}
}

func TestProtectedTransport_InvalidMessageDoesNotTrip(t *testing.T) {
	fake := &fakeTransport{}
	cb := New(Config{Name: "ses", MaxFailures: 1}, testLogger())
	pt := NewProtectedTransport(fake, cb, testLogger())

	for i := 0; i < 3; i++ {
		if err := pt.Send(context.Background(), mail.Message{}); err == nil {
			t.Fatal("expected validation error")
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed breaker, got %s", cb.GetState())
	}
	if fake.calls != 0 {
		t.Fatal("invalid messages should not reach the transport")
	}
}

func TestProtectedTransport_Recovers(t *testing.T) {
	fake := &fakeTransport{err: errors.New("SES down")}
	cb, clock := newWithClock(Config{Name: "ses", MaxFailures: 3, RecoveryTimeout: time.Minute})
	pt := NewProtectedTransport(fake, cb, testLogger())

	for i := 0; i < 3; i++ {
		pt.Send(context.Background(), testMessage())
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	clock.advance(time.Minute)
	fake.err = nil
	if err := pt.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	if pt.Breaker().Stats().TotalSuccesses != 1 {
		t.Errorf("expected one recorded success, got %d", pt.Breaker().Stats().TotalSuccesses)
	}
}
