package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/db"
	"github.com/lalithlochan/seatwatch/internal/events"
	"github.com/lalithlochan/seatwatch/internal/mail"
	"github.com/lalithlochan/seatwatch/internal/metrics"
	"github.com/lalithlochan/seatwatch/internal/seat"
)

type fakeRepo struct {
	subs          []db.Subscription
	suppressed    map[string]bool
	tokens        []*db.UnsubscribeToken
	listErr       error
	suppressedErr error
	tokenErr      error
}

func (f *fakeRepo) ListActiveBySection(ctx context.Context, term, classNbr string) ([]db.Subscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []db.Subscription
	for _, s := range f.subs {
		if s.TermCode == term && s.ClassNumber == classNbr && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	if f.suppressedErr != nil {
		return false, f.suppressedErr
	}
	return f.suppressed[db.NormalizeEmail(email)], nil
}

func (f *fakeRepo) CreateUnsubscribeToken(ctx context.Context, tok *db.UnsubscribeToken) error {
	if f.tokenErr != nil {
		return f.tokenErr
	}
	f.tokens = append(f.tokens, tok)
	return nil
}

type fakeDedupe struct {
	claims   map[string]bool
	released []string
	err      error
}

func (f *fakeDedupe) Claim(ctx context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.claims == nil {
		f.claims = map[string]bool{}
	}
	if f.claims[key] {
		return false, nil
	}
	f.claims[key] = true
	return true, nil
}

func (f *fakeDedupe) Release(ctx context.Context, key string) error {
	delete(f.claims, key)
	f.released = append(f.released, key)
	return nil
}

type fakeSubjects map[string]string

func (f fakeSubjects) Name(ctx context.Context, code string) string { return f[code] }

type fakeTransport struct {
	sent   []mail.Message
	errFor map[string]error
}

func (f *fakeTransport) Send(ctx context.Context, msg mail.Message) error {
	if err := f.errFor[msg.To]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type recorder struct {
	values map[string]float64
	puts   map[string]int
}

func (r *recorder) Put(name string, value float64, unit metrics.Unit) {
	if r.values == nil {
		r.values = map[string]float64{}
		r.puts = map[string]int{}
	}
	r.values[name] += value
	r.puts[name]++
}

type harness struct {
	*Notifier
	repo      *fakeRepo
	dedupe    *fakeDedupe
	transport *fakeTransport
	metrics   *recorder
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:      &fakeRepo{suppressed: map[string]bool{}},
		dedupe:    &fakeDedupe{},
		transport: &fakeTransport{},
		metrics:   &recorder{},
		clock:     time.Date(2025, 1, 20, 15, 4, 30, 0, time.UTC),
	}
	cfg := Config{From: "alerts@seatwatch.dev", APIBase: "https://api.seatwatch.dev/"}
	h.Notifier = New(h.repo, h.dedupe, fakeSubjects{"266": "COMP SCI"}, h.transport, h.metrics, cfg, zap.NewNop())
	h.Notifier.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) subscribe(email string, pref seat.Preference) db.Subscription {
	s := db.Subscription{
		ID:          uuid.New(),
		UserID:      email,
		TermCode:    "1252",
		SubjectCode: "266",
		CourseID:    "300",
		ClassNumber: "12345",
		NotifyOn:    pref,
		Active:      true,
	}
	h.repo.subs = append(h.repo.subs, s)
	return s
}

func event(to seat.Status, detectedAt time.Time) events.StatusChangeEvent {
	return events.New("1252", "Spring 2025", "266", "300", "12345",
		seat.Closed, to, "COMP SCI 300 - LEC 001", detectedAt)
}

func TestHandle_MalformedIsNoop(t *testing.T) {
	h := newHarness(t)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)

	res, err := h.Handle(context.Background(), events.StatusChangeEvent{Term: "1252"})
	if err != nil {
		t.Fatalf("malformed event must not error, got %v", err)
	}
	if res.Subscribers != 0 || len(h.transport.sent) != 0 {
		t.Errorf("expected no work, got %+v", res)
	}
}

func TestHandle_SendsEmail(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe("bucky@wisc.edu", seat.PreferAny)

	res, err := h.Handle(context.Background(), event(seat.Waitlisted, h.clock.Add(-90*time.Second)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Sent != 1 || len(h.transport.sent) != 1 {
		t.Fatalf("expected one send, got %+v", res)
	}

	msg := h.transport.sent[0]
	wantSubject := "Seat update: COMP SCI 300 - LEC 001 (Spring 2025) is now WAITLISTED"
	if msg.Subject != wantSubject {
		t.Errorf("subject = %q, want %q", msg.Subject, wantSubject)
	}
	if !strings.Contains(msg.Body, "Status changed to WAITLISTED.") {
		t.Errorf("body missing status line: %q", msg.Body)
	}

	if len(h.repo.tokens) != 1 {
		t.Fatalf("expected one token, got %d", len(h.repo.tokens))
	}
	tok := h.repo.tokens[0]
	if tok.SubID != sub.ID || tok.UserID != "bucky@wisc.edu" {
		t.Errorf("token bound to wrong subscription: %+v", tok)
	}
	if !tok.ExpiresAt.Equal(h.clock.Add(DefaultTokenTTL)) {
		t.Errorf("token expiry = %v", tok.ExpiresAt)
	}
	wantLink := "Unsubscribe: https://api.seatwatch.dev/unsubscribe?token=" + tok.Token.String()
	if !strings.HasSuffix(msg.Body, wantLink) {
		t.Errorf("body missing unsubscribe link %q: %q", wantLink, msg.Body)
	}

	if h.metrics.values["EmailSentCount"] != 1 {
		t.Errorf("sent metric = %v", h.metrics.values["EmailSentCount"])
	}
	if h.metrics.values["NotifyLatencyMs"] != 90000 {
		t.Errorf("latency = %v, want 90000", h.metrics.values["NotifyLatencyMs"])
	}
	if h.metrics.values["NotifyRunSubscribers"] != 1 || h.metrics.values["NotifyRunSent"] != 1 {
		t.Errorf("run metrics = %v", h.metrics.values)
	}
}

func TestHandle_LatencyClampedAtZero(t *testing.T) {
	h := newHarness(t)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)

	if _, err := h.Handle(context.Background(), event(seat.Open, h.clock.Add(time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.metrics.values["NotifyLatencyMs"]; got != 0 {
		t.Errorf("latency should clamp to 0, got %v", got)
	}
}

func TestHandle_PreferenceFiltering(t *testing.T) {
	tests := []struct {
		name string
		pref seat.Preference
		to   seat.Status
		want int
	}{
		{"open pref ignores waitlist", seat.PreferOpen, seat.Waitlisted, 0},
		{"open pref gets open", seat.PreferOpen, seat.Open, 1},
		{"waitlist pref ignores open", seat.PreferWaitlisted, seat.Open, 0},
		{"any gets waitlist", seat.PreferAny, seat.Waitlisted, 1},
		{"any gets open", seat.PreferAny, seat.Open, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.subscribe("bucky@wisc.edu", tt.pref)

			res, err := h.Handle(context.Background(), event(tt.to, h.clock))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Sent != tt.want {
				t.Errorf("sent = %d, want %d", res.Sent, tt.want)
			}
		})
	}
}

func TestHandle_DedupeWithinMinute(t *testing.T) {
	h := newHarness(t)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)
	h.subscribe("wanda@wisc.edu", seat.PreferAny)
	e := event(seat.Open, h.clock)

	if _, err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	h.clock = h.clock.Add(20 * time.Second)
	res, err := h.Handle(context.Background(), e)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(h.transport.sent) != 2 {
		t.Errorf("expected one email per recipient, got %d", len(h.transport.sent))
	}
	if res.Deduped != 2 || res.Sent != 0 {
		t.Errorf("second delivery should only skip, got %+v", res)
	}
	if h.metrics.values["NotifyDedupeSkipped"] != 2 {
		t.Errorf("dedupe metric = %v", h.metrics.values["NotifyDedupeSkipped"])
	}
}

func TestHandle_NextMinuteSendsAgain(t *testing.T) {
	h := newHarness(t)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)
	e := event(seat.Open, h.clock)

	if _, err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	h.clock = h.clock.Add(time.Minute)
	if _, err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if len(h.transport.sent) != 2 {
		t.Errorf("expected a new minute to open a new window, got %d sends", len(h.transport.sent))
	}
}

func TestHandle_SuppressionGate(t *testing.T) {
	h := newHarness(t)
	h.subscribe("Bounced@Wisc.edu", seat.PreferAny)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)
	h.repo.suppressed["bounced@wisc.edu"] = true

	res, err := h.Handle(context.Background(), event(seat.Open, h.clock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Suppressed != 1 || res.Sent != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	for _, m := range h.transport.sent {
		if strings.EqualFold(m.To, "bounced@wisc.edu") {
			t.Error("suppressed recipient received mail")
		}
	}
	if h.metrics.puts["EmailSuppressedCount"] != 1 || h.metrics.values["EmailSuppressedCount"] != 1 {
		t.Errorf("suppressed metric should increment once, got %v", h.metrics.values["EmailSuppressedCount"])
	}
	if len(h.repo.tokens) != 1 {
		t.Errorf("no token should be issued for a suppressed recipient, got %d", len(h.repo.tokens))
	}
}

func TestHandle_SkipsMissingEmail(t *testing.T) {
	h := newHarness(t)
	h.subscribe("  ", seat.PreferAny)

	res, err := h.Handle(context.Background(), event(seat.Open, h.clock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 || len(h.dedupe.claims) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandle_SendFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.subscribe("broken@wisc.edu", seat.PreferAny)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)
	h.transport.errFor = map[string]error{"broken@wisc.edu": errors.New("mailbox unavailable")}

	res, err := h.Handle(context.Background(), event(seat.Open, h.clock))
	if err != nil {
		t.Fatalf("recipient failure must not fail the event: %v", err)
	}
	if res.Failed != 1 || res.Sent != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(h.dedupe.released) != 1 {
		t.Errorf("failed recipient's claim should be released, got %v", h.dedupe.released)
	}
}

func TestHandle_TransportUnavailableRedelivers(t *testing.T) {
	h := newHarness(t)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)
	h.subscribe("wanda@wisc.edu", seat.PreferAny)
	unavailable := fmt.Errorf("circuit open: %w", mail.ErrUnavailable)
	h.transport.errFor = map[string]error{"bucky@wisc.edu": unavailable}

	_, err := h.Handle(context.Background(), event(seat.Open, h.clock))
	if !errors.Is(err, mail.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(h.transport.sent) != 0 {
		t.Error("should stop at the first unavailable send")
	}
	if len(h.dedupe.claims) != 0 {
		t.Errorf("claim should be released for redelivery, got %v", h.dedupe.claims)
	}
}

func TestHandle_InfrastructureErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		release bool
	}{
		{"subscriber query", func(h *harness) { h.repo.listErr = errors.New("db down") }, false},
		{"dedupe store", func(h *harness) { h.dedupe.err = errors.New("redis down") }, false},
		{"suppression lookup", func(h *harness) { h.repo.suppressedErr = errors.New("db down") }, true},
		{"token insert", func(h *harness) { h.repo.tokenErr = errors.New("db down") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.subscribe("bucky@wisc.edu", seat.PreferAny)
			tt.setup(h)

			if _, err := h.Handle(context.Background(), event(seat.Open, h.clock)); err == nil {
				t.Fatal("expected error so the bus redelivers")
			}
			if len(h.transport.sent) != 0 {
				t.Error("nothing should be sent")
			}
			if tt.release && len(h.dedupe.released) != 1 {
				t.Errorf("claim should be released, got %v", h.dedupe.released)
			}
		})
	}
}

func TestHandle_RepairsTitle(t *testing.T) {
	h := newHarness(t)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)
	e := event(seat.Open, h.clock)
	e.Title = "300 - LEC 001"

	if _, err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.transport.sent[0].Subject; !strings.Contains(got, "COMP SCI 300 - LEC 001") {
		t.Errorf("title not repaired: %q", got)
	}
}

func TestHandle_EmptyTitleFallsBackToClassNumber(t *testing.T) {
	h := newHarness(t)
	h.subscribe("bucky@wisc.edu", seat.PreferAny)
	e := event(seat.Open, h.clock)
	e.Title = ""
	e.SubjectCode = "999"

	if _, err := h.Handle(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.transport.sent[0].Subject; !strings.Contains(got, "999 12345 (Spring 2025)") {
		t.Errorf("unexpected subject %q", got)
	}
}

func TestDedupeKey(t *testing.T) {
	at := time.Date(2025, 1, 20, 15, 4, 0, 0, time.UTC)

	base := DedupeKey("1252", "12345", seat.Open, "bucky@wisc.edu", at)
	if len(base) != 64 {
		t.Fatalf("expected hex sha256, got %q", base)
	}
	if DedupeKey("1252", "12345", seat.Open, " Bucky@Wisc.edu ", at.Add(59*time.Second)) != base {
		t.Error("same minute and address should share a key")
	}
	if DedupeKey("1252", "12345", seat.Waitlisted, "bucky@wisc.edu", at) == base {
		t.Error("target status must be part of the key")
	}
	if DedupeKey("1252", "12345", seat.Open, "bucky@wisc.edu", at.Add(time.Minute)) == base {
		t.Error("next minute must produce a new key")
	}
}
