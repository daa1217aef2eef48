// Package notifier fans a status change event out to the section's
// subscribers as email, with per-minute dedupe and suppression checks.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/db"
	"github.com/lalithlochan/seatwatch/internal/enroll"
	"github.com/lalithlochan/seatwatch/internal/events"
	"github.com/lalithlochan/seatwatch/internal/mail"
	"github.com/lalithlochan/seatwatch/internal/metrics"
)

// DefaultTokenTTL is how long an unsubscribe link stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

type Repository interface {
	ListActiveBySection(ctx context.Context, term, classNbr string) ([]db.Subscription, error)
	IsSuppressed(ctx context.Context, email string) (bool, error)
	CreateUnsubscribeToken(ctx context.Context, tok *db.UnsubscribeToken) error
}

// Deduper claims a notification key at most once per TTL.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Config struct {
	From             string
	ConfigurationSet string
	// APIBase prefixes the unsubscribe link, e.g. "https://api.example.edu/".
	APIBase  string
	TokenTTL time.Duration
}

// Result summarizes one Handle call.
type Result struct {
	Subscribers int `json:"subscribers"`
	Sent        int `json:"sent"`
	Suppressed  int `json:"suppressed"`
	Deduped     int `json:"deduped"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

type Notifier struct {
	repo      Repository
	dedupe    Deduper
	subjects  enroll.SubjectResolver
	transport mail.Transport
	metrics   metrics.Recorder
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo Repository, dedupe Deduper, subjects enroll.SubjectResolver, transport mail.Transport, rec metrics.Recorder, cfg Config, logger *zap.Logger) *Notifier {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Notifier{
		repo:      repo,
		dedupe:    dedupe,
		subjects:  subjects,
		transport: transport,
		metrics:   rec,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle emails every eligible subscriber of the event's section. A malformed
// event is logged and dropped with a nil error. Recipient send failures are
// counted and skipped. Store and dedupe failures, or an unavailable
// transport, return an error so the bus redelivers the event; recipients
// already mailed are skipped on redelivery by their dedupe claim.
func (n *Notifier) Handle(ctx context.Context, e events.StatusChangeEvent) (res Result, err error) {
	if verr := e.Validate(); verr != nil {
		n.logger.Info("skipping event", zap.Error(verr))
		return res, nil
	}

	log := n.logger.With(
		zap.String("term", e.Term),
		zap.String("class_nbr", e.ClassNbr),
		zap.String("to_status", string(e.To)),
	)

	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = e.ClassNbr
	}
	if repaired := enroll.RepairTitle(ctx, n.subjects, e.SubjectCode, title); repaired != title {
		log.Info("repaired title missing subject", zap.String("old", title), zap.String("new", repaired))
		title = repaired
	}
	termDesc := e.TermDescription
	if termDesc == "" {
		termDesc = e.Term
	}

	subs, err := n.repo.ListActiveBySection(ctx, e.Term, e.ClassNbr)
	if err != nil {
		return res, fmt.Errorf("list subscribers: %w", err)
	}
	res.Subscribers = len(subs)

	defer func() {
		n.metrics.Put("NotifyRunSubscribers", float64(res.Subscribers), metrics.Count)
		n.metrics.Put("NotifyRunSent", float64(res.Sent), metrics.Count)
		n.metrics.Put("NotifyRunSuppressed", float64(res.Suppressed), metrics.Count)

		log.Info("notify finished",
			zap.Int("subs", res.Subscribers),
			zap.Int("sent", res.Sent),
			zap.Int("suppressed", res.Suppressed),
			zap.Int("deduped", res.Deduped),
			zap.Int("failed", res.Failed),
			zap.Bool("incomplete", err != nil),
		)
	}()

	for _, sub := range subs {
		if err := n.notify(ctx, log, e, title, termDesc, sub, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (n *Notifier) notify(ctx context.Context, log *zap.Logger, e events.StatusChangeEvent, title, termDesc string, sub db.Subscription, res *Result) error {
	to := strings.TrimSpace(sub.UserID)
	if to == "" {
		res.Skipped++
		log.Info("skip: no email on subscription", zap.String("sub_id", sub.ID.String()))
		return nil
	}
	if !sub.NotifyOn.Accepts(e.To) {
		res.Skipped++
		log.Debug("skip: preference mismatch", zap.String("email", to), zap.String("notify_on", string(sub.NotifyOn)))
		return nil
	}

	now := n.now()
	key := DedupeKey(e.Term, e.ClassNbr, e.To, to, now)
	claimed, err := n.dedupe.Claim(ctx, key)
	if err != nil {
		return fmt.Errorf("dedupe claim: %w", err)
	}
	if !claimed {
		res.Deduped++
		n.metrics.Put("NotifyDedupeSkipped", 1, metrics.Count)
		log.Info("dedupe: already sent", zap.String("email", to))
		return nil
	}

	suppressed, err := n.repo.IsSuppressed(ctx, to)
	if err != nil {
		n.release(ctx, log, key)
		return fmt.Errorf("suppression check: %w", err)
	}
	if suppressed {
		res.Suppressed++
		n.metrics.Put("EmailSuppressedCount", 1, metrics.Count)
		log.Info("skip: suppressed", zap.String("email", to))
		return nil
	}

	tok := &db.UnsubscribeToken{
		Token:     uuid.New(),
		UserID:    to,
		SubID:     sub.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(n.config.TokenTTL),
	}
	if err := n.repo.CreateUnsubscribeToken(ctx, tok); err != nil {
		n.release(ctx, log, key)
		return fmt.Errorf("issue unsubscribe token: %w", err)
	}

	msg := n.compose(email{
		title:    title,
		termDesc: termDesc,
		status:   e.To,
		to:       to,
		unsubURL: UnsubscribeURL(n.config.APIBase, tok.Token),
	})

	if err := n.transport.Send(ctx, msg); err != nil {
		n.release(ctx, log, key)
		if errors.Is(err, mail.ErrUnavailable) {
			return fmt.Errorf("send to %s: %w", to, err)
		}
		res.Failed++
		log.Error("send failed", zap.String("email", to), zap.Error(err))
		return nil
	}

	res.Sent++
	var latency time.Duration
	if !e.DetectedAt.IsZero() {
		latency = max(n.now().Sub(e.DetectedAt), 0)
	}
	n.metrics.Put("NotifyLatencyMs", float64(latency.Milliseconds()), metrics.Milliseconds)
	n.metrics.Put("EmailSentCount", 1, metrics.Count)
	log.Info("sent", zap.String("email", to), zap.Duration("latency", latency))
	return nil
}

// release gives back a claim when nothing was sent, so a redelivery can retry.
func (n *Notifier) release(ctx context.Context, log *zap.Logger, key string) {
	if err := n.dedupe.Release(ctx, key); err != nil {
		log.Warn("dedupe release failed", zap.Error(err))
	}
}
