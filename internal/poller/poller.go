// Package poller discovers watched sections, compares their live upstream
// status with the stored state and publishes an event for every upward
// transition.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/db"
	"github.com/lalithlochan/seatwatch/internal/enroll"
	"github.com/lalithlochan/seatwatch/internal/events"
	"github.com/lalithlochan/seatwatch/internal/metrics"
	"github.com/lalithlochan/seatwatch/internal/seat"
)

// Repository is the storage the poller reads watches from and keeps section
// state in.
type Repository interface {
	WatchSource
	GetState(ctx context.Context, term, classNbr string) (*db.SectionState, error)
	PutState(ctx context.Context, st *db.SectionState) error
	TouchScanned(ctx context.Context, term, classNbr string, at time.Time) error
}

type CourseFetcher interface {
	FetchCourse(ctx context.Context, term, subject, course string) (map[string]enroll.SectionInfo, error)
}

type TermResolver interface {
	Describe(ctx context.Context, code string) enroll.TermInfo
}

// Publisher puts events on the bus.
type Publisher interface {
	Publish(ctx context.Context, e events.StatusChangeEvent) error
}

type Config struct {
	PageSize int
}

// Result summarizes one run.
type Result struct {
	Terms           int      `json:"terms"`
	Courses         int      `json:"courses"`
	Sections        int      `json:"sections"`
	StatusUpdates   int      `json:"statusUpdates"`
	Changed         int      `json:"changed"`
	Published       int      `json:"published"`
	FetchFailures   int      `json:"fetchFailures"`
	PublishFailures int      `json:"publishFailures"`
	StoreFailures   int      `json:"storeFailures"`
	FailedTerms     []string `json:"failedTerms,omitempty"`
	Truncated       bool     `json:"truncated"`
}

type Poller struct {
	repo      Repository
	fetcher   CourseFetcher
	terms     TermResolver
	publisher Publisher
	metrics   metrics.Recorder
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo Repository, fetcher CourseFetcher, terms TermResolver, publisher Publisher, rec metrics.Recorder, cfg Config, logger *zap.Logger) *Poller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = db.DefaultPageSize
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Poller{
		repo:      repo,
		fetcher:   fetcher,
		terms:     terms,
		publisher: publisher,
		metrics:   rec,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run scans every watched section once. term == "" covers all terms.
// Per-course and per-section failures are counted and skipped; the returned
// error reports discovery failures only. A context that expires mid-run
// stops the scan and marks the result truncated.
func (p *Poller) Run(ctx context.Context, term string) (Result, error) {
	start := p.now()
	var res Result

	plan, err := Discover(ctx, p.repo, term, p.config.PageSize)
	if err != nil {
		p.logger.Error("watch discovery failed", zap.Error(err), zap.String("term", term))
		return res, err
	}

	var errs []error
	for t := range plan.Failed {
		res.FailedTerms = append(res.FailedTerms, t)
	}
	sort.Strings(res.FailedTerms)
	for _, t := range res.FailedTerms {
		p.logger.Error("term discovery failed", zap.String("term", t), zap.Error(plan.Failed[t]))
		errs = append(errs, plan.Failed[t])
	}

	if plan.Empty() {
		if len(errs) == 0 {
			p.logger.Info("no watched sections", zap.String("term", term))
		}
		return res, errors.Join(errs...)
	}

	res.Terms = len(plan.Terms)
	res.Courses = plan.CourseCount()

scan:
	for _, t := range plan.Terms {
		info := p.terms.Describe(ctx, t)
		expiresAt := info.EndDate.Add(db.StateGrace)
		before := res

		for _, course := range plan.Courses[t] {
			if ctx.Err() != nil {
				res.Truncated = true
				break scan
			}
			p.scanCourse(ctx, info, course, expiresAt, &res)
		}

		p.logger.Info("term poll finished",
			zap.String("term", t),
			zap.String("term_description", info.Description),
			zap.Int("courses", len(plan.Courses[t])),
			zap.Int("examined", res.Sections-before.Sections),
			zap.Int("changed", res.Changed-before.Changed),
		)
	}

	p.metrics.Put("WatchedCoursesEnumerated", float64(res.Courses), metrics.Count)
	p.metrics.Put("WatchedSectionsScanned", float64(res.Sections), metrics.Count)
	p.metrics.Put("SectionsWithChange", float64(res.Changed), metrics.Count)

	fields := []zap.Field{
		zap.Int("terms", res.Terms),
		zap.Int("courses", res.Courses),
		zap.Int("examined", res.Sections),
		zap.Int("changed", res.Changed),
		zap.Int("published", res.Published),
		zap.Int("fetch_failures", res.FetchFailures),
		zap.Duration("elapsed", p.now().Sub(start)),
	}
	if res.Truncated {
		p.logger.Warn("poll stopped before finishing", append(fields, zap.Error(ctx.Err()))...)
	} else {
		p.logger.Info("poll finished", fields...)
	}

	return res, errors.Join(errs...)
}

func (p *Poller) scanCourse(ctx context.Context, info enroll.TermInfo, course Course, expiresAt time.Time, res *Result) {
	log := p.logger.With(
		zap.String("term", info.Code),
		zap.String("subject", course.Subject),
		zap.String("course", course.CourseID),
	)

	if len(course.ClassNumbers) == 0 {
		log.Debug("watched course has no active subscriptions")
		return
	}

	sections, err := p.fetcher.FetchCourse(ctx, info.Code, course.Subject, course.CourseID)
	if err != nil {
		res.FetchFailures++
		p.metrics.Put("UpstreamFetchFailures", 1, metrics.Count)
		log.Warn("course fetch failed", zap.Error(err))
		return
	}

	for _, classNbr := range course.ClassNumbers {
		if err := p.scanSection(ctx, info, course, classNbr, sections, expiresAt, res); err != nil {
			res.StoreFailures++
			log.Error("section scan failed", zap.String("class_nbr", classNbr), zap.Error(err))
		}
	}
}

func (p *Poller) scanSection(ctx context.Context, info enroll.TermInfo, course Course, classNbr string, sections map[string]enroll.SectionInfo, expiresAt time.Time, res *Result) error {
	live, ok := sections[classNbr]
	if !ok {
		p.logger.Warn("section not found upstream, treating as closed",
			zap.String("term", info.Code),
			zap.String("course", course.CourseID),
			zap.String("class_nbr", classNbr),
			zap.Int("available", len(sections)),
		)
		live = enroll.SectionInfo{Status: seat.Closed}
	}

	prior, err := p.repo.GetState(ctx, info.Code, classNbr)
	if err != nil {
		return err
	}
	res.Sections++

	now := p.now()
	next := &db.SectionState{
		TermCode:      info.Code,
		ClassNumber:   classNbr,
		Status:        live.Status,
		Title:         live.Title,
		LastChangedAt: now,
		ScannedAt:     now,
		ExpiresAt:     expiresAt,
	}

	if prior == nil {
		return p.repo.PutState(ctx, next)
	}

	age := now.Sub(prior.ScannedAt).Seconds()
	p.metrics.Put("PollerScanAgeSeconds", max(age, 0), metrics.Seconds)

	if prior.Status == live.Status {
		next.LastChangedAt = prior.LastChangedAt
		return p.repo.PutState(ctx, next)
	}
	res.StatusUpdates++

	if seat.Notable(prior.Status, live.Status) {
		res.Changed++

		title := live.Title
		if title == "" {
			title = prior.Title
		}
		e := events.New(info.Code, info.Description, course.Subject, course.CourseID, classNbr,
			prior.Status, live.Status, title, now)
		e.FirstObservedAt = &e.DetectedAt

		if err := p.publisher.Publish(ctx, e); err != nil {
			// Keep the old status so the next run detects the change again.
			res.PublishFailures++
			p.metrics.Put("EventPublishFailures", 1, metrics.Count)
			p.logger.Error("event publish failed",
				zap.String("term", info.Code),
				zap.String("class_nbr", classNbr),
				zap.Error(err),
			)
			if err := p.repo.TouchScanned(ctx, info.Code, classNbr, now); err != nil {
				return fmt.Errorf("touch after failed publish: %w", err)
			}
			return nil
		}
		res.Published++

		p.logger.Info("seat status changed",
			zap.String("term", info.Code),
			zap.String("class_nbr", classNbr),
			zap.String("from", string(prior.Status)),
			zap.String("to", string(live.Status)),
		)
	}

	return p.repo.PutState(ctx, next)
}
