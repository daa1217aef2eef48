package enroll

import (
	"context"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

// SubjectsLoader fetches the full subject map.
type SubjectsLoader interface {
	SubjectsMap(ctx context.Context) (map[string]string, error)
}

// SubjectDirectory caches the subject map for the life of the process. The
// first lookup loads it; a failed load stores an empty map so later lookups
// fall back to package data without hitting the API again.
type SubjectDirectory struct {
	loader SubjectsLoader
	logger *zap.Logger

	mu       sync.Mutex
	loaded   bool
	subjects map[string]string
}

func NewSubjectDirectory(loader SubjectsLoader, logger *zap.Logger) *SubjectDirectory {
	return &SubjectDirectory{loader: loader, logger: logger}
}

// Name returns the display name for code, or "" if unknown.
func (d *SubjectDirectory) Name(ctx context.Context, code string) string {
	if code == "" {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loaded {
		d.subjects = d.load(ctx)
		d.loaded = true
	}
	return d.subjects[code]
}

// Resolve returns the directory name for code, then the name embedded in pkg.
func (d *SubjectDirectory) Resolve(ctx context.Context, code string, pkg Package) string {
	if name := d.Name(ctx, code); name != "" {
		return name
	}
	return pkg.EmbeddedSubjectName()
}

func (d *SubjectDirectory) load(ctx context.Context) map[string]string {
	var subjects map[string]string
	err := retry.Do(
		func() error {
			m, err := d.loader.SubjectsMap(ctx)
			if err != nil {
				return err
			}
			subjects = m
			return nil
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Debug("retrying subject map load", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		d.logger.Warn("subject map unavailable, using package data", zap.Error(err))
		return map[string]string{}
	}

	d.logger.Info("subject map loaded", zap.Int("subjects", len(subjects)))
	return subjects
}
