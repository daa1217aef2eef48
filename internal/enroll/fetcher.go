package enroll

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/seat"
)

// SectionInfo is the live view of one section.
type SectionInfo struct {
	Status    seat.Status
	RawStatus string
	Title     string
	OpenSeats *int
}

// Fetcher turns a course's enrollment packages into per-section status.
type Fetcher struct {
	client   *Client
	subjects *SubjectDirectory
	logger   *zap.Logger
}

func NewFetcher(client *Client, subjects *SubjectDirectory, logger *zap.Logger) *Fetcher {
	return &Fetcher{client: client, subjects: subjects, logger: logger}
}

// FetchCourse returns class number -> section info for one course. Any
// upstream failure is returned as is; callers decide whether to skip.
func (f *Fetcher) FetchCourse(ctx context.Context, term, subject, course string) (map[string]SectionInfo, error) {
	pkgs, err := f.client.Packages(ctx, term, subject, course)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s/%s: %w", term, subject, course, err)
	}

	sections := make(map[string]SectionInfo, len(pkgs))
	for i, pkg := range pkgs {
		classNbr := pkg.ClassNumber()
		if classNbr == "" {
			f.logger.Debug("package without class number",
				zap.String("term", term),
				zap.String("subject", subject),
				zap.String("course", course),
				zap.Int("index", i),
			)
			continue
		}

		raw := pkg.PackageEnrollmentStatus.Status
		sections[classNbr] = SectionInfo{
			Status:    seat.Normalize(raw),
			RawStatus: raw,
			Title:     BuildTitle(f.subjects.Resolve(ctx, subject, pkg), pkg, pkgs),
			OpenSeats: pkg.EnrollmentStatus.OpenSeats,
		}
	}

	return sections, nil
}
