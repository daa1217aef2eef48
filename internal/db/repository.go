package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/seat"
)

// DefaultPageSize bounds a single scan page.
const DefaultPageSize = 500

// Repository handles database operations for watches, subscriptions,
// section state, unsubscribe tokens and suppressions.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ScanWatches returns one page of watches with a positive subscriber count,
// ordered by (term, subject, course). term == "" scans every term. The
// returned cursor is nil on the last page.
func (r *Repository) ScanWatches(ctx context.Context, term string, after WatchCursor, limit int) ([]Watch, *WatchCursor, error) {
	limit = pageLimit(limit)

	query := `
		SELECT term_code, subject_code, course_id, sub_count
		FROM watches
		WHERE sub_count > 0
		  AND ($1::text = '' OR term_code = $1)
		  AND (term_code, subject_code, course_id) > ($2::text, $3::text, $4::text)
		ORDER BY term_code, subject_code, course_id
		LIMIT $5
	`

	rows, err := r.db.Pool().Query(ctx, query, term, after.TermCode, after.SubjectCode, after.CourseID, limit)
	if err != nil {
		r.logger.Error("failed to scan watches", zap.Error(err), zap.String("term", term))
		return nil, nil, fmt.Errorf("query watches: %w", err)
	}
	defer rows.Close()

	var watches []Watch
	for rows.Next() {
		var w Watch
		if err := rows.Scan(&w.TermCode, &w.SubjectCode, &w.CourseID, &w.SubCount); err != nil {
			return nil, nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate watches: %w", err)
	}

	return watches, nextWatchCursor(watches, limit), nil
}

// ScanSubscriptions returns one page of active subscriptions for a term,
// ordered by id. Pass uuid.Nil to start; the returned cursor is uuid.Nil on
// the last page.
func (r *Repository) ScanSubscriptions(ctx context.Context, term string, after uuid.UUID, limit int) ([]Subscription, uuid.UUID, error) {
	limit = pageLimit(limit)

	query := subscriptionColumns + `
		FROM subscriptions
		WHERE term_code = $1 AND active AND sub_id > $2
		ORDER BY sub_id
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, term, after, limit)
	if err != nil {
		r.logger.Error("failed to scan subscriptions", zap.Error(err), zap.String("term", term))
		return nil, uuid.Nil, fmt.Errorf("query subscriptions: %w", err)
	}

	subs, err := collectSubscriptions(rows)
	if err != nil {
		return nil, uuid.Nil, err
	}

	next := uuid.Nil
	if len(subs) == limit {
		next = subs[len(subs)-1].ID
	}
	return subs, next, nil
}

// ListActiveBySection returns every active subscription to one section.
func (r *Repository) ListActiveBySection(ctx context.Context, term, classNbr string) ([]Subscription, error) {
	query := subscriptionColumns + `
		FROM subscriptions
		WHERE term_code = $1 AND class_number = $2 AND active
		ORDER BY created_at, sub_id
	`

	rows, err := r.db.Pool().Query(ctx, query, term, classNbr)
	if err != nil {
		r.logger.Error("failed to list subscribers",
			zap.Error(err),
			zap.String("term", term),
			zap.String("class_nbr", classNbr),
		)
		return nil, fmt.Errorf("query subscribers: %w", err)
	}

	return collectSubscriptions(rows)
}

const subscriptionColumns = `
		SELECT sub_id, user_id, term_code, subject_code, course_id,
		       catalog_number, class_number, section_name, title,
		       notify_on, active, created_at`

func collectSubscriptions(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		var notifyOn string
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.TermCode,
			&s.SubjectCode,
			&s.CourseID,
			&s.CatalogNumber,
			&s.ClassNumber,
			&s.SectionName,
			&s.Title,
			&notifyOn,
			&s.Active,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		s.NotifyOn = seat.ParsePreference(notifyOn)
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 5000 {
		return DefaultPageSize
	}
	return limit
}

func nextWatchCursor(page []Watch, limit int) *WatchCursor {
	if len(page) < limit || len(page) == 0 {
		return nil
	}
	last := page[len(page)-1]
	return &WatchCursor{TermCode: last.TermCode, SubjectCode: last.SubjectCode, CourseID: last.CourseID}
}
