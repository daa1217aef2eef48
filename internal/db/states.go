package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/seatwatch/internal/seat"
)

// StateGrace is how long section state outlives its term.
const StateGrace = 45 * 24 * time.Hour

// GetState returns the stored state of a section, or nil if it has never
// been scanned (or its row has expired).
func (r *Repository) GetState(ctx context.Context, term, classNbr string) (*SectionState, error) {
	query := `
		SELECT term_code, class_number, status, title,
		       last_changed_at, scanned_at, expires_at
		FROM section_states
		WHERE term_code = $1 AND class_number = $2 AND expires_at > NOW()
	`

	var st SectionState
	var status string
	err := r.db.Pool().QueryRow(ctx, query, term, classNbr).Scan(
		&st.TermCode,
		&st.ClassNumber,
		&status,
		&st.Title,
		&st.LastChangedAt,
		&st.ScannedAt,
		&st.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get section state",
			zap.Error(err),
			zap.String("term", term),
			zap.String("class_nbr", classNbr),
		)
		return nil, fmt.Errorf("query section state: %w", err)
	}

	st.Status = seat.Status(status)
	return &st, nil
}

// PutState upserts a section's state. Concurrent writers race and the last
// one wins. An empty title keeps the stored one.
func (r *Repository) PutState(ctx context.Context, st *SectionState) error {
	if !st.Status.Valid() {
		return fmt.Errorf("put section state: invalid status %q", st.Status)
	}

	query := `
		INSERT INTO section_states (
			term_code, class_number, status, title,
			last_changed_at, scanned_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (term_code, class_number) DO UPDATE SET
			status          = EXCLUDED.status,
			title           = COALESCE(NULLIF(EXCLUDED.title, ''), section_states.title),
			last_changed_at = EXCLUDED.last_changed_at,
			scanned_at      = EXCLUDED.scanned_at,
			expires_at      = EXCLUDED.expires_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		st.TermCode,
		st.ClassNumber,
		string(st.Status),
		st.Title,
		st.LastChangedAt,
		st.ScannedAt,
		st.ExpiresAt,
	)
	if err != nil {
		r.logger.Error("failed to put section state",
			zap.Error(err),
			zap.String("term", st.TermCode),
			zap.String("class_nbr", st.ClassNumber),
		)
		return fmt.Errorf("upsert section state: %w", err)
	}

	return nil
}

// TouchScanned refreshes the freshness marker without changing status.
func (r *Repository) TouchScanned(ctx context.Context, term, classNbr string, at time.Time) error {
	query := `
		UPDATE section_states
		SET scanned_at = $3
		WHERE term_code = $1 AND class_number = $2
	`

	if _, err := r.db.Pool().Exec(ctx, query, term, classNbr, at); err != nil {
		return fmt.Errorf("touch section state: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired section states and unsubscribe tokens.
func (r *Repository) PurgeExpired(ctx context.Context) (int64, error) {
	var total int64

	for _, query := range []string{
		`DELETE FROM section_states WHERE expires_at <= NOW()`,
		`DELETE FROM unsubscribe_tokens WHERE expires_at <= NOW()`,
		`DELETE FROM suppressions WHERE expires_at IS NOT NULL AND expires_at <= NOW()`,
	} {
		tag, err := r.db.Pool().Exec(ctx, query)
		if err != nil {
			return total, fmt.Errorf("purge expired: %w", err)
		}
		total += tag.RowsAffected()
	}

	if total > 0 {
		r.logger.Info("purged expired rows", zap.Int64("rows", total))
	}
	return total, nil
}
