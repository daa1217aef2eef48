package db

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CreateUnsubscribeToken stores a freshly issued token.
func (r *Repository) CreateUnsubscribeToken(ctx context.Context, tok *UnsubscribeToken) error {
	query := `
		INSERT INTO unsubscribe_tokens (token, user_id, sub_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query, tok.Token, tok.UserID, tok.SubID, tok.CreatedAt, tok.ExpiresAt)
	if err != nil {
		r.logger.Error("failed to create unsubscribe token",
			zap.Error(err),
			zap.String("sub_id", tok.SubID.String()),
		)
		return fmt.Errorf("insert unsubscribe token: %w", err)
	}

	return nil
}

// IsSuppressed reports whether mail to email is blocked.
func (r *Repository) IsSuppressed(ctx context.Context, email string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE email = $1 AND (expires_at IS NULL OR expires_at > NOW())
		)
	`

	var suppressed bool
	if err := r.db.Pool().QueryRow(ctx, query, NormalizeEmail(email)).Scan(&suppressed); err != nil {
		return false, fmt.Errorf("query suppression: %w", err)
	}
	return suppressed, nil
}

// NormalizeEmail is the key form used for suppression lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
