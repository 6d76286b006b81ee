// AngelaMos | 2026
// repository.go

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
)

type Repository interface {
	Create(ctx context.Context, token *VerificationToken) error
	FindByID(ctx context.Context, id string) (*VerificationToken, error)
	MarkAsUsed(ctx context.Context, id string, usedAt time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, token *VerificationToken) error {
	query := `
		INSERT INTO verification_tokens (id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create verification token: %w", core.StoreError(err))
	}

	return nil
}

func (r *repository) FindByID(
	ctx context.Context,
	id string,
) (*VerificationToken, error) {
	query := `
		SELECT id, user_id, expires_at, created_at, is_used, used_at
		FROM verification_tokens
		WHERE id = $1`

	var token VerificationToken
	err := r.db.GetContext(ctx, &token, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find verification token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find verification token: %w", core.StoreError(err))
	}

	return &token, nil
}

func (r *repository) MarkAsUsed(
	ctx context.Context,
	id string,
	usedAt time.Time,
) error {
	query := `
		UPDATE verification_tokens
		SET is_used = true, used_at = $2
		WHERE id = $1 AND is_used = false`

	if _, err := r.db.ExecContext(ctx, query, id, usedAt); err != nil {
		return fmt.Errorf("mark verification token as used: %w", core.StoreError(err))
	}

	return nil
}

func (r *repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM verification_tokens
		WHERE expires_at < $1`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", core.StoreError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	return rows, nil
}
