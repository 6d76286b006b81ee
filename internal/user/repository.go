// AngelaMos | 2026
// repository.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkVerified(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, params ListUsersParams) ([]User, int, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

const userColumns = `id, email, password_hash, first_name, last_name, role,
		       is_verified, verified_at, created_at, updated_at`

type repository struct {
	db core.TxBeginner
}

func NewRepository(db core.TxBeginner) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name, role,
			is_verified, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, false, $7, $7)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Role,
		user.CreatedAt,
	)
	if err != nil {
		if core.IsDuplicateKeyError(err) {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create user: %w", core.StoreError(err))
	}

	user.IsVerified = false
	user.UpdatedAt = user.CreatedAt
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`

	var user User
	err := r.db.GetContext(ctx, &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", core.StoreError(err))
	}

	return &user, nil
}

func (r *repository) GetByEmail(
	ctx context.Context,
	email string,
) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1)`

	var user User
	err := r.db.GetContext(ctx, &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user by email: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", core.StoreError(err))
	}

	return &user, nil
}

func (r *repository) Update(ctx context.Context, user *User) error {
	query := `
		UPDATE users
		SET first_name = $2, last_name = $3, role = $4,
		    password_hash = $5, updated_at = $6
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Role,
		user.PasswordHash,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", core.StoreError(err))
	}

	return requireRow(result, "update user")
}

func (r *repository) UpdatePassword(
	ctx context.Context,
	id, passwordHash string,
) error {
	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", core.StoreError(err))
	}

	return requireRow(result, "update password")
}

// MarkVerified flips is_verified only while it is still false. It reports
// false with no error when the user was already verified and ErrNotFound
// when the row is gone, for instance removed by the cleanup sweep.
func (r *repository) MarkVerified(
	ctx context.Context,
	id string,
	at time.Time,
) (bool, error) {
	query := `
		UPDATE users
		SET is_verified = true, verified_at = $2, updated_at = $2
		WHERE id = $1 AND is_verified = false`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark verified: %w", core.StoreError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark verified: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id,
	); err != nil {
		return false, fmt.Errorf("mark verified: %w", core.StoreError(err))
	}
	if !exists {
		return false, fmt.Errorf("mark verified: %w", core.ErrNotFound)
	}

	return false, nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", core.StoreError(err))
	}

	return requireRow(result, "delete user")
}

func (r *repository) List(
	ctx context.Context,
	params ListUsersParams,
) ([]User, int, error) {
	params.Normalize()

	var conditions []string
	var args []any
	argIdx := 1

	if params.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)",
			argIdx, argIdx, argIdx))
		args = append(args, "%"+escapeLike(params.Search)+"%")
		argIdx++
	}

	if params.Role != "" {
		conditions = append(conditions, fmt.Sprintf("role = $%d", argIdx))
		args = append(args, params.Role)
		argIdx++
	}

	if params.Verified != nil {
		conditions = append(conditions, fmt.Sprintf("is_verified = $%d", argIdx))
		args = append(args, *params.Verified)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM users %s",
		whereClause,
	)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", core.StoreError(err))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM users
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		userColumns, whereClause, argIdx, argIdx+1)

	args = append(args, params.PageSize, params.Offset())

	var users []User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", core.StoreError(err))
	}

	return users, total, nil
}

func (r *repository) ExistsByEmail(
	ctx context.Context,
	email string,
) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1))`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		return false, fmt.Errorf("check email exists: %w", core.StoreError(err))
	}

	return exists, nil
}

// DeleteUnverifiedBefore removes at most limit unverified users created
// before cutoff. Candidate rows are locked with SKIP LOCKED so concurrent
// sweeps split the work, and the delete re-checks is_verified so a
// verification that committed first always survives.
func (r *repository) DeleteUnverifiedBefore(
	ctx context.Context,
	cutoff time.Time,
	limit int,
) ([]string, error) {
	var deleted []string

	err := core.InTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var candidates []string
		if err := tx.SelectContext(ctx, &candidates, `
			SELECT id
			FROM users
			WHERE is_verified = false AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED`,
			cutoff, limit,
		); err != nil {
			return fmt.Errorf("select unverified users: %w", core.StoreError(err))
		}

		if len(candidates) == 0 {
			return nil
		}

		if err := tx.SelectContext(ctx, &deleted, `
			DELETE FROM users
			WHERE id = ANY($1) AND is_verified = false
			RETURNING id`,
			candidates,
		); err != nil {
			return fmt.Errorf("delete unverified users: %w", core.StoreError(err))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return deleted, nil
}

func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rows == 0 {
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}

	return nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}
