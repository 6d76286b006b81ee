// AngelaMos | 2026
// repository_test.go

package user

import (
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/identity-backend/internal/core"
)

// arrayConverter lets []string arguments reach the mock untouched, the way
// pgx encodes them as Postgres arrays.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]string); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(sqlx.NewDb(db, "pgx")), mock
}

var userRowColumns = []string{
	"id", "email", "password_hash", "first_name", "last_name", "role",
	"is_verified", "verified_at", "created_at", "updated_at",
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newMockRepo(t)
	u := &User{
		ID:           "u1",
		Email:        "a@x.com",
		PasswordHash: "hash",
		Role:         RoleUser,
		CreatedAt:    baseTime,
	}

	mock.ExpectExec("INSERT INTO users").
		WithArgs("u1", "a@x.com", "hash", "", "", RoleUser, baseTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(t.Context(), u))
	assert.Equal(t, baseTime, u.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateWritesProfileAndPassword(t *testing.T) {
	repo, mock := newMockRepo(t)
	u := &User{
		ID:           "u1",
		FirstName:    "Ann",
		LastName:     "Lee",
		Role:         RoleAdmin,
		PasswordHash: "new-hash",
		UpdatedAt:    baseTime,
	}

	mock.ExpectExec("UPDATE users").
		WithArgs("u1", "Ann", "Lee", RoleAdmin, "new-hash", baseTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(t.Context(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(t.Context(), &User{ID: "u1", Email: "a@x.com"})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestRepository_GetByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`WHERE lower\(email\) = lower\(\$1\)`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			"u1", "a@x.com", "hash", "Ann", "", RoleUser,
			false, nil, baseTime, baseTime,
		))

	u, err := repo.GetByEmail(t.Context(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "Ann", u.FirstName)
	assert.False(t, u.IsVerified)
	assert.Nil(t, u.VerifiedAt)
}

func TestRepository_GetByIDErrors(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM users").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	_, err := repo.GetByID(t.Context(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	mock.ExpectQuery("FROM users").
		WithArgs("u1").
		WillReturnError(&pgconn.PgError{Code: "08006"})

	_, err = repo.GetByID(t.Context(), "u1")
	assert.ErrorIs(t, err, core.ErrUnavailable)
}

func TestRepository_MarkVerified(t *testing.T) {
	at := baseTime

	t.Run("transition", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`SET is_verified = true`).
			WithArgs("u1", at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		changed, err := repo.MarkVerified(t.Context(), "u1", at)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already verified", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`SET is_verified = true`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		changed, err := repo.MarkVerified(t.Context(), "u1", at)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("user gone", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`SET is_verified = true`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repo.MarkVerified(t.Context(), "u1", at)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestRepository_DeleteNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(t.Context(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRepository_ListFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	verified := true

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE role = \$1 AND is_verified = \$2`).
		WithArgs(RoleUser, true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY created_at DESC\s+LIMIT \$3 OFFSET \$4`).
		WithArgs(RoleUser, true, 10, 10).
		WillReturnRows(sqlmock.NewRows(userRowColumns).AddRow(
			"u1", "a@x.com", "hash", "", "", RoleUser,
			true, baseTime, baseTime, baseTime,
		))

	users, total, err := repo.List(t.Context(), ListUsersParams{
		Page:     2,
		PageSize: 10,
		Role:     RoleUser,
		Verified: &verified,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)
	require.NotNil(t, users[0].VerifiedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListEscapesSearch(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE \(email ILIKE \$1`).
		WithArgs(`%50\%\_off%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \$2 OFFSET \$3`).
		WithArgs(`%50\%\_off%`, 20, 0).
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	users, total, err := repo.List(t.Context(), ListUsersParams{Search: "50%_off"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, users)
}

func TestRepository_DeleteUnverifiedBefore(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := baseTime.Add(-48 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(cutoff, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1").AddRow("u2"))
	mock.ExpectQuery(`DELETE FROM users\s+WHERE id = ANY\(\$1\) AND is_verified = false`).
		WithArgs([]string{"u1", "u2"}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u2"))
	mock.ExpectCommit()

	deleted, err := repo.DeleteUnverifiedBefore(t.Context(), cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteUnverifiedBeforeNoCandidates(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	deleted, err := repo.DeleteUnverifiedBefore(t.Context(), baseTime, 100)
	require.NoError(t, err)
	assert.Empty(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteUnverifiedBeforeRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("deadlock detected")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectQuery(`DELETE FROM users`).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := repo.DeleteUnverifiedBefore(t.Context(), baseTime, 100)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
