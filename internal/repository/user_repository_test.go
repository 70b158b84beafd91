package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/mentorium-app/mentorium-api/internal/models"
)

func newUserRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestUserRepositoryApproveApplicationAtomically(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	// Role promotion and application status land in the same statement.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET role = $2, application_status = $3")).
		WithArgs("applicant@example.com", models.RoleTeacher, models.ApplicationApproved, sqlmock.AnyArg(), models.ApplicationPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ApproveApplication(context.Background(), "applicant@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryApproveApplicationRequiresPending(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET role = $2, application_status = $3")).
		WithArgs("applicant@example.com", models.RoleTeacher, models.ApplicationApproved, sqlmock.AnyArg(), models.ApplicationPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ApproveApplication(context.Background(), "applicant@example.com")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositorySubmitApplicationFromNoneOrRejected(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	appliedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET application_status = $2, application_title = $3")).
		WithArgs("applicant@example.com", models.ApplicationPending, "Go Basics", "programming", "5 years backend", appliedAt,
			models.ApplicationNone, models.ApplicationRejected).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SubmitApplication(context.Background(), "applicant@example.com", "Go Basics", "programming", "5 years backend", appliedAt)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "photo_url", "role", "active", "last_login", "created_at", "updated_at", "application_status", "application_title", "application_category", "application_experience", "applied_at"}).
		AddRow("user-1", "student@example.com", "hash", "Sam", "", models.RoleStudent, true, nil, time.Now(), time.Now(), models.ApplicationNone, nil, nil, nil, nil)
	mock.ExpectQuery("SELECT .* FROM users WHERE email = \\$1").
		WithArgs("student@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "student@example.com")
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, user.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}
