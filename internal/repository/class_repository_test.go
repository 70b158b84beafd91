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

func newClassRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestClassRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	rows := sqlmock.NewRows([]string{"id", "title", "description", "image_url", "price", "teacher_email", "teacher_name", "status", "available_seats", "total_enrolled", "created_at", "updated_at"}).
		AddRow("class-1", "Intro to Go", "", "", 50.0, "teacher@example.com", "Ada", models.ClassStatusApproved, 10, 5, time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM classes WHERE id = \\$1").
		WithArgs("class-1").
		WillReturnRows(rows)

	class, err := repo.FindByID(context.Background(), "class-1")
	require.NoError(t, err)
	require.Equal(t, "Intro to Go", class.Title)
	require.Equal(t, 10, class.AvailableSeats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryReserveSeatConsumesOne(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET available_seats = available_seats - 1, total_enrolled = total_enrolled + 1")).
		WithArgs("class-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	reserved, err := repo.ReserveSeat(context.Background(), "class-1")
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassRepositoryReserveSeatFullClass(t *testing.T) {
	db, mock, cleanup := newClassRepoMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	// available_seats > 0 guard matched no rows: the pool is exhausted.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE classes SET available_seats = available_seats - 1, total_enrolled = total_enrolled + 1")).
		WithArgs("class-full", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reserved, err := repo.ReserveSeat(context.Background(), "class-full")
	require.NoError(t, err)
	require.False(t, reserved)
	require.NoError(t, mock.ExpectationsWereMet())
}
