package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptit-portal/internship-api/internal/models"
)

func TestRegistrationRepositoryStats(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewRegistrationRepository(sqlx.NewDb(db, "sqlmock"))

	rows := sqlmock.NewRows([]string{"students", "lecturers", "enterprises", "pending_registrations", "pending_preferences", "placed_students"}).
		AddRow(120, 12, 8, 3, 5, 90)
	mock.ExpectQuery(regexp.QuoteMeta("(SELECT COUNT(*) FROM students) AS students")).
		WithArgs(models.RegistrationStatusPending, models.RegistrationStatusApproved).
		WillReturnRows(rows)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120, stats.Students)
	assert.Equal(t, 8, stats.Enterprises)
	assert.Equal(t, 3, stats.PendingRegistrations)
	assert.Equal(t, 90, stats.PlacedStudents)
	require.NoError(t, mock.ExpectationsWereMet())
}
