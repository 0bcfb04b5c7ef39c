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

func newLecturerSlotRepoMock(t *testing.T) (*LecturerSlotRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewLecturerSlotRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func TestLecturerSlotRepositoryUpsert(t *testing.T) {
	repo, mock, cleanup := newLecturerSlotRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (lecturer_id, period_id)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	slot := &models.LecturerSlot{LecturerID: "lec-1", PeriodID: "period-1", CanGuide: true, MaxSlots: 8}
	err := repo.Upsert(context.Background(), slot)
	require.NoError(t, err)
	assert.NotEmpty(t, slot.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLecturerSlotRepositoryBatchUpsertRollsBack(t *testing.T) {
	repo, mock, cleanup := newLecturerSlotRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (lecturer_id, period_id)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (lecturer_id, period_id)")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	slots := []models.LecturerSlot{
		{LecturerID: "lec-1", CanGuide: true, MaxSlots: 8},
		{LecturerID: "lec-2", CanGuide: true, MaxSlots: 6},
	}
	err := repo.BatchUpsert(context.Background(), "period-1", slots)
	require.Error(t, err)
	assert.Equal(t, "period-1", slots[0].PeriodID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLecturerSlotRepositoryListAvailable(t *testing.T) {
	repo, mock, cleanup := newLecturerSlotRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "lecturer_id", "period_id", "can_guide", "max_slots", "current_slots", "lecturer_name", "lecturer_email", "available_slots"}).
		AddRow("slot-1", "lec-1", "period-1", true, 8, 3, "Dr. Binh", "binh@example.edu", 5)
	mock.ExpectQuery(regexp.QuoteMeta("ls.can_guide = TRUE AND ls.max_slots > ls.current_slots")).
		WithArgs("period-1").
		WillReturnRows(rows)

	slots, err := repo.ListAvailable(context.Background(), "period-1")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 5, slots[0].AvailableSlots)
	require.NoError(t, mock.ExpectationsWereMet())
}
