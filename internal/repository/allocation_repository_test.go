package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

func newAllocationRepoMock(t *testing.T) (*AllocationRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := NewAllocationRepository(sqlx.NewDb(db, "sqlmock"), nil)
	return repo, mock, func() { db.Close() }
}

func lecturerSlotLockRows(current, max int, canGuide bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
		AddRow("slot-1", "period-1", max, current, canGuide, true)
}

func TestAllocationRepositoryCreateLecturerRegistration(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	var claims int
	repo.ClaimHook = func(kind string) {
		claims++
		assert.Equal(t, "lecturer", kind)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("slot-1").
		WillReturnRows(lecturerSlotLockRows(2, 5, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lecturer_slots SET current_slots = current_slots + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lecturer_registrations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg := &models.LecturerRegistration{StudentID: "stu-1", LecturerSlotID: "slot-1"}
	err := repo.CreateLecturerRegistration(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, 1, claims)
	assert.NotEmpty(t, reg.ID)
	assert.Equal(t, "period-1", reg.PeriodID)
	assert.Equal(t, models.RegistrationStatusApproved, reg.Status)
	require.NotNil(t, reg.ReviewedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepositoryCreateLecturerRegistrationFull(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("slot-1").
		WillReturnRows(lecturerSlotLockRows(5, 5, true))
	mock.ExpectRollback()

	err := repo.CreateLecturerRegistration(context.Background(), &models.LecturerRegistration{StudentID: "stu-1", LecturerSlotID: "slot-1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepositoryCreateLecturerRegistrationNotGuiding(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("slot-1").
		WillReturnRows(lecturerSlotLockRows(0, 5, false))
	mock.ExpectRollback()

	err := repo.CreateLecturerRegistration(context.Background(), &models.LecturerRegistration{StudentID: "stu-1", LecturerSlotID: "slot-1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Changing lecturers locks both slots in ascending id order regardless of
// which one is being vacated.
func TestAllocationRepositoryChangeLecturerRegistrationLockOrder(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("slot-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("slot-a", "period-1", 5, 1, true, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("slot-b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("slot-b", "period-1", 5, 3, true, true))
	// Release the vacated slot-b, claim slot-a, rewrite the row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lecturer_slots SET current_slots = $2")).
		WithArgs("slot-b", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lecturer_slots SET current_slots = current_slots + 1")).
		WithArgs("slot-a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lecturer_registrations SET lecturer_slot_id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg := &models.LecturerRegistration{ID: "reg-1", StudentID: "stu-1", LecturerSlotID: "slot-b", Status: models.RegistrationStatusApproved}
	err := repo.ChangeLecturerRegistration(context.Background(), reg, "slot-a", "")
	require.NoError(t, err)
	assert.Equal(t, "slot-a", reg.LecturerSlotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Rejecting an approved registration on a slot already at zero floors the
// counter instead of going negative.
func TestAllocationRepositoryReviewReleaseClamp(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	var clamps int
	repo.ClampHook = func(kind string) { clamps++ }

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("slot-1").
		WillReturnRows(lecturerSlotLockRows(0, 5, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lecturer_slots SET current_slots = $2")).
		WithArgs("slot-1", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lecturer_registrations SET status = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg := &models.LecturerRegistration{ID: "reg-1", LecturerSlotID: "slot-1", Status: models.RegistrationStatusApproved}
	err := repo.ReviewLecturerRegistration(context.Background(), reg, models.RegistrationStatusRejected, "withdrawn")
	require.NoError(t, err)
	assert.Equal(t, 1, clamps)
	assert.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepositorySubmitPreferencesInactiveEnterprise(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("ent-1", "period-1", 5, 0, false, false))
	mock.ExpectRollback()

	prefs := []models.EnterprisePreference{{StudentID: "stu-1", EnterpriseSlotID: "ent-1", PeriodID: "period-1", PreferenceOrder: 1}}
	err := repo.SubmitPreferences(context.Background(), prefs)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepositorySubmitPreferencesInsertsAllPending(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	slotRows := func(id string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow(id, "period-1", 5, 0, false, true)
	}

	mock.ExpectBegin()
	// Targets are locked in ascending slot id order.
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("ent-a").WillReturnRows(slotRows("ent-a"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("ent-b").WillReturnRows(slotRows("ent-b"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enterprise_preferences")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enterprise_preferences")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prefs := []models.EnterprisePreference{
		{StudentID: "stu-1", EnterpriseSlotID: "ent-b", PeriodID: "period-1", PreferenceOrder: 1},
		{StudentID: "stu-1", EnterpriseSlotID: "ent-a", PeriodID: "period-1", PreferenceOrder: 2},
	}
	err := repo.SubmitPreferences(context.Background(), prefs)
	require.NoError(t, err)
	for _, pref := range prefs {
		assert.Equal(t, models.RegistrationStatusPending, pref.Status)
		assert.NotEmpty(t, pref.ID)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

// Approving into a slot the student never ranked inserts the forced row and
// rejects every competing preference, releasing the previously held slot.
func TestAllocationRepositoryApproveIntoSlotForced(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	prefRows := sqlmock.NewRows([]string{"id", "student_id", "enterprise_slot_id", "period_id", "preference_order", "status", "notes", "registered_at", "reviewed_at"}).
		AddRow("pref-1", "stu-1", "ent-a", "period-1", 1, models.RegistrationStatusApproved, "", time.Now(), nil).
		AddRow("pref-2", "stu-1", "ent-b", "period-1", 2, models.RegistrationStatusPending, "", time.Now(), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_preferences WHERE student_id = $1 AND period_id = $2 ORDER BY id FOR UPDATE")).
		WithArgs("stu-1", "period-1").
		WillReturnRows(prefRows)
	// Involved slots, ascending: the held slot ent-a and the target ent-z.
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("ent-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("ent-a", "period-1", 5, 1, false, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("ent-z").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("ent-z", "period-1", 1000, 0, false, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enterprise_slots SET current_slots = $2")).
		WithArgs("ent-a", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enterprise_preferences SET status = $2")).
		WithArgs("pref-1", models.RegistrationStatusRejected, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enterprise_preferences SET status = $2")).
		WithArgs("pref-2", models.RegistrationStatusRejected, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enterprise_slots SET current_slots = current_slots + 1")).
		WithArgs("ent-z", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enterprise_preferences")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ApproveIntoSlot(context.Background(), "stu-1", "period-1", "ent-z", "forced")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepositoryApproveIntoSlotAlreadyPlaced(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	prefRows := sqlmock.NewRows([]string{"id", "student_id", "enterprise_slot_id", "period_id", "preference_order", "status", "notes", "registered_at", "reviewed_at"}).
		AddRow("pref-1", "stu-1", "ent-a", "period-1", 1, models.RegistrationStatusApproved, "", time.Now(), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_preferences WHERE student_id = $1 AND period_id = $2 ORDER BY id FOR UPDATE")).
		WithArgs("stu-1", "period-1").
		WillReturnRows(prefRows)
	mock.ExpectRollback()

	err := repo.ApproveIntoSlot(context.Background(), "stu-1", "period-1", "ent-a", "")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A deactivated enterprise cannot receive a placement even with spare
// capacity; the whole approval rolls back before any sibling is touched.
func TestAllocationRepositoryApproveIntoSlotInactiveEnterprise(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	prefRows := sqlmock.NewRows([]string{"id", "student_id", "enterprise_slot_id", "period_id", "preference_order", "status", "notes", "registered_at", "reviewed_at"}).
		AddRow("pref-1", "stu-1", "ent-a", "period-1", 1, models.RegistrationStatusPending, "", time.Now(), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_preferences WHERE student_id = $1 AND period_id = $2 ORDER BY id FOR UPDATE")).
		WithArgs("stu-1", "period-1").
		WillReturnRows(prefRows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("ent-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("ent-a", "period-1", 5, 0, false, false))
	mock.ExpectRollback()

	err := repo.ApproveIntoSlot(context.Background(), "stu-1", "period-1", "ent-a", "")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Deleting several students placed at the same enterprise releases the slot
// once per student in a single grouped decrement.
func TestAllocationRepositoryDeleteStudentsCascade(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_registrations WHERE student_id IN")).
		WillReturnRows(sqlmock.NewRows([]string{"slot_id", "cnt"}).AddRow("lslot-1", 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_preferences WHERE student_id IN")).
		WillReturnRows(sqlmock.NewRows([]string{"slot_id", "cnt"}).AddRow("ent-1", 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM lecturer_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("lslot-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("lslot-1", "period-1", 5, 3, true, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lecturer_slots SET current_slots = $2")).
		WithArgs("lslot-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enterprise_slots WHERE id = $1 FOR UPDATE")).
		WithArgs("ent-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "period_id", "max_slots", "current_slots", "can_guide", "is_active"}).
			AddRow("ent-1", "period-1", 5, 2, false, true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enterprise_slots SET current_slots = $2")).
		WithArgs("ent-1", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id IN")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.DeleteStudentsCascade(context.Background(), []string{"stu-1", "stu-2"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocationRepositoryDeleteStudentsCascadeEmpty(t *testing.T) {
	repo, mock, cleanup := newAllocationRepoMock(t)
	defer cleanup()

	require.NoError(t, repo.DeleteStudentsCascade(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
