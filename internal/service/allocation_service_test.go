package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type mockAllocationWriter struct {
	created   *models.LecturerRegistration
	changedTo string
	submitted []models.EnterprisePreference
	err       error
}

func (m *mockAllocationWriter) CreateLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration) error {
	if m.err != nil {
		return m.err
	}
	reg.ID = "reg-new"
	reg.Status = models.RegistrationStatusApproved
	m.created = reg
	return nil
}

func (m *mockAllocationWriter) ChangeLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration, newSlotID, notes string) error {
	if m.err != nil {
		return m.err
	}
	m.changedTo = newSlotID
	reg.LecturerSlotID = newSlotID
	return nil
}

func (m *mockAllocationWriter) SubmitPreferences(ctx context.Context, prefs []models.EnterprisePreference) error {
	if m.err != nil {
		return m.err
	}
	m.submitted = prefs
	return nil
}

type mockRegistrationReader struct {
	registrations map[string]*models.LecturerRegistration
	preferences   map[string]*models.EnterprisePreference
	prefCount     int
}

func (m *mockRegistrationReader) FindLecturerRegistration(ctx context.Context, studentID, periodID string) (*models.LecturerRegistration, error) {
	if reg, ok := m.registrations[studentID+"/"+periodID]; ok {
		return reg, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationReader) FindLecturerRegistrationByID(ctx context.Context, id string) (*models.LecturerRegistration, error) {
	if reg, ok := m.registrations[id]; ok {
		return reg, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationReader) FindPreferenceByID(ctx context.Context, id string) (*models.EnterprisePreference, error) {
	if pref, ok := m.preferences[id]; ok {
		return pref, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationReader) CountPreferences(ctx context.Context, studentID, periodID string) (int, error) {
	return m.prefCount, nil
}

func (m *mockRegistrationReader) ListLecturerRegistrations(ctx context.Context, filter models.RegistrationFilter) ([]models.LecturerRegistrationDetail, error) {
	return nil, nil
}

func (m *mockRegistrationReader) ListPreferences(ctx context.Context, filter models.RegistrationFilter) ([]models.EnterprisePreferenceDetail, error) {
	return nil, nil
}

func (m *mockRegistrationReader) LecturerResults(ctx context.Context, periodID string) ([]models.LecturerResult, error) {
	return nil, nil
}

func (m *mockRegistrationReader) EnterpriseResults(ctx context.Context, periodID string) ([]models.EnterpriseResult, error) {
	return nil, nil
}

func (m *mockRegistrationReader) Stats(ctx context.Context) (*models.DashboardStats, error) {
	return &models.DashboardStats{Students: 120, Lecturers: 12, Enterprises: 8, PendingPreferences: 5}, nil
}

type mockStudentReader struct {
	students map[string]*models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockLecturerSlotReader struct {
	slots map[string]*models.LecturerSlot
}

func (m *mockLecturerSlotReader) FindByID(ctx context.Context, id string) (*models.LecturerSlot, error) {
	if s, ok := m.slots[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockPeriodReader struct {
	periods map[string]*models.Period
	active  *models.Period
}

func (m *mockPeriodReader) FindByID(ctx context.Context, id string) (*models.Period, error) {
	if p, ok := m.periods[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPeriodReader) FindActive(ctx context.Context) (*models.Period, error) {
	if m.active == nil {
		return nil, sql.ErrNoRows
	}
	return m.active, nil
}

func openPeriodFixture(id string) *models.Period {
	now := time.Now().UTC()
	return &models.Period{ID: id, Name: "Summer 2026", StartDate: now.AddDate(0, 0, -7), EndDate: now.AddDate(0, 0, 7), IsActive: true}
}

func newAllocationServiceFixture(alloc *mockAllocationWriter, regs *mockRegistrationReader, periods *mockPeriodReader, slots map[string]*models.LecturerSlot) *AllocationService {
	students := &mockStudentReader{students: map[string]*models.Student{"stu-1": {ID: "stu-1", StudentCode: "B21DCCN001", Name: "Nguyen Van An"}}}
	return NewAllocationService(alloc, regs, students, &mockLecturerSlotReader{slots: slots}, periods, nil, validator.New(), zap.NewNop())
}

func assertPlacementError(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, want.Code, appErr.Code)
}

func TestAllocationServiceRegisterLecturerFirstChoice(t *testing.T) {
	alloc := &mockAllocationWriter{}
	periods := &mockPeriodReader{active: openPeriodFixture("period-1")}
	slots := map[string]*models.LecturerSlot{"slot-1": {ID: "slot-1", PeriodID: "period-1", CanGuide: true, MaxSlots: 5, CurrentSlots: 2}}
	svc := newAllocationServiceFixture(alloc, &mockRegistrationReader{}, periods, slots)

	reg, err := svc.RegisterLecturer(context.Background(), "stu-1", models.LecturerRegistrationRequest{LecturerSlotID: "slot-1"})
	require.NoError(t, err)
	require.NotNil(t, alloc.created)
	assert.Equal(t, models.RegistrationStatusApproved, reg.Status)
	assert.Equal(t, "period-1", reg.PeriodID)
}

func TestAllocationServiceRegisterLecturerChange(t *testing.T) {
	alloc := &mockAllocationWriter{}
	periods := &mockPeriodReader{active: openPeriodFixture("period-1")}
	regs := &mockRegistrationReader{registrations: map[string]*models.LecturerRegistration{
		"stu-1/period-1": {ID: "reg-1", StudentID: "stu-1", LecturerSlotID: "slot-1", PeriodID: "period-1", Status: models.RegistrationStatusApproved},
	}}
	slots := map[string]*models.LecturerSlot{"slot-2": {ID: "slot-2", PeriodID: "period-1", CanGuide: true, MaxSlots: 5}}
	svc := newAllocationServiceFixture(alloc, regs, periods, slots)

	reg, err := svc.RegisterLecturer(context.Background(), "stu-1", models.LecturerRegistrationRequest{LecturerSlotID: "slot-2"})
	require.NoError(t, err)
	assert.Equal(t, "slot-2", alloc.changedTo)
	assert.Equal(t, "slot-2", reg.LecturerSlotID)
}

// Re-selecting the current lecturer must not release and re-claim the slot.
func TestAllocationServiceRegisterLecturerReselection(t *testing.T) {
	alloc := &mockAllocationWriter{}
	periods := &mockPeriodReader{active: openPeriodFixture("period-1")}
	regs := &mockRegistrationReader{registrations: map[string]*models.LecturerRegistration{
		"stu-1/period-1": {ID: "reg-1", StudentID: "stu-1", LecturerSlotID: "slot-1", PeriodID: "period-1", Status: models.RegistrationStatusApproved},
	}}
	slots := map[string]*models.LecturerSlot{"slot-1": {ID: "slot-1", PeriodID: "period-1", CanGuide: true, MaxSlots: 5, CurrentSlots: 1}}
	svc := newAllocationServiceFixture(alloc, regs, periods, slots)

	_, err := svc.RegisterLecturer(context.Background(), "stu-1", models.LecturerRegistrationRequest{LecturerSlotID: "slot-1"})
	assertPlacementError(t, err, appErrors.ErrConflict)
	assert.Empty(t, alloc.changedTo)
}

func TestAllocationServiceRegisterLecturerNoActivePeriod(t *testing.T) {
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, &mockPeriodReader{}, nil)

	_, err := svc.RegisterLecturer(context.Background(), "stu-1", models.LecturerRegistrationRequest{LecturerSlotID: "slot-1"})
	assertPlacementError(t, err, appErrors.ErrPeriodClosed)
}

func TestAllocationServiceRegisterLecturerFullSlot(t *testing.T) {
	periods := &mockPeriodReader{active: openPeriodFixture("period-1")}
	slots := map[string]*models.LecturerSlot{"slot-1": {ID: "slot-1", PeriodID: "period-1", CanGuide: true, MaxSlots: 3, CurrentSlots: 3}}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, periods, slots)

	_, err := svc.RegisterLecturer(context.Background(), "stu-1", models.LecturerRegistrationRequest{LecturerSlotID: "slot-1"})
	assertPlacementError(t, err, appErrors.ErrCapacityExceeded)
}

func TestAllocationServiceRegisterLecturerWrongPeriod(t *testing.T) {
	periods := &mockPeriodReader{active: openPeriodFixture("period-1")}
	slots := map[string]*models.LecturerSlot{"slot-1": {ID: "slot-1", PeriodID: "period-old", CanGuide: true, MaxSlots: 3}}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, periods, slots)

	_, err := svc.RegisterLecturer(context.Background(), "stu-1", models.LecturerRegistrationRequest{LecturerSlotID: "slot-1"})
	assertPlacementError(t, err, appErrors.ErrValidation)
}

func submissionFixture(entries ...models.PreferenceEntry) models.PreferenceSubmission {
	return models.PreferenceSubmission{PeriodID: "period-1", Preferences: entries}
}

func TestAllocationServiceSubmitPreferences(t *testing.T) {
	alloc := &mockAllocationWriter{}
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": openPeriodFixture("period-1")}}
	regs := &mockRegistrationReader{registrations: map[string]*models.LecturerRegistration{
		"stu-1/period-1": {ID: "reg-1", StudentID: "stu-1", PeriodID: "period-1", Status: models.RegistrationStatusApproved},
	}}
	svc := newAllocationServiceFixture(alloc, regs, periods, nil)

	sub := submissionFixture(
		models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 1},
		models.PreferenceEntry{EnterpriseSlotID: "ent-2", PreferenceOrder: 2},
		models.PreferenceEntry{EnterpriseSlotID: "ent-3", PreferenceOrder: 3},
	)
	err := svc.SubmitPreferences(context.Background(), "stu-1", sub)
	require.NoError(t, err)
	require.Len(t, alloc.submitted, 3)
	assert.Equal(t, "stu-1", alloc.submitted[0].StudentID)
	assert.Equal(t, "period-1", alloc.submitted[0].PeriodID)
}

func TestAllocationServiceSubmitPreferencesDuplicateRank(t *testing.T) {
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": openPeriodFixture("period-1")}}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, periods, nil)

	sub := submissionFixture(
		models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 1},
		models.PreferenceEntry{EnterpriseSlotID: "ent-2", PreferenceOrder: 2},
		models.PreferenceEntry{EnterpriseSlotID: "ent-3", PreferenceOrder: 2},
		models.PreferenceEntry{EnterpriseSlotID: "ent-4", PreferenceOrder: 4},
		models.PreferenceEntry{EnterpriseSlotID: "ent-5", PreferenceOrder: 5},
	)
	err := svc.SubmitPreferences(context.Background(), "stu-1", sub)
	assertPlacementError(t, err, appErrors.ErrValidation)
	assert.Contains(t, err.Error(), "preference order 2")
}

func TestAllocationServiceSubmitPreferencesGap(t *testing.T) {
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": openPeriodFixture("period-1")}}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, periods, nil)

	sub := submissionFixture(
		models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 1},
		models.PreferenceEntry{EnterpriseSlotID: "ent-2", PreferenceOrder: 3},
	)
	err := svc.SubmitPreferences(context.Background(), "stu-1", sub)
	assertPlacementError(t, err, appErrors.ErrValidation)
}

func TestAllocationServiceSubmitPreferencesDuplicateEnterprise(t *testing.T) {
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": openPeriodFixture("period-1")}}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, periods, nil)

	sub := submissionFixture(
		models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 1},
		models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 2},
	)
	err := svc.SubmitPreferences(context.Background(), "stu-1", sub)
	assertPlacementError(t, err, appErrors.ErrValidation)
}

func TestAllocationServiceSubmitPreferencesRequiresRegistration(t *testing.T) {
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": openPeriodFixture("period-1")}}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, periods, nil)

	err := svc.SubmitPreferences(context.Background(), "stu-1", submissionFixture(models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 1}))
	assertPlacementError(t, err, appErrors.ErrValidation)
	assert.Contains(t, err.Error(), "lecturer registration is required")
}

func TestAllocationServiceSubmitPreferencesAlreadySubmitted(t *testing.T) {
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": openPeriodFixture("period-1")}}
	regs := &mockRegistrationReader{
		registrations: map[string]*models.LecturerRegistration{
			"stu-1/period-1": {ID: "reg-1", StudentID: "stu-1", PeriodID: "period-1", Status: models.RegistrationStatusApproved},
		},
		prefCount: 3,
	}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, regs, periods, nil)

	err := svc.SubmitPreferences(context.Background(), "stu-1", submissionFixture(models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 1}))
	assertPlacementError(t, err, appErrors.ErrConflict)
}

func TestAllocationServiceSubmitPreferencesClosedPeriod(t *testing.T) {
	past := openPeriodFixture("period-1")
	past.EndDate = time.Now().UTC().AddDate(0, 0, -1)
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": past}}
	svc := newAllocationServiceFixture(&mockAllocationWriter{}, &mockRegistrationReader{}, periods, nil)

	err := svc.SubmitPreferences(context.Background(), "stu-1", submissionFixture(models.PreferenceEntry{EnterpriseSlotID: "ent-1", PreferenceOrder: 1}))
	assertPlacementError(t, err, appErrors.ErrPeriodClosed)
}
