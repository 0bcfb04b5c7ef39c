package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type mockApprovalWriter struct {
	reviewed       *models.LecturerRegistration
	reviewedStatus models.RegistrationStatus
	approvedSlot   string
	approvedNotes  string
	rejected       *models.EnterprisePreference
	err            error
}

func (m *mockApprovalWriter) ReviewLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration, status models.RegistrationStatus, notes string) error {
	if m.err != nil {
		return m.err
	}
	m.reviewed = reg
	m.reviewedStatus = status
	reg.Status = status
	return nil
}

func (m *mockApprovalWriter) ApproveIntoSlot(ctx context.Context, studentID, periodID, targetSlotID, notes string) error {
	if m.err != nil {
		return m.err
	}
	m.approvedSlot = targetSlotID
	m.approvedNotes = notes
	return nil
}

func (m *mockApprovalWriter) RejectPreference(ctx context.Context, pref *models.EnterprisePreference, notes string) error {
	if m.err != nil {
		return m.err
	}
	m.rejected = pref
	pref.Status = models.RegistrationStatusRejected
	return nil
}

type mockSentinelFinder struct {
	sentinels map[string]*models.EnterpriseSlot
}

func (m *mockSentinelFinder) FindSentinel(ctx context.Context, periodID string) (*models.EnterpriseSlot, error) {
	if s, ok := m.sentinels[periodID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func newApprovalServiceFixture(alloc *mockApprovalWriter, regs *mockRegistrationReader, sentinels *mockSentinelFinder) *ApprovalService {
	students := &mockStudentReader{students: map[string]*models.Student{"stu-1": {ID: "stu-1", StudentCode: "B21DCCN001"}}}
	periods := &mockPeriodReader{periods: map[string]*models.Period{"period-1": openPeriodFixture("period-1")}}
	if sentinels == nil {
		sentinels = &mockSentinelFinder{}
	}
	return NewApprovalService(alloc, regs, students, sentinels, periods, nil, validator.New(), zap.NewNop())
}

func sentinelFixture() *mockSentinelFinder {
	return &mockSentinelFinder{sentinels: map[string]*models.EnterpriseSlot{
		"period-1": {ID: "ent-home", PeriodID: "period-1", Name: "Home Institution", IsSentinel: true, MaxSlots: 1000},
	}}
}

func TestApprovalServiceReviewRegistrationApprove(t *testing.T) {
	alloc := &mockApprovalWriter{}
	regs := &mockRegistrationReader{registrations: map[string]*models.LecturerRegistration{
		"reg-1": {ID: "reg-1", StudentID: "stu-1", PeriodID: "period-1", Status: models.RegistrationStatusPending},
	}}
	svc := newApprovalServiceFixture(alloc, regs, nil)

	reg, err := svc.ReviewLecturerRegistration(context.Background(), "reg-1", models.ReviewRequest{Status: models.RegistrationStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusApproved, reg.Status)
	assert.Equal(t, models.RegistrationStatusApproved, alloc.reviewedStatus)
}

func TestApprovalServiceReviewRegistrationSameStatus(t *testing.T) {
	regs := &mockRegistrationReader{registrations: map[string]*models.LecturerRegistration{
		"reg-1": {ID: "reg-1", StudentID: "stu-1", PeriodID: "period-1", Status: models.RegistrationStatusApproved},
	}}
	svc := newApprovalServiceFixture(&mockApprovalWriter{}, regs, nil)

	_, err := svc.ReviewLecturerRegistration(context.Background(), "reg-1", models.ReviewRequest{Status: models.RegistrationStatusApproved})
	assertPlacementError(t, err, appErrors.ErrConflict)
}

func TestApprovalServiceReviewRegistrationNotFound(t *testing.T) {
	svc := newApprovalServiceFixture(&mockApprovalWriter{}, &mockRegistrationReader{}, nil)

	_, err := svc.ReviewLecturerRegistration(context.Background(), "reg-missing", models.ReviewRequest{Status: models.RegistrationStatusApproved})
	assertPlacementError(t, err, appErrors.ErrNotFound)
}

func TestApprovalServiceApprovePreference(t *testing.T) {
	alloc := &mockApprovalWriter{}
	regs := &mockRegistrationReader{preferences: map[string]*models.EnterprisePreference{
		"pref-1": {ID: "pref-1", StudentID: "stu-1", EnterpriseSlotID: "ent-1", PeriodID: "period-1", Status: models.RegistrationStatusPending},
	}}
	svc := newApprovalServiceFixture(alloc, regs, nil)

	err := svc.ReviewPreference(context.Background(), "pref-1", models.ReviewRequest{Status: models.RegistrationStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, "ent-1", alloc.approvedSlot)
}

// Approving with force_academy substitutes the home institution entry for
// the ranked enterprise.
func TestApprovalServiceApprovePreferenceForceAcademy(t *testing.T) {
	alloc := &mockApprovalWriter{}
	regs := &mockRegistrationReader{preferences: map[string]*models.EnterprisePreference{
		"pref-1": {ID: "pref-1", StudentID: "stu-1", EnterpriseSlotID: "ent-1", PeriodID: "period-1", Status: models.RegistrationStatusPending},
	}}
	svc := newApprovalServiceFixture(alloc, regs, sentinelFixture())

	err := svc.ReviewPreference(context.Background(), "pref-1", models.ReviewRequest{Status: models.RegistrationStatusApproved, ForceAcademy: true})
	require.NoError(t, err)
	assert.Equal(t, "ent-home", alloc.approvedSlot)
}

func TestApprovalServiceRejectPreference(t *testing.T) {
	alloc := &mockApprovalWriter{}
	regs := &mockRegistrationReader{preferences: map[string]*models.EnterprisePreference{
		"pref-1": {ID: "pref-1", StudentID: "stu-1", EnterpriseSlotID: "ent-1", PeriodID: "period-1", Status: models.RegistrationStatusApproved},
	}}
	svc := newApprovalServiceFixture(alloc, regs, nil)

	err := svc.ReviewPreference(context.Background(), "pref-1", models.ReviewRequest{Status: models.RegistrationStatusRejected, Notes: "position withdrawn"})
	require.NoError(t, err)
	require.NotNil(t, alloc.rejected)
	assert.Equal(t, models.RegistrationStatusRejected, alloc.rejected.Status)
}

func TestApprovalServiceRejectPreferenceAlreadyRejected(t *testing.T) {
	regs := &mockRegistrationReader{preferences: map[string]*models.EnterprisePreference{
		"pref-1": {ID: "pref-1", StudentID: "stu-1", EnterpriseSlotID: "ent-1", PeriodID: "period-1", Status: models.RegistrationStatusRejected},
	}}
	svc := newApprovalServiceFixture(&mockApprovalWriter{}, regs, nil)

	err := svc.ReviewPreference(context.Background(), "pref-1", models.ReviewRequest{Status: models.RegistrationStatusRejected})
	assertPlacementError(t, err, appErrors.ErrConflict)
}

func TestApprovalServiceForceAcademyPlacement(t *testing.T) {
	alloc := &mockApprovalWriter{}
	svc := newApprovalServiceFixture(alloc, &mockRegistrationReader{}, sentinelFixture())

	err := svc.ForceAcademyPlacement(context.Background(), models.ForcePlacementRequest{StudentID: "stu-1", PeriodID: "period-1", Notes: "no preference approved"})
	require.NoError(t, err)
	assert.Equal(t, "ent-home", alloc.approvedSlot)
	assert.Equal(t, "no preference approved", alloc.approvedNotes)
}

func TestApprovalServiceForceAcademyPlacementMissingSentinel(t *testing.T) {
	svc := newApprovalServiceFixture(&mockApprovalWriter{}, &mockRegistrationReader{}, nil)

	err := svc.ForceAcademyPlacement(context.Background(), models.ForcePlacementRequest{StudentID: "stu-1", PeriodID: "period-1"})
	assertPlacementError(t, err, appErrors.ErrNotFound)
}

func TestApprovalServiceForceAcademyPlacementUnknownStudent(t *testing.T) {
	svc := newApprovalServiceFixture(&mockApprovalWriter{}, &mockRegistrationReader{}, sentinelFixture())

	err := svc.ForceAcademyPlacement(context.Background(), models.ForcePlacementRequest{StudentID: "stu-missing", PeriodID: "period-1"})
	assertPlacementError(t, err, appErrors.ErrNotFound)
}
