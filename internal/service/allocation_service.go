package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type allocationWriter interface {
	CreateLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration) error
	ChangeLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration, newSlotID, notes string) error
	SubmitPreferences(ctx context.Context, prefs []models.EnterprisePreference) error
}

type registrationReader interface {
	FindLecturerRegistration(ctx context.Context, studentID, periodID string) (*models.LecturerRegistration, error)
	FindLecturerRegistrationByID(ctx context.Context, id string) (*models.LecturerRegistration, error)
	FindPreferenceByID(ctx context.Context, id string) (*models.EnterprisePreference, error)
	CountPreferences(ctx context.Context, studentID, periodID string) (int, error)
	ListLecturerRegistrations(ctx context.Context, filter models.RegistrationFilter) ([]models.LecturerRegistrationDetail, error)
	ListPreferences(ctx context.Context, filter models.RegistrationFilter) ([]models.EnterprisePreferenceDetail, error)
	LecturerResults(ctx context.Context, periodID string) ([]models.LecturerResult, error)
	EnterpriseResults(ctx context.Context, periodID string) ([]models.EnterpriseResult, error)
	Stats(ctx context.Context) (*models.DashboardStats, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type lecturerSlotReader interface {
	FindByID(ctx context.Context, id string) (*models.LecturerSlot, error)
}

// PlacementStatus is the student's own view of the allocation state.
type PlacementStatus struct {
	Registration *models.LecturerRegistrationDetail  `json:"registration,omitempty"`
	Preferences  []models.EnterprisePreferenceDetail `json:"preferences"`
}

// AllocationService is the student-facing half of the placement engine:
// choosing a supervising lecturer and submitting the ranked enterprise list.
// Capacity movement happens inside the allocation repository transactions;
// this layer enforces the preconditions that do not need row locks.
type AllocationService struct {
	alloc     allocationWriter
	regs      registrationReader
	students  studentReader
	slots     lecturerSlotReader
	periods   periodReader
	cache     cacheStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAllocationService constructs AllocationService.
func NewAllocationService(alloc allocationWriter, regs registrationReader, students studentReader, slots lecturerSlotReader, periods periodReader, cache cacheStore, validate *validator.Validate, logger *zap.Logger) *AllocationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationService{alloc: alloc, regs: regs, students: students, slots: slots, periods: periods, cache: cache, validator: validate, logger: logger}
}

// RegisterLecturer records or changes the student's lecturer choice in the
// active period. The first choice is approved and claims capacity
// immediately; a change releases the old slot and claims the new one in a
// single transaction.
func (s *AllocationService) RegisterLecturer(ctx context.Context, studentID string, req models.LecturerRegistrationRequest) (*models.LecturerRegistration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if _, err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	period, err := s.openPeriod(ctx)
	if err != nil {
		return nil, err
	}

	slot, err := s.slots.FindByID(ctx, req.LecturerSlotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecturer slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecturer slot")
	}
	if slot.PeriodID != period.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lecturer slot does not belong to the active period")
	}
	if !slot.CanGuide {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lecturer is not accepting students this period")
	}
	if slot.CurrentSlots >= slot.MaxSlots {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "lecturer has no remaining capacity")
	}

	existing, err := s.regs.FindLecturerRegistration(ctx, studentID, period.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	if existing == nil {
		reg := &models.LecturerRegistration{
			StudentID:      studentID,
			LecturerSlotID: req.LecturerSlotID,
			PeriodID:       period.ID,
			Notes:          req.Notes,
		}
		if err := s.alloc.CreateLecturerRegistration(ctx, reg); err != nil {
			return nil, err
		}
		s.invalidateAvailability(ctx, period.ID)
		s.logger.Info("lecturer registration created",
			zap.String("student_id", studentID),
			zap.String("lecturer_slot_id", req.LecturerSlotID),
			zap.String("period_id", period.ID))
		return reg, nil
	}

	if existing.LecturerSlotID == req.LecturerSlotID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already registered with this lecturer")
	}
	if err := s.alloc.ChangeLecturerRegistration(ctx, existing, req.LecturerSlotID, req.Notes); err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx, period.ID)
	s.logger.Info("lecturer registration changed",
		zap.String("student_id", studentID),
		zap.String("lecturer_slot_id", req.LecturerSlotID),
		zap.String("period_id", period.ID))
	return existing, nil
}

// SubmitPreferences stores the student's full ranked enterprise list for the
// period. A submission happens once; ranks must be a contiguous run starting
// at 1, every target must be in the period with spare capacity, and a single
// bad entry fails the whole list.
func (s *AllocationService) SubmitPreferences(ctx context.Context, studentID string, sub models.PreferenceSubmission) error {
	if err := s.validator.Struct(sub); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preference payload")
	}
	if err := validatePreferenceOrders(sub.Preferences); err != nil {
		return err
	}
	if _, err := s.ensureStudent(ctx, studentID); err != nil {
		return err
	}

	period, err := s.periods.FindByID(ctx, sub.PeriodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	if !period.Open(time.Now().UTC()) {
		return appErrors.Clone(appErrors.ErrPeriodClosed, "registration period is not open")
	}

	if _, err := s.regs.FindLecturerRegistration(ctx, studentID, period.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "a lecturer registration is required before submitting preferences")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}

	count, err := s.regs.CountPreferences(ctx, studentID, period.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count preferences")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "preferences were already submitted for this period")
	}

	prefs := make([]models.EnterprisePreference, 0, len(sub.Preferences))
	for _, entry := range sub.Preferences {
		prefs = append(prefs, models.EnterprisePreference{
			StudentID:        studentID,
			EnterpriseSlotID: entry.EnterpriseSlotID,
			PeriodID:         period.ID,
			PreferenceOrder:  entry.PreferenceOrder,
		})
	}
	if err := s.alloc.SubmitPreferences(ctx, prefs); err != nil {
		return err
	}
	s.logger.Info("preferences submitted",
		zap.String("student_id", studentID),
		zap.String("period_id", period.ID),
		zap.Int("count", len(prefs)))
	return nil
}

// Status returns the student's own registration and ranked preferences for a
// period.
func (s *AllocationService) Status(ctx context.Context, studentID, periodID string) (*PlacementStatus, error) {
	if _, err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	filter := models.RegistrationFilter{StudentID: studentID, PeriodID: periodID}
	regs, err := s.regs.ListLecturerRegistrations(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	prefs, err := s.regs.ListPreferences(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	status := &PlacementStatus{Preferences: prefs}
	if len(regs) > 0 {
		status.Registration = &regs[0]
	}
	return status, nil
}

// ListRegistrations returns lecturer registrations for admin review.
func (s *AllocationService) ListRegistrations(ctx context.Context, filter models.RegistrationFilter) ([]models.LecturerRegistrationDetail, error) {
	regs, err := s.regs.ListLecturerRegistrations(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}
	return regs, nil
}

// ListPreferences returns enterprise preferences for admin review.
func (s *AllocationService) ListPreferences(ctx context.Context, filter models.RegistrationFilter) ([]models.EnterprisePreferenceDetail, error) {
	prefs, err := s.regs.ListPreferences(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list preferences")
	}
	return prefs, nil
}

// Results returns the placement outcome grouped by lecturer and enterprise.
func (s *AllocationService) Results(ctx context.Context, periodID string) ([]models.LecturerResult, []models.EnterpriseResult, error) {
	lecturers, err := s.regs.LecturerResults(ctx, periodID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecturer results")
	}
	enterprises, err := s.regs.EnterpriseResults(ctx, periodID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enterprise results")
	}
	return lecturers, enterprises, nil
}

// Stats returns the admin dashboard counters.
func (s *AllocationService) Stats(ctx context.Context) (*models.DashboardStats, error) {
	stats, err := s.regs.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load dashboard stats")
	}
	return stats, nil
}

func (s *AllocationService) ensureStudent(ctx context.Context, studentID string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *AllocationService) openPeriod(ctx context.Context) (*models.Period, error) {
	period, err := s.periods.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPeriodClosed, "no registration period is active")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active period")
	}
	if !period.Open(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrPeriodClosed, "registration period is not open")
	}
	return period, nil
}

func (s *AllocationService) invalidateAvailability(ctx context.Context, periodID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, availabilityPattern(periodID)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Error(err))
	}
}

// validatePreferenceOrders checks that the submitted ranks form a contiguous
// run 1..N with no repeats, naming the offending rank.
func validatePreferenceOrders(entries []models.PreferenceEntry) error {
	orders := make([]int, 0, len(entries))
	seenSlots := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if seenSlots[entry.EnterpriseSlotID] {
			return appErrors.Clone(appErrors.ErrValidation, "the same enterprise appears more than once")
		}
		seenSlots[entry.EnterpriseSlotID] = true
		orders = append(orders, entry.PreferenceOrder)
	}
	sort.Ints(orders)
	for i, order := range orders {
		if i > 0 && order == orders[i-1] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("preference order %d is used more than once", order))
		}
		if order != i+1 {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("preference orders must run 1 to %d without gaps", len(orders)))
		}
	}
	return nil
}
