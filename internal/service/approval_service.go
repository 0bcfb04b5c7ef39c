package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type approvalWriter interface {
	ReviewLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration, status models.RegistrationStatus, notes string) error
	ApproveIntoSlot(ctx context.Context, studentID, periodID, targetSlotID, notes string) error
	RejectPreference(ctx context.Context, pref *models.EnterprisePreference, notes string) error
}

type sentinelFinder interface {
	FindSentinel(ctx context.Context, periodID string) (*models.EnterpriseSlot, error)
}

// ApprovalService is the admin half of the placement engine: reviewing
// lecturer registrations and enterprise preferences, and forcing students
// into the home institution. Approving a preference retroactively rejects
// every competing one for that student and period.
type ApprovalService struct {
	alloc     approvalWriter
	regs      registrationReader
	students  studentReader
	sentinels sentinelFinder
	periods   periodReader
	cache     cacheStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewApprovalService constructs ApprovalService.
func NewApprovalService(alloc approvalWriter, regs registrationReader, students studentReader, sentinels sentinelFinder, periods periodReader, cache cacheStore, validate *validator.Validate, logger *zap.Logger) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{alloc: alloc, regs: regs, students: students, sentinels: sentinels, periods: periods, cache: cache, validator: validate, logger: logger}
}

// ReviewLecturerRegistration applies an admin decision to a registration.
// Approving claims the lecturer slot, rejecting a previously approved
// registration gives the slot back.
func (s *ApprovalService) ReviewLecturerRegistration(ctx context.Context, id string, req models.ReviewRequest) (*models.LecturerRegistration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	reg, err := s.regs.FindLecturerRegistrationByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if reg.Status == req.Status {
		return nil, appErrors.Clone(appErrors.ErrConflict, "registration already has this status")
	}

	if err := s.alloc.ReviewLecturerRegistration(ctx, reg, req.Status, req.Notes); err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx, reg.PeriodID)
	s.logger.Info("lecturer registration reviewed",
		zap.String("registration_id", reg.ID),
		zap.String("status", string(req.Status)))
	return reg, nil
}

// ReviewPreference applies an admin decision to one preference. Approval
// places the student at the enterprise, or at the home institution when
// force_academy is set, and unwinds every sibling preference in the same
// transaction. Rejecting an approved preference releases its slot; a student
// left with no approved preference is a valid end state.
func (s *ApprovalService) ReviewPreference(ctx context.Context, id string, req models.ReviewRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	pref, err := s.regs.FindPreferenceByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "preference not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preference")
	}

	if req.Status == models.RegistrationStatusRejected {
		if pref.Status == models.RegistrationStatusRejected {
			return appErrors.Clone(appErrors.ErrConflict, "preference is already rejected")
		}
		if err := s.alloc.RejectPreference(ctx, pref, req.Notes); err != nil {
			return err
		}
		s.invalidateAvailability(ctx, pref.PeriodID)
		return nil
	}

	targetSlotID := pref.EnterpriseSlotID
	if req.ForceAcademy {
		sentinel, err := s.sentinels.FindSentinel(ctx, pref.PeriodID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "home institution entry not found for period")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load home institution entry")
		}
		targetSlotID = sentinel.ID
	}

	if err := s.alloc.ApproveIntoSlot(ctx, pref.StudentID, pref.PeriodID, targetSlotID, req.Notes); err != nil {
		return err
	}
	s.invalidateAvailability(ctx, pref.PeriodID)
	s.logger.Info("preference approved",
		zap.String("preference_id", pref.ID),
		zap.String("student_id", pref.StudentID),
		zap.Bool("force_academy", req.ForceAcademy))
	return nil
}

// ForceAcademyPlacement places a student at the home institution directly,
// independent of any submitted preference.
func (s *ApprovalService) ForceAcademyPlacement(ctx context.Context, req models.ForcePlacementRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid placement payload")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if _, err := s.periods.FindByID(ctx, req.PeriodID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}

	sentinel, err := s.sentinels.FindSentinel(ctx, req.PeriodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "home institution entry not found for period")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load home institution entry")
	}

	if err := s.alloc.ApproveIntoSlot(ctx, req.StudentID, req.PeriodID, sentinel.ID, req.Notes); err != nil {
		return err
	}
	s.invalidateAvailability(ctx, req.PeriodID)
	s.logger.Info("forced academy placement",
		zap.String("student_id", req.StudentID),
		zap.String("period_id", req.PeriodID))
	return nil
}

func (s *ApprovalService) invalidateAvailability(ctx context.Context, periodID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, availabilityPattern(periodID)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Error(err))
	}
}
