package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type enterpriseSlotRepository interface {
	ListByPeriod(ctx context.Context, periodID string, activeOnly bool) ([]models.EnterpriseSlot, error)
	ListAvailable(ctx context.Context, periodID string) ([]models.EnterpriseSlot, error)
	FindByID(ctx context.Context, id string) (*models.EnterpriseSlot, error)
	FindSentinel(ctx context.Context, periodID string) (*models.EnterpriseSlot, error)
	ExistsByName(ctx context.Context, periodID, name, excludeID string) (bool, error)
	Create(ctx context.Context, slot *models.EnterpriseSlot) error
	Update(ctx context.Context, slot *models.EnterpriseSlot) error
	CountApprovedStudents(ctx context.Context, ids []string) (int, error)
	Delete(ctx context.Context, ids []string) error
}

// EnterpriseRequest describes enterprise create and update payloads.
type EnterpriseRequest struct {
	Name           string `json:"name" validate:"required,max=255"`
	JobDescription string `json:"job_description" validate:"max=2000"`
	Address        string `json:"address" validate:"max=500"`
	ContactInfo    string `json:"contact_info" validate:"max=500"`
	MaxSlots       int    `json:"max_slots" validate:"gte=0"`
	IsActive       bool   `json:"is_active"`
}

// EnterpriseService manages the hosting enterprises of each period.
type EnterpriseService struct {
	repo      enterpriseSlotRepository
	periods   periodReader
	cache     cacheStore
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnterpriseService constructs EnterpriseService.
func NewEnterpriseService(repo enterpriseSlotRepository, periods periodReader, cache cacheStore, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *EnterpriseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnterpriseService{repo: repo, periods: periods, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns the enterprises of a period.
func (s *EnterpriseService) List(ctx context.Context, periodID string, activeOnly bool) ([]models.EnterpriseSlot, error) {
	if err := s.ensurePeriod(ctx, periodID); err != nil {
		return nil, err
	}
	slots, err := s.repo.ListByPeriod(ctx, periodID, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enterprises")
	}
	return slots, nil
}

// ListAvailable returns active non-sentinel enterprises with spare capacity,
// served from cache when possible.
func (s *EnterpriseService) ListAvailable(ctx context.Context, periodID string) ([]models.EnterpriseSlot, error) {
	if err := s.ensurePeriod(ctx, periodID); err != nil {
		return nil, err
	}

	key := availabilityKey("enterprises", periodID)
	if s.cache != nil {
		var cached []models.EnterpriseSlot
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("availability cache read failed", zap.Error(err))
		}
	}

	slots, err := s.repo.ListAvailable(ctx, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list available enterprises")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, slots, s.cacheTTL); err != nil {
			s.logger.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return slots, nil
}

// Get returns one enterprise slot by id.
func (s *EnterpriseService) Get(ctx context.Context, id string) (*models.EnterpriseSlot, error) {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enterprise not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enterprise")
	}
	return slot, nil
}

// Create adds an enterprise to a period. Names are unique within the period.
func (s *EnterpriseService) Create(ctx context.Context, periodID string, req EnterpriseRequest) (*models.EnterpriseSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enterprise payload")
	}
	if err := s.ensurePeriod(ctx, periodID); err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByName(ctx, periodID, req.Name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enterprise name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("enterprise %q already exists in this period", req.Name))
	}

	slot := &models.EnterpriseSlot{
		PeriodID:       periodID,
		Name:           req.Name,
		JobDescription: req.JobDescription,
		Address:        req.Address,
		ContactInfo:    req.ContactInfo,
		MaxSlots:       req.MaxSlots,
		IsActive:       req.IsActive,
	}
	if err := s.repo.Create(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enterprise")
	}
	s.invalidateAvailability(ctx, periodID)
	return slot, nil
}

// Update modifies an enterprise. The sentinel row cannot be renamed or
// deactivated; forced placements depend on it.
func (s *EnterpriseService) Update(ctx context.Context, id string, req EnterpriseRequest) (*models.EnterpriseSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enterprise payload")
	}
	slot, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if slot.IsSentinel && (req.Name != slot.Name || !req.IsActive) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "the home institution entry cannot be renamed or deactivated")
	}
	exists, err := s.repo.ExistsByName(ctx, slot.PeriodID, req.Name, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enterprise name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("enterprise %q already exists in this period", req.Name))
	}
	if req.MaxSlots < slot.CurrentSlots {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("capacity cannot drop below the %d students already placed", slot.CurrentSlots))
	}

	slot.Name = req.Name
	slot.JobDescription = req.JobDescription
	slot.Address = req.Address
	slot.ContactInfo = req.ContactInfo
	slot.MaxSlots = req.MaxSlots
	slot.IsActive = req.IsActive
	if err := s.repo.Update(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enterprise")
	}
	s.invalidateAvailability(ctx, slot.PeriodID)
	return slot, nil
}

// Delete removes enterprises from a period. Blocked while any of them still
// hosts approved students.
func (s *EnterpriseService) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "no enterprises selected")
	}
	var periodID string
	for _, id := range ids {
		slot, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if slot.IsSentinel {
			return appErrors.Clone(appErrors.ErrConflict, "the home institution entry cannot be deleted")
		}
		periodID = slot.PeriodID
	}

	approved, err := s.repo.CountApprovedStudents(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count approved students")
	}
	if approved > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%d approved students are placed at the selected enterprises", approved))
	}

	if err := s.repo.Delete(ctx, ids); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enterprises")
	}
	s.invalidateAvailability(ctx, periodID)
	return nil
}

func (s *EnterpriseService) ensurePeriod(ctx context.Context, periodID string) error {
	if _, err := s.periods.FindByID(ctx, periodID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return nil
}

func (s *EnterpriseService) invalidateAvailability(ctx context.Context, periodID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, availabilityPattern(periodID)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Error(err))
	}
}
