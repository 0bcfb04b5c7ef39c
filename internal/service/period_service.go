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
	"github.com/ptit-portal/internship-api/pkg/config"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type periodRepository interface {
	List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error)
	FindByID(ctx context.Context, id string) (*models.Period, error)
	FindActive(ctx context.Context) (*models.Period, error)
	FindOverlapping(ctx context.Context, start, end time.Time, excludeID string) (*models.Period, error)
	Create(ctx context.Context, period *models.Period, sentinel *models.EnterpriseSlot) error
	Update(ctx context.Context, period *models.Period) error
	CountOccupiedSlots(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

// PeriodRequest describes the create and update payload for periods.
type PeriodRequest struct {
	Name        string    `json:"name" validate:"required,max=255"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`
	Description string    `json:"description" validate:"max=2000"`
	IsActive    bool      `json:"is_active"`
}

// PeriodService orchestrates the period registry. Periods never overlap and
// at most one is active; both rules are enforced here and in the repository
// transaction.
type PeriodService struct {
	repo      periodRepository
	placement config.PlacementConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPeriodService constructs PeriodService.
func NewPeriodService(repo periodRepository, placement config.PlacementConfig, validate *validator.Validate, logger *zap.Logger) *PeriodService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{repo: repo, placement: placement, validator: validate, logger: logger}
}

// List returns periods with pagination metadata.
func (s *PeriodService) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, *models.Pagination, error) {
	periods, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list periods")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return periods, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one period by id.
func (s *PeriodService) Get(ctx context.Context, id string) (*models.Period, error) {
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return period, nil
}

// GetActive returns the single active period, if any.
func (s *PeriodService) GetActive(ctx context.Context) (*models.Period, error) {
	period, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active period")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active period")
	}
	return period, nil
}

// Create registers a new period. The reserved home-institution enterprise is
// provisioned alongside it so forced placements always have a target.
func (s *PeriodService) Create(ctx context.Context, req PeriodRequest) (*models.Period, error) {
	if err := s.validatePeriod(req); err != nil {
		return nil, err
	}
	if err := s.checkOverlap(ctx, req, ""); err != nil {
		return nil, err
	}

	period := &models.Period{
		Name:        req.Name,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Description: req.Description,
		IsActive:    req.IsActive,
	}
	sentinel := &models.EnterpriseSlot{
		Name:     s.placement.SentinelEnterpriseName,
		MaxSlots: s.placement.SentinelMaxSlots,
	}
	if err := s.repo.Create(ctx, period, sentinel); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create period")
	}
	s.logger.Info("period created",
		zap.String("period_id", period.ID),
		zap.String("name", period.Name),
		zap.Bool("is_active", period.IsActive))
	return period, nil
}

// Update modifies an existing period keeping the overlap and single-active
// rules intact.
func (s *PeriodService) Update(ctx context.Context, id string, req PeriodRequest) (*models.Period, error) {
	if err := s.validatePeriod(req); err != nil {
		return nil, err
	}
	period, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkOverlap(ctx, req, id); err != nil {
		return nil, err
	}

	period.Name = req.Name
	period.StartDate = req.StartDate
	period.EndDate = req.EndDate
	period.Description = req.Description
	period.IsActive = req.IsActive
	if err := s.repo.Update(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update period")
	}
	return period, nil
}

// Delete removes a period. Deletion is blocked while any slot of the period
// still holds placed students; those must be released or cascaded first.
func (s *PeriodService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	occupied, err := s.repo.CountOccupiedSlots(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect period slots")
	}
	if occupied > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("period has %d slots with placed students", occupied))
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete period")
	}
	return nil
}

func (s *PeriodService) validatePeriod(req PeriodRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	return nil
}

func (s *PeriodService) checkOverlap(ctx context.Context, req PeriodRequest, excludeID string) error {
	conflict, err := s.repo.FindOverlapping(ctx, req.StartDate, req.EndDate, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check period overlap")
	}
	if conflict != nil {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("dates overlap with period %q (%s to %s)",
			conflict.Name, conflict.StartDate.Format("2006-01-02"), conflict.EndDate.Format("2006-01-02")))
	}
	return nil
}
