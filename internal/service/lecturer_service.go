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

type lecturerRepository interface {
	List(ctx context.Context) ([]models.Lecturer, error)
	FindByID(ctx context.Context, id string) (*models.Lecturer, error)
	ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error)
	Create(ctx context.Context, lecturer *models.Lecturer) error
	Update(ctx context.Context, lecturer *models.Lecturer) error
	Delete(ctx context.Context, id string) error
}

type lecturerSlotRepository interface {
	Upsert(ctx context.Context, slot *models.LecturerSlot) error
	BatchUpsert(ctx context.Context, periodID string, slots []models.LecturerSlot) error
	FindByID(ctx context.Context, id string) (*models.LecturerSlot, error)
	FindByLecturerAndPeriod(ctx context.Context, lecturerID, periodID string) (*models.LecturerSlot, error)
	ListByPeriod(ctx context.Context, periodID string) ([]models.LecturerSlotDetail, error)
	ListAvailable(ctx context.Context, periodID string) ([]models.LecturerSlotDetail, error)
}

type periodReader interface {
	FindByID(ctx context.Context, id string) (*models.Period, error)
	FindActive(ctx context.Context) (*models.Period, error)
}

// cacheStore is the slice of CacheRepository the services need.
type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

func availabilityKey(kind, periodID string) string {
	return fmt.Sprintf("availability:%s:%s", kind, periodID)
}

func availabilityPattern(periodID string) string {
	return fmt.Sprintf("availability:*:%s", periodID)
}

// LecturerRequest describes lecturer create and update payloads.
type LecturerRequest struct {
	Name           string `json:"name" validate:"required,max=255"`
	Email          string `json:"email" validate:"required,email"`
	Phone          string `json:"phone" validate:"max=20"`
	AcademicDegree string `json:"academic_degree" validate:"max=100"`
	Department     string `json:"department" validate:"max=255"`
}

// LecturerService manages lecturers and their per-period guidance capacity.
type LecturerService struct {
	repo      lecturerRepository
	slots     lecturerSlotRepository
	periods   periodReader
	cache     cacheStore
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLecturerService constructs LecturerService.
func NewLecturerService(repo lecturerRepository, slots lecturerSlotRepository, periods periodReader, cache cacheStore, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *LecturerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LecturerService{repo: repo, slots: slots, periods: periods, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns all lecturers.
func (s *LecturerService) List(ctx context.Context) ([]models.Lecturer, error) {
	lecturers, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lecturers")
	}
	return lecturers, nil
}

// Get returns one lecturer by id.
func (s *LecturerService) Get(ctx context.Context, id string) (*models.Lecturer, error) {
	lecturer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecturer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecturer")
	}
	return lecturer, nil
}

// Create registers a new lecturer.
func (s *LecturerService) Create(ctx context.Context, req LecturerRequest) (*models.Lecturer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lecturer payload")
	}
	exists, err := s.repo.ExistsByEmail(ctx, req.Email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check lecturer email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a lecturer with this email already exists")
	}

	lecturer := &models.Lecturer{
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		AcademicDegree: req.AcademicDegree,
		Department:     req.Department,
	}
	if err := s.repo.Create(ctx, lecturer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lecturer")
	}
	return lecturer, nil
}

// Update modifies an existing lecturer.
func (s *LecturerService) Update(ctx context.Context, id string, req LecturerRequest) (*models.Lecturer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lecturer payload")
	}
	lecturer, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByEmail(ctx, req.Email, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check lecturer email")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a lecturer with this email already exists")
	}

	lecturer.Name = req.Name
	lecturer.Email = req.Email
	lecturer.Phone = req.Phone
	lecturer.AcademicDegree = req.AcademicDegree
	lecturer.Department = req.Department
	if err := s.repo.Update(ctx, lecturer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lecturer")
	}
	return lecturer, nil
}

// Delete removes a lecturer.
func (s *LecturerService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete lecturer")
	}
	return nil
}

// UpsertSlot applies the guidance capacity configuration for one lecturer in
// a period. The operation is idempotent; re-applying the same configuration
// changes nothing.
func (s *LecturerService) UpsertSlot(ctx context.Context, periodID string, req models.LecturerSlotUpsert) (*models.LecturerSlot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	if err := s.ensurePeriod(ctx, periodID); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, req.LecturerID); err != nil {
		return nil, err
	}
	if err := s.ensureCapacityFloor(ctx, req.LecturerID, periodID, req.MaxSlots); err != nil {
		return nil, err
	}

	slot := &models.LecturerSlot{
		LecturerID: req.LecturerID,
		PeriodID:   periodID,
		CanGuide:   req.CanGuide,
		MaxSlots:   req.MaxSlots,
	}
	if err := s.slots.Upsert(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save slot configuration")
	}
	s.invalidateAvailability(ctx, periodID)

	stored, err := s.slots.FindByLecturerAndPeriod(ctx, req.LecturerID, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload slot")
	}
	return stored, nil
}

// BatchUpsertSlots applies a whole batch of capacity rows atomically; one bad
// row fails the entire batch.
func (s *LecturerService) BatchUpsertSlots(ctx context.Context, periodID string, reqs []models.LecturerSlotUpsert) error {
	if len(reqs) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "batch must not be empty")
	}
	if err := s.ensurePeriod(ctx, periodID); err != nil {
		return err
	}

	slots := make([]models.LecturerSlot, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		if err := s.validator.Struct(req); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
		}
		if seen[req.LecturerID] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lecturer %s appears twice in the batch", req.LecturerID))
		}
		seen[req.LecturerID] = true
		if _, err := s.Get(ctx, req.LecturerID); err != nil {
			return err
		}
		if err := s.ensureCapacityFloor(ctx, req.LecturerID, periodID, req.MaxSlots); err != nil {
			return err
		}
		slots = append(slots, models.LecturerSlot{
			LecturerID: req.LecturerID,
			PeriodID:   periodID,
			CanGuide:   req.CanGuide,
			MaxSlots:   req.MaxSlots,
		})
	}

	if err := s.slots.BatchUpsert(ctx, periodID, slots); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save slot batch")
	}
	s.invalidateAvailability(ctx, periodID)
	return nil
}

// ListSlots returns every capacity row of the period.
func (s *LecturerService) ListSlots(ctx context.Context, periodID string) ([]models.LecturerSlotDetail, error) {
	if err := s.ensurePeriod(ctx, periodID); err != nil {
		return nil, err
	}
	slots, err := s.slots.ListByPeriod(ctx, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list slots")
	}
	return slots, nil
}

// ListAvailable returns lecturers open for supervision, served from cache
// when possible.
func (s *LecturerService) ListAvailable(ctx context.Context, periodID string) ([]models.LecturerSlotDetail, error) {
	if err := s.ensurePeriod(ctx, periodID); err != nil {
		return nil, err
	}

	key := availabilityKey("lecturers", periodID)
	if s.cache != nil {
		var cached []models.LecturerSlotDetail
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("availability cache read failed", zap.Error(err))
		}
	}

	slots, err := s.slots.ListAvailable(ctx, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list available lecturers")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, slots, s.cacheTTL); err != nil {
			s.logger.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return slots, nil
}

func (s *LecturerService) ensurePeriod(ctx context.Context, periodID string) error {
	if _, err := s.periods.FindByID(ctx, periodID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return nil
}

// ensureCapacityFloor rejects a max_slots value below the students already
// assigned to the lecturer in the period.
func (s *LecturerService) ensureCapacityFloor(ctx context.Context, lecturerID, periodID string, maxSlots int) error {
	existing, err := s.slots.FindByLecturerAndPeriod(ctx, lecturerID, periodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot configuration")
	}
	if maxSlots < existing.CurrentSlots {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("capacity cannot drop below the %d students already assigned", existing.CurrentSlots))
	}
	return nil
}

func (s *LecturerService) invalidateAvailability(ctx context.Context, periodID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, availabilityPattern(periodID)); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Error(err))
	}
}
