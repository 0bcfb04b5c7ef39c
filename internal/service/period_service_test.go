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
	"github.com/ptit-portal/internship-api/pkg/config"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

type mockPeriodRepo struct {
	periods     map[string]*models.Period
	active      *models.Period
	overlapping *models.Period
	created     *models.Period
	sentinel    *models.EnterpriseSlot
	updated     *models.Period
	occupied    int
	deleted     []string
}

func (m *mockPeriodRepo) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error) {
	var list []models.Period
	for _, p := range m.periods {
		list = append(list, *p)
	}
	return list, len(list), nil
}

func (m *mockPeriodRepo) FindByID(ctx context.Context, id string) (*models.Period, error) {
	if p, ok := m.periods[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPeriodRepo) FindActive(ctx context.Context) (*models.Period, error) {
	if m.active == nil {
		return nil, sql.ErrNoRows
	}
	return m.active, nil
}

func (m *mockPeriodRepo) FindOverlapping(ctx context.Context, start, end time.Time, excludeID string) (*models.Period, error) {
	if m.overlapping != nil && m.overlapping.ID != excludeID {
		return m.overlapping, nil
	}
	return nil, nil
}

func (m *mockPeriodRepo) Create(ctx context.Context, period *models.Period, sentinel *models.EnterpriseSlot) error {
	period.ID = "period-new"
	sentinel.PeriodID = period.ID
	sentinel.IsSentinel = true
	m.created = period
	m.sentinel = sentinel
	return nil
}

func (m *mockPeriodRepo) Update(ctx context.Context, period *models.Period) error {
	m.updated = period
	return nil
}

func (m *mockPeriodRepo) CountOccupiedSlots(ctx context.Context, id string) (int, error) {
	return m.occupied, nil
}

func (m *mockPeriodRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func placementConfigFixture() config.PlacementConfig {
	return config.PlacementConfig{SentinelEnterpriseName: "Home Institution", SentinelMaxSlots: 1000}
}

func periodRequestFixture() PeriodRequest {
	return PeriodRequest{
		Name:      "Summer 2026",
		StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
	}
}

func TestPeriodServiceCreateProvisionsSentinel(t *testing.T) {
	repo := &mockPeriodRepo{}
	svc := NewPeriodService(repo, placementConfigFixture(), validator.New(), zap.NewNop())

	period, err := svc.Create(context.Background(), periodRequestFixture())
	require.NoError(t, err)
	assert.Equal(t, "period-new", period.ID)
	require.NotNil(t, repo.sentinel)
	assert.Equal(t, "Home Institution", repo.sentinel.Name)
	assert.Equal(t, 1000, repo.sentinel.MaxSlots)
	assert.True(t, repo.sentinel.IsSentinel)
}

func TestPeriodServiceCreateOverlap(t *testing.T) {
	existing := &models.Period{
		ID:        "period-1",
		Name:      "Spring 2026",
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC),
	}
	repo := &mockPeriodRepo{overlapping: existing}
	svc := NewPeriodService(repo, placementConfigFixture(), validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), periodRequestFixture())
	assertPlacementError(t, err, appErrors.ErrConflict)
	assert.Contains(t, err.Error(), "Spring 2026")
}

func TestPeriodServiceCreateInvertedDates(t *testing.T) {
	svc := NewPeriodService(&mockPeriodRepo{}, placementConfigFixture(), validator.New(), zap.NewNop())

	req := periodRequestFixture()
	req.StartDate, req.EndDate = req.EndDate, req.StartDate
	_, err := svc.Create(context.Background(), req)
	assertPlacementError(t, err, appErrors.ErrValidation)
}

// Updating a period must not report an overlap against itself.
func TestPeriodServiceUpdateIgnoresSelfOverlap(t *testing.T) {
	existing := &models.Period{
		ID:        "period-1",
		Name:      "Summer 2026",
		StartDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
	repo := &mockPeriodRepo{periods: map[string]*models.Period{"period-1": existing}, overlapping: existing}
	svc := NewPeriodService(repo, placementConfigFixture(), validator.New(), zap.NewNop())

	req := periodRequestFixture()
	req.Description = "extended"
	period, err := svc.Update(context.Background(), "period-1", req)
	require.NoError(t, err)
	assert.Equal(t, "extended", period.Description)
	require.NotNil(t, repo.updated)
}

func TestPeriodServiceDeleteBlockedWhileOccupied(t *testing.T) {
	repo := &mockPeriodRepo{
		periods:  map[string]*models.Period{"period-1": {ID: "period-1", Name: "Summer 2026"}},
		occupied: 4,
	}
	svc := NewPeriodService(repo, placementConfigFixture(), validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "period-1")
	assertPlacementError(t, err, appErrors.ErrConflict)
	assert.Empty(t, repo.deleted)
}

func TestPeriodServiceDeleteEmptyPeriod(t *testing.T) {
	repo := &mockPeriodRepo{periods: map[string]*models.Period{"period-1": {ID: "period-1", Name: "Summer 2026"}}}
	svc := NewPeriodService(repo, placementConfigFixture(), validator.New(), zap.NewNop())

	require.NoError(t, svc.Delete(context.Background(), "period-1"))
	assert.Equal(t, []string{"period-1"}, repo.deleted)
}

func TestPeriodServiceGetActiveNone(t *testing.T) {
	svc := NewPeriodService(&mockPeriodRepo{}, placementConfigFixture(), validator.New(), zap.NewNop())

	_, err := svc.GetActive(context.Background())
	assertPlacementError(t, err, appErrors.ErrNotFound)
}
