package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ptit-portal/internship-api/internal/models"
)

// PeriodRepository handles persistence for internship periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository instantiates a period repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// List returns periods matching the provided filters.
func (r *PeriodRepository) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error) {
	base := "FROM periods WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":       true,
		"start_date": true,
		"end_date":   true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "start_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT id, name, start_date, end_date, description, is_active, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, sortBy, order, size, offset)

	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list periods: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count periods: %w", err)
	}
	return periods, total, nil
}

// FindByID loads a period by identifier.
func (r *PeriodRepository) FindByID(ctx context.Context, id string) (*models.Period, error) {
	const query = `SELECT id, name, start_date, end_date, description, is_active, created_at, updated_at FROM periods WHERE id = $1`
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// FindActive returns the currently active period.
func (r *PeriodRepository) FindActive(ctx context.Context) (*models.Period, error) {
	const query = `SELECT id, name, start_date, end_date, description, is_active, created_at, updated_at FROM periods WHERE is_active = TRUE LIMIT 1`
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query); err != nil {
		return nil, err
	}
	return &period, nil
}

// FindOverlapping returns the first period whose date range intersects
// [start, end], excluding excludeID when set. Returns nil when none overlap.
func (r *PeriodRepository) FindOverlapping(ctx context.Context, start, end time.Time, excludeID string) (*models.Period, error) {
	base := "SELECT id, name, start_date, end_date, description, is_active, created_at, updated_at FROM periods WHERE start_date <= $1 AND end_date >= $2"
	args := []interface{}{end, start}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var period models.Period
	if err := r.db.GetContext(ctx, &period, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("check period overlap: %w", err)
	}
	return &period, nil
}

// Create inserts a period and provisions its sentinel enterprise slot in the
// same transaction. When the new period is active, every other period is
// deactivated first.
func (r *PeriodRepository) Create(ctx context.Context, period *models.Period, sentinel *models.EnterpriseSlot) error {
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if period.CreatedAt.IsZero() {
		period.CreatedAt = now
	}
	period.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create period tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if period.IsActive {
		if _, err = tx.ExecContext(ctx, `UPDATE periods SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE`, now); err != nil {
			return fmt.Errorf("deactivate other periods: %w", err)
		}
	}

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO periods (id, name, start_date, end_date, description, is_active, created_at, updated_at)
        VALUES (:id, :name, :start_date, :end_date, :description, :is_active, :created_at, :updated_at)`, period); err != nil {
		return fmt.Errorf("create period: %w", err)
	}

	sentinel.PeriodID = period.ID
	if sentinel.ID == "" {
		sentinel.ID = uuid.NewString()
	}
	sentinel.IsSentinel = true
	sentinel.IsActive = true
	sentinel.CreatedAt = now
	sentinel.UpdatedAt = now
	if _, err = tx.NamedExecContext(ctx, `INSERT INTO enterprise_slots (id, period_id, name, job_description, address, contact_info, max_slots, current_slots, is_active, is_sentinel, created_at, updated_at)
        VALUES (:id, :period_id, :name, :job_description, :address, :contact_info, :max_slots, :current_slots, :is_active, :is_sentinel, :created_at, :updated_at)`, sentinel); err != nil {
		return fmt.Errorf("create sentinel enterprise: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create period tx: %w", err)
	}
	return nil
}

// Update modifies an existing period, deactivating the rest when it becomes
// active.
func (r *PeriodRepository) Update(ctx context.Context, period *models.Period) error {
	period.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update period tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if period.IsActive {
		if _, err = tx.ExecContext(ctx, `UPDATE periods SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND id <> $2`, period.UpdatedAt, period.ID); err != nil {
			return fmt.Errorf("deactivate other periods: %w", err)
		}
	}

	if _, err = tx.NamedExecContext(ctx, `UPDATE periods SET name = :name, start_date = :start_date, end_date = :end_date, description = :description, is_active = :is_active, updated_at = :updated_at WHERE id = :id`, period); err != nil {
		return fmt.Errorf("update period: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update period tx: %w", err)
	}
	return nil
}

// CountOccupiedSlots counts slots in the period that still hold approved
// students. Non-zero blocks deletion.
func (r *PeriodRepository) CountOccupiedSlots(ctx context.Context, id string) (int, error) {
	const query = `SELECT
        (SELECT COALESCE(SUM(CASE WHEN current_slots > 0 THEN 1 ELSE 0 END), 0) FROM lecturer_slots WHERE period_id = $1) +
        (SELECT COALESCE(SUM(CASE WHEN current_slots > 0 THEN 1 ELSE 0 END), 0) FROM enterprise_slots WHERE period_id = $1)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count occupied slots: %w", err)
	}
	return count, nil
}

// Delete removes a period permanently. Dependent slots and registrations go
// with it via foreign keys.
func (r *PeriodRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM periods WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete period: %w", err)
	}
	return nil
}
