package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ptit-portal/internship-api/internal/models"
)

// EnterpriseSlotRepository handles the per-period hosting enterprise rows.
type EnterpriseSlotRepository struct {
	db *sqlx.DB
}

// NewEnterpriseSlotRepository constructs the repository.
func NewEnterpriseSlotRepository(db *sqlx.DB) *EnterpriseSlotRepository {
	return &EnterpriseSlotRepository{db: db}
}

const enterpriseSlotColumns = "id, period_id, name, job_description, address, contact_info, max_slots, current_slots, is_active, is_sentinel, created_at, updated_at"

// ListByPeriod returns enterprises of the period, optionally only active ones.
func (r *EnterpriseSlotRepository) ListByPeriod(ctx context.Context, periodID string, activeOnly bool) ([]models.EnterpriseSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM enterprise_slots WHERE period_id = $1", enterpriseSlotColumns)
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY is_sentinel DESC, name ASC"
	var slots []models.EnterpriseSlot
	if err := r.db.SelectContext(ctx, &slots, query, periodID); err != nil {
		return nil, fmt.Errorf("list enterprises: %w", err)
	}
	return slots, nil
}

// ListAvailable returns active enterprises with spare capacity, sentinel
// excluded since students cannot choose it directly.
func (r *EnterpriseSlotRepository) ListAvailable(ctx context.Context, periodID string) ([]models.EnterpriseSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM enterprise_slots
        WHERE period_id = $1 AND is_active = TRUE AND is_sentinel = FALSE AND max_slots > current_slots
        ORDER BY name ASC`, enterpriseSlotColumns)
	var slots []models.EnterpriseSlot
	if err := r.db.SelectContext(ctx, &slots, query, periodID); err != nil {
		return nil, fmt.Errorf("list available enterprises: %w", err)
	}
	return slots, nil
}

// FindByID loads an enterprise slot by identifier.
func (r *EnterpriseSlotRepository) FindByID(ctx context.Context, id string) (*models.EnterpriseSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM enterprise_slots WHERE id = $1", enterpriseSlotColumns)
	var slot models.EnterpriseSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindSentinel returns the reserved home-institution slot of the period.
func (r *EnterpriseSlotRepository) FindSentinel(ctx context.Context, periodID string) (*models.EnterpriseSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM enterprise_slots WHERE period_id = $1 AND is_sentinel = TRUE", enterpriseSlotColumns)
	var slot models.EnterpriseSlot
	if err := r.db.GetContext(ctx, &slot, query, periodID); err != nil {
		return nil, err
	}
	return &slot, nil
}

// ExistsByName checks for a duplicate enterprise name within the period.
func (r *EnterpriseSlotRepository) ExistsByName(ctx context.Context, periodID, name, excludeID string) (bool, error) {
	base := "SELECT 1 FROM enterprise_slots WHERE period_id = $1 AND LOWER(name) = LOWER($2)"
	args := []interface{}{periodID, name}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enterprise name: %w", err)
	}
	return true, nil
}

// Create inserts a new enterprise slot.
func (r *EnterpriseSlotRepository) Create(ctx context.Context, slot *models.EnterpriseSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	const query = `INSERT INTO enterprise_slots (id, period_id, name, job_description, address, contact_info, max_slots, current_slots, is_active, is_sentinel, created_at, updated_at)
        VALUES (:id, :period_id, :name, :job_description, :address, :contact_info, :max_slots, 0, :is_active, :is_sentinel, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create enterprise: %w", err)
	}
	return nil
}

// Update modifies enterprise attributes. current_slots stays with the
// allocation path.
func (r *EnterpriseSlotRepository) Update(ctx context.Context, slot *models.EnterpriseSlot) error {
	slot.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enterprise_slots SET name = :name, job_description = :job_description, address = :address, contact_info = :contact_info, max_slots = :max_slots, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("update enterprise: %w", err)
	}
	return nil
}

// CountApprovedStudents returns the number of students approved into any of
// the given enterprise slots. Non-zero blocks deletion.
func (r *EnterpriseSlotRepository) CountApprovedStudents(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM enterprise_preferences WHERE enterprise_slot_id IN (?) AND status = ?`, ids, models.RegistrationStatusApproved)
	if err != nil {
		return 0, fmt.Errorf("build approved count query: %w", err)
	}
	query = r.db.Rebind(query)
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count approved students: %w", err)
	}
	return count, nil
}

// Delete removes enterprise slots permanently. Pending and rejected
// preferences referencing them cascade away.
func (r *EnterpriseSlotRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM enterprise_slots WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete enterprises: %w", err)
	}
	return nil
}
