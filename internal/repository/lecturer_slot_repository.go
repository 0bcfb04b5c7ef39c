package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ptit-portal/internship-api/internal/models"
)

// LecturerSlotRepository handles the per-period lecturer capacity rows.
type LecturerSlotRepository struct {
	db *sqlx.DB
}

// NewLecturerSlotRepository constructs the repository.
func NewLecturerSlotRepository(db *sqlx.DB) *LecturerSlotRepository {
	return &LecturerSlotRepository{db: db}
}

const lecturerSlotColumns = "id, lecturer_id, period_id, can_guide, max_slots, current_slots, created_at, updated_at"

// upsert applies one capacity row inside the given executor. current_slots is
// never written here; only the allocation path mutates it.
func upsertLecturerSlot(ctx context.Context, ext sqlx.ExtContext, slot *models.LecturerSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	const query = `INSERT INTO lecturer_slots (id, lecturer_id, period_id, can_guide, max_slots, current_slots, created_at, updated_at)
        VALUES (:id, :lecturer_id, :period_id, :can_guide, :max_slots, 0, :created_at, :updated_at)
        ON CONFLICT (lecturer_id, period_id)
        DO UPDATE SET can_guide = EXCLUDED.can_guide, max_slots = EXCLUDED.max_slots, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, slot); err != nil {
		return fmt.Errorf("upsert lecturer slot: %w", err)
	}
	return nil
}

// Upsert creates or updates the capacity configuration for one lecturer in a
// period. Idempotent: re-applying the same configuration is a no-op update.
func (r *LecturerSlotRepository) Upsert(ctx context.Context, slot *models.LecturerSlot) error {
	return upsertLecturerSlot(ctx, r.db, slot)
}

// BatchUpsert applies a set of capacity rows for one period in a single
// transaction. Any failure rolls back the whole batch.
func (r *LecturerSlotRepository) BatchUpsert(ctx context.Context, periodID string, slots []models.LecturerSlot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch upsert tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i := range slots {
		slots[i].PeriodID = periodID
		if err = upsertLecturerSlot(ctx, tx, &slots[i]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch upsert tx: %w", err)
	}
	return nil
}

// FindByID loads a slot by identifier.
func (r *LecturerSlotRepository) FindByID(ctx context.Context, id string) (*models.LecturerSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM lecturer_slots WHERE id = $1", lecturerSlotColumns)
	var slot models.LecturerSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindByLecturerAndPeriod loads the slot for a lecturer within a period.
func (r *LecturerSlotRepository) FindByLecturerAndPeriod(ctx context.Context, lecturerID, periodID string) (*models.LecturerSlot, error) {
	query := fmt.Sprintf("SELECT %s FROM lecturer_slots WHERE lecturer_id = $1 AND period_id = $2", lecturerSlotColumns)
	var slot models.LecturerSlot
	if err := r.db.GetContext(ctx, &slot, query, lecturerID, periodID); err != nil {
		return nil, err
	}
	return &slot, nil
}

// ListByPeriod returns every capacity row of the period with lecturer detail.
func (r *LecturerSlotRepository) ListByPeriod(ctx context.Context, periodID string) ([]models.LecturerSlotDetail, error) {
	const query = `SELECT ls.id, ls.lecturer_id, ls.period_id, ls.can_guide, ls.max_slots, ls.current_slots, ls.created_at, ls.updated_at,
        l.name AS lecturer_name, l.email AS lecturer_email, l.phone AS lecturer_phone, l.department,
        ls.max_slots - ls.current_slots AS available_slots
        FROM lecturer_slots ls
        JOIN lecturers l ON l.id = ls.lecturer_id
        WHERE ls.period_id = $1
        ORDER BY l.name ASC`
	var slots []models.LecturerSlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, periodID); err != nil {
		return nil, fmt.Errorf("list lecturer slots: %w", err)
	}
	return slots, nil
}

// ListAvailable returns lecturers still open for supervision in the period:
// can_guide with spare capacity.
func (r *LecturerSlotRepository) ListAvailable(ctx context.Context, periodID string) ([]models.LecturerSlotDetail, error) {
	const query = `SELECT ls.id, ls.lecturer_id, ls.period_id, ls.can_guide, ls.max_slots, ls.current_slots, ls.created_at, ls.updated_at,
        l.name AS lecturer_name, l.email AS lecturer_email, l.phone AS lecturer_phone, l.department,
        ls.max_slots - ls.current_slots AS available_slots
        FROM lecturer_slots ls
        JOIN lecturers l ON l.id = ls.lecturer_id
        WHERE ls.period_id = $1 AND ls.can_guide = TRUE AND ls.max_slots > ls.current_slots
        ORDER BY l.name ASC`
	var slots []models.LecturerSlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, periodID); err != nil {
		return nil, fmt.Errorf("list available lecturers: %w", err)
	}
	return slots, nil
}

// Delete removes a capacity row.
func (r *LecturerSlotRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM lecturer_slots WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete lecturer slot: %w", err)
	}
	return nil
}
