package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ptit-portal/internship-api/internal/models"
	appErrors "github.com/ptit-portal/internship-api/pkg/errors"
)

// AllocationRepository owns every write that moves capacity. All multi-step
// operations run in one transaction with the affected slot rows locked via
// SELECT ... FOR UPDATE; slots are always locked in ascending id order so two
// concurrent operations touching the same pair cannot deadlock.
//
// Capacity violations are detected under the lock, so this repository returns
// the typed placement errors directly instead of leaving the mapping to the
// service layer.
type AllocationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger

	// The hooks feed the placement counters; ClampHook fires when a release
	// would drive current_slots below zero. All are wired at startup.
	ClaimHook   func(slotKind string)
	ReleaseHook func(slotKind string)
	ClampHook   func(slotKind string)
}

// NewAllocationRepository constructs the repository.
func NewAllocationRepository(db *sqlx.DB, logger *zap.Logger) *AllocationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationRepository{db: db, logger: logger}
}

type slotKind string

const (
	slotKindLecturer   slotKind = "lecturer"
	slotKindEnterprise slotKind = "enterprise"
)

// lockedSlot is the capacity view shared by both slot tables.
type lockedSlot struct {
	ID           string `db:"id"`
	PeriodID     string `db:"period_id"`
	MaxSlots     int    `db:"max_slots"`
	CurrentSlots int    `db:"current_slots"`
	CanGuide     bool   `db:"can_guide"`
	IsActive     bool   `db:"is_active"`
}

func (r *AllocationRepository) lockSlot(ctx context.Context, tx *sqlx.Tx, kind slotKind, id string) (*lockedSlot, error) {
	var query string
	switch kind {
	case slotKindLecturer:
		query = `SELECT id, period_id, max_slots, current_slots, can_guide, TRUE AS is_active FROM lecturer_slots WHERE id = $1 FOR UPDATE`
	case slotKindEnterprise:
		query = `SELECT id, period_id, max_slots, current_slots, FALSE AS can_guide, is_active FROM enterprise_slots WHERE id = $1 FOR UPDATE`
	}
	var slot lockedSlot
	if err := tx.GetContext(ctx, &slot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s slot not found", kind))
		}
		return nil, fmt.Errorf("lock %s slot: %w", kind, err)
	}
	return &slot, nil
}

// claim increments a locked slot, failing when it is already full.
func (r *AllocationRepository) claim(ctx context.Context, tx *sqlx.Tx, kind slotKind, slot *lockedSlot) error {
	if slot.CurrentSlots >= slot.MaxSlots {
		return appErrors.Clone(appErrors.ErrCapacityExceeded, fmt.Sprintf("%s slot has no remaining capacity", kind))
	}
	table := "lecturer_slots"
	if kind == slotKindEnterprise {
		table = "enterprise_slots"
	}
	query := fmt.Sprintf(`UPDATE %s SET current_slots = current_slots + 1, updated_at = $2 WHERE id = $1`, table)
	if _, err := tx.ExecContext(ctx, query, slot.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("claim %s slot: %w", kind, err)
	}
	slot.CurrentSlots++
	if r.ClaimHook != nil {
		r.ClaimHook(string(kind))
	}
	return nil
}

// release decrements a locked slot by n, flooring at zero. Hitting the floor
// means a prior accounting bug; the clamp is logged and counted but the
// release itself succeeds.
func (r *AllocationRepository) release(ctx context.Context, tx *sqlx.Tx, kind slotKind, slot *lockedSlot, n int) error {
	next := slot.CurrentSlots - n
	if next < 0 {
		r.logger.Warn("slot release clamped at zero",
			zap.String("slot_kind", string(kind)),
			zap.String("slot_id", slot.ID),
			zap.Int("current_slots", slot.CurrentSlots),
			zap.Int("release_count", n))
		if r.ClampHook != nil {
			r.ClampHook(string(kind))
		}
		next = 0
	}
	table := "lecturer_slots"
	if kind == slotKindEnterprise {
		table = "enterprise_slots"
	}
	query := fmt.Sprintf(`UPDATE %s SET current_slots = $2, updated_at = $3 WHERE id = $1`, table)
	if _, err := tx.ExecContext(ctx, query, slot.ID, next, time.Now().UTC()); err != nil {
		return fmt.Errorf("release %s slot: %w", kind, err)
	}
	slot.CurrentSlots = next
	if r.ReleaseHook != nil {
		r.ReleaseHook(string(kind))
	}
	return nil
}

// CreateLecturerRegistration claims the slot and records the student's first
// lecturer choice, approved immediately.
func (r *AllocationRepository) CreateLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register lecturer tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	slot, err := r.lockSlot(ctx, tx, slotKindLecturer, reg.LecturerSlotID)
	if err != nil {
		return err
	}
	if !slot.CanGuide {
		err = appErrors.Clone(appErrors.ErrValidation, "lecturer is not accepting students this period")
		return err
	}
	if err = r.claim(ctx, tx, slotKindLecturer, slot); err != nil {
		return err
	}

	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	reg.PeriodID = slot.PeriodID
	reg.Status = models.RegistrationStatusApproved
	reg.RegisteredAt = now
	reg.ReviewedAt = &now
	if _, err = tx.NamedExecContext(ctx, `INSERT INTO lecturer_registrations (id, student_id, lecturer_slot_id, period_id, status, notes, registered_at, reviewed_at)
        VALUES (:id, :student_id, :lecturer_slot_id, :period_id, :status, :notes, :registered_at, :reviewed_at)`, reg); err != nil {
		return fmt.Errorf("create lecturer registration: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit register lecturer tx: %w", err)
	}
	return nil
}

// ChangeLecturerRegistration moves an existing registration to a new lecturer
// slot: the old slot is released, the new one claimed, and the row updated in
// place, atomically.
func (r *AllocationRepository) ChangeLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration, newSlotID, notes string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin change lecturer tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ids := []string{reg.LecturerSlotID, newSlotID}
	sort.Strings(ids)
	locked := make(map[string]*lockedSlot, 2)
	for _, id := range ids {
		var slot *lockedSlot
		if slot, err = r.lockSlot(ctx, tx, slotKindLecturer, id); err != nil {
			return err
		}
		locked[id] = slot
	}

	newSlot := locked[newSlotID]
	if !newSlot.CanGuide {
		err = appErrors.Clone(appErrors.ErrValidation, "lecturer is not accepting students this period")
		return err
	}
	if reg.Status == models.RegistrationStatusApproved {
		if err = r.release(ctx, tx, slotKindLecturer, locked[reg.LecturerSlotID], 1); err != nil {
			return err
		}
	}
	if err = r.claim(ctx, tx, slotKindLecturer, newSlot); err != nil {
		return err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE lecturer_registrations SET lecturer_slot_id = $2, status = $3, notes = $4, reviewed_at = $5 WHERE id = $1`,
		reg.ID, newSlotID, models.RegistrationStatusApproved, notes, now); err != nil {
		return fmt.Errorf("update lecturer registration: %w", err)
	}
	reg.LecturerSlotID = newSlotID
	reg.Status = models.RegistrationStatusApproved
	reg.Notes = notes
	reg.ReviewedAt = &now

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit change lecturer tx: %w", err)
	}
	return nil
}

// ReviewLecturerRegistration applies an admin decision. Approving a
// non-approved registration claims the slot, rejecting an approved one
// releases it.
func (r *AllocationRepository) ReviewLecturerRegistration(ctx context.Context, reg *models.LecturerRegistration, status models.RegistrationStatus, notes string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin review registration tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	slot, err := r.lockSlot(ctx, tx, slotKindLecturer, reg.LecturerSlotID)
	if err != nil {
		return err
	}

	switch {
	case status == models.RegistrationStatusApproved && reg.Status != models.RegistrationStatusApproved:
		if err = r.claim(ctx, tx, slotKindLecturer, slot); err != nil {
			return err
		}
	case status == models.RegistrationStatusRejected && reg.Status == models.RegistrationStatusApproved:
		if err = r.release(ctx, tx, slotKindLecturer, slot, 1); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE lecturer_registrations SET status = $2, notes = $3, reviewed_at = $4 WHERE id = $1`,
		reg.ID, status, notes, now); err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	reg.Status = status
	reg.Notes = notes
	reg.ReviewedAt = &now

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit review registration tx: %w", err)
	}
	return nil
}

// SubmitPreferences inserts the student's full ranked list as pending rows in
// one transaction. Every target is locked and re-validated under the lock so
// a list naming a just-filled enterprise fails as a whole. No capacity is
// claimed at submission.
func (r *AllocationRepository) SubmitPreferences(ctx context.Context, prefs []models.EnterprisePreference) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submit preferences tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ordered := make([]*models.EnterprisePreference, len(prefs))
	for i := range prefs {
		ordered[i] = &prefs[i]
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EnterpriseSlotID < ordered[j].EnterpriseSlotID })

	for _, pref := range ordered {
		var slot *lockedSlot
		if slot, err = r.lockSlot(ctx, tx, slotKindEnterprise, pref.EnterpriseSlotID); err != nil {
			return err
		}
		if !slot.IsActive {
			err = appErrors.Clone(appErrors.ErrValidation, "enterprise is not accepting interns")
			return err
		}
		if slot.PeriodID != pref.PeriodID {
			err = appErrors.Clone(appErrors.ErrValidation, "enterprise does not belong to the registration period")
			return err
		}
		if slot.CurrentSlots >= slot.MaxSlots {
			err = appErrors.Clone(appErrors.ErrCapacityExceeded, "enterprise has no remaining capacity")
			return err
		}
	}

	now := time.Now().UTC()
	for i := range prefs {
		if prefs[i].ID == "" {
			prefs[i].ID = uuid.NewString()
		}
		prefs[i].Status = models.RegistrationStatusPending
		prefs[i].RegisteredAt = now
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO enterprise_preferences (id, student_id, enterprise_slot_id, period_id, preference_order, status, notes, registered_at)
            VALUES (:id, :student_id, :enterprise_slot_id, :period_id, :preference_order, :status, :notes, :registered_at)`, &prefs[i]); err != nil {
			return fmt.Errorf("insert preference: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit submit preferences tx: %w", err)
	}
	return nil
}

// ApproveIntoSlot places a student into targetSlotID and unwinds every
// competing preference: approved siblings release their slots and flip to
// rejected, pending siblings flip to rejected, the target row (created with
// the forced order when the student never ranked the slot) is approved and
// its slot claimed. A full target slot aborts the whole operation.
func (r *AllocationRepository) ApproveIntoSlot(ctx context.Context, studentID, periodID, targetSlotID, notes string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var siblings []models.EnterprisePreference
	if err = tx.SelectContext(ctx, &siblings, `SELECT id, student_id, enterprise_slot_id, period_id, preference_order, status, notes, registered_at, reviewed_at
        FROM enterprise_preferences WHERE student_id = $1 AND period_id = $2 ORDER BY id FOR UPDATE`, studentID, periodID); err != nil {
		return fmt.Errorf("lock preferences: %w", err)
	}

	var target *models.EnterprisePreference
	slotIDs := map[string]bool{targetSlotID: true}
	for i := range siblings {
		if siblings[i].EnterpriseSlotID == targetSlotID {
			target = &siblings[i]
		}
		if siblings[i].Status == models.RegistrationStatusApproved {
			slotIDs[siblings[i].EnterpriseSlotID] = true
		}
	}
	if target != nil && target.Status == models.RegistrationStatusApproved {
		err = appErrors.Clone(appErrors.ErrConflict, "student is already placed at this enterprise")
		return err
	}

	ordered := make([]string, 0, len(slotIDs))
	for id := range slotIDs {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	locked := make(map[string]*lockedSlot, len(ordered))
	for _, id := range ordered {
		var slot *lockedSlot
		if slot, err = r.lockSlot(ctx, tx, slotKindEnterprise, id); err != nil {
			return err
		}
		locked[id] = slot
	}

	targetSlot := locked[targetSlotID]
	if !targetSlot.IsActive {
		err = appErrors.Clone(appErrors.ErrValidation, "enterprise is not accepting interns")
		return err
	}
	if targetSlot.CurrentSlots >= targetSlot.MaxSlots {
		err = appErrors.Clone(appErrors.ErrCapacityExceeded, "enterprise has no remaining capacity")
		return err
	}

	now := time.Now().UTC()
	for i := range siblings {
		sib := &siblings[i]
		if target != nil && sib.ID == target.ID {
			continue
		}
		if sib.Status == models.RegistrationStatusApproved {
			if err = r.release(ctx, tx, slotKindEnterprise, locked[sib.EnterpriseSlotID], 1); err != nil {
				return err
			}
		}
		if sib.Status != models.RegistrationStatusRejected {
			if _, err = tx.ExecContext(ctx, `UPDATE enterprise_preferences SET status = $2, reviewed_at = $3 WHERE id = $1`,
				sib.ID, models.RegistrationStatusRejected, now); err != nil {
				return fmt.Errorf("reject sibling preference: %w", err)
			}
		}
	}

	if err = r.claim(ctx, tx, slotKindEnterprise, targetSlot); err != nil {
		return err
	}

	if target == nil {
		forced := models.EnterprisePreference{
			ID:               uuid.NewString(),
			StudentID:        studentID,
			EnterpriseSlotID: targetSlotID,
			PeriodID:         periodID,
			PreferenceOrder:  models.ForcedPreferenceOrder,
			Status:           models.RegistrationStatusApproved,
			Notes:            notes,
			RegisteredAt:     now,
			ReviewedAt:       &now,
		}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO enterprise_preferences (id, student_id, enterprise_slot_id, period_id, preference_order, status, notes, registered_at, reviewed_at)
            VALUES (:id, :student_id, :enterprise_slot_id, :period_id, :preference_order, :status, :notes, :registered_at, :reviewed_at)`, &forced); err != nil {
			return fmt.Errorf("insert forced preference: %w", err)
		}
	} else {
		if _, err = tx.ExecContext(ctx, `UPDATE enterprise_preferences SET status = $2, notes = $3, reviewed_at = $4 WHERE id = $1`,
			target.ID, models.RegistrationStatusApproved, notes, now); err != nil {
			return fmt.Errorf("approve preference: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit approve tx: %w", err)
	}
	return nil
}

// RejectPreference marks a preference rejected, releasing its slot when it
// was previously approved. A student with no approved preference afterwards
// is a valid state.
func (r *AllocationRepository) RejectPreference(ctx context.Context, pref *models.EnterprisePreference, notes string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reject preference tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if pref.Status == models.RegistrationStatusApproved {
		var slot *lockedSlot
		if slot, err = r.lockSlot(ctx, tx, slotKindEnterprise, pref.EnterpriseSlotID); err != nil {
			return err
		}
		if err = r.release(ctx, tx, slotKindEnterprise, slot, 1); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE enterprise_preferences SET status = $2, notes = $3, reviewed_at = $4 WHERE id = $1`,
		pref.ID, models.RegistrationStatusRejected, notes, now); err != nil {
		return fmt.Errorf("reject preference: %w", err)
	}
	pref.Status = models.RegistrationStatusRejected
	pref.Notes = notes
	pref.ReviewedAt = &now

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reject preference tx: %w", err)
	}
	return nil
}

type slotReleaseCount struct {
	SlotID string `db:"slot_id"`
	Count  int    `db:"cnt"`
}

// DeleteStudentsCascade removes the given students after giving back every
// slot their approved registrations and preferences hold. Releases are
// grouped per slot so deleting several students placed at the same
// enterprise decrements it once per student, never more.
func (r *AllocationRepository) DeleteStudentsCascade(ctx context.Context, studentIDs []string) error {
	if len(studentIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete students tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lecturerReleases, err := r.groupedReleases(ctx, tx, `SELECT lecturer_slot_id AS slot_id, COUNT(*) AS cnt
        FROM lecturer_registrations WHERE student_id IN (?) AND status = ? GROUP BY lecturer_slot_id ORDER BY lecturer_slot_id`, studentIDs)
	if err != nil {
		return err
	}
	enterpriseReleases, err := r.groupedReleases(ctx, tx, `SELECT enterprise_slot_id AS slot_id, COUNT(*) AS cnt
        FROM enterprise_preferences WHERE student_id IN (?) AND status = ? GROUP BY enterprise_slot_id ORDER BY enterprise_slot_id`, studentIDs)
	if err != nil {
		return err
	}

	for _, rel := range lecturerReleases {
		var slot *lockedSlot
		if slot, err = r.lockSlot(ctx, tx, slotKindLecturer, rel.SlotID); err != nil {
			return err
		}
		if err = r.release(ctx, tx, slotKindLecturer, slot, rel.Count); err != nil {
			return err
		}
	}
	for _, rel := range enterpriseReleases {
		var slot *lockedSlot
		if slot, err = r.lockSlot(ctx, tx, slotKindEnterprise, rel.SlotID); err != nil {
			return err
		}
		if err = r.release(ctx, tx, slotKindEnterprise, slot, rel.Count); err != nil {
			return err
		}
	}

	query, args, err := sqlx.In(`DELETE FROM students WHERE id IN (?)`, studentIDs)
	if err != nil {
		return fmt.Errorf("build delete students query: %w", err)
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete students: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete students tx: %w", err)
	}
	return nil
}

func (r *AllocationRepository) groupedReleases(ctx context.Context, tx *sqlx.Tx, query string, studentIDs []string) ([]slotReleaseCount, error) {
	built, args, err := sqlx.In(query, studentIDs, models.RegistrationStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("build release query: %w", err)
	}
	var releases []slotReleaseCount
	if err := tx.SelectContext(ctx, &releases, tx.Rebind(built), args...); err != nil {
		return nil, fmt.Errorf("group slot releases: %w", err)
	}
	return releases, nil
}
