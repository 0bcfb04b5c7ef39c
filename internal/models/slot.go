package models

import "time"

// LecturerSlot is the capacity ledger row for a lecturer within a period.
// Invariant: 0 <= current_slots <= max_slots. Unique per (lecturer, period).
// current_slots is written exclusively by the allocation repository.
type LecturerSlot struct {
	ID           string    `db:"id" json:"id"`
	LecturerID   string    `db:"lecturer_id" json:"lecturer_id"`
	PeriodID     string    `db:"period_id" json:"period_id"`
	CanGuide     bool      `db:"can_guide" json:"can_guide"`
	MaxSlots     int       `db:"max_slots" json:"max_slots"`
	CurrentSlots int       `db:"current_slots" json:"current_slots"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// LecturerSlotDetail enriches a slot with lecturer info for listings.
type LecturerSlotDetail struct {
	LecturerSlot
	LecturerName   string `db:"lecturer_name" json:"lecturer_name"`
	LecturerEmail  string `db:"lecturer_email" json:"lecturer_email"`
	LecturerPhone  string `db:"lecturer_phone" json:"lecturer_phone"`
	Department     string `db:"department" json:"department"`
	AvailableSlots int    `db:"available_slots" json:"available_slots"`
}

// EnterpriseSlot is the capacity ledger row for a hosting enterprise.
// Enterprises are period-local; the same company appearing in two periods is
// two independent rows. IsSentinel marks the reserved home-institution entry
// auto-created with every period.
type EnterpriseSlot struct {
	ID             string    `db:"id" json:"id"`
	PeriodID       string    `db:"period_id" json:"period_id"`
	Name           string    `db:"name" json:"name"`
	JobDescription string    `db:"job_description" json:"job_description"`
	Address        string    `db:"address" json:"address"`
	ContactInfo    string    `db:"contact_info" json:"contact_info"`
	MaxSlots       int       `db:"max_slots" json:"max_slots"`
	CurrentSlots   int       `db:"current_slots" json:"current_slots"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	IsSentinel     bool      `db:"is_sentinel" json:"is_sentinel"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableSlots returns the remaining openings.
func (s *EnterpriseSlot) AvailableSlots() int {
	return s.MaxSlots - s.CurrentSlots
}

// LecturerSlotUpsert is the statically-typed capacity configuration applied
// per (lecturer, period). Only the listed fields are mutable through upsert.
type LecturerSlotUpsert struct {
	LecturerID string `json:"lecturer_id" validate:"required"`
	CanGuide   bool   `json:"can_guide"`
	MaxSlots   int    `json:"max_slots" validate:"gte=0"`
}
