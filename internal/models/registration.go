package models

import "time"

// RegistrationStatus is the review lifecycle shared by lecturer registrations
// and enterprise preferences.
type RegistrationStatus string

const (
	RegistrationStatusPending  RegistrationStatus = "PENDING"
	RegistrationStatusApproved RegistrationStatus = "APPROVED"
	RegistrationStatusRejected RegistrationStatus = "REJECTED"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusApproved, RegistrationStatusRejected:
		return true
	}
	return false
}

// ForcedPreferenceOrder is the reserved rank used when an admin forces a
// student into the sentinel enterprise; students submit ranks 1..5 only.
const ForcedPreferenceOrder = 6

// LecturerRegistration pairs a student with a lecturer slot for one period.
// At most one row exists per (student, period); changing lecturers mutates
// the row in place. period_id is denormalized from the slot so invariant
// checks do not depend on joins.
type LecturerRegistration struct {
	ID             string             `db:"id" json:"id"`
	StudentID      string             `db:"student_id" json:"student_id"`
	LecturerSlotID string             `db:"lecturer_slot_id" json:"lecturer_slot_id"`
	PeriodID       string             `db:"period_id" json:"period_id"`
	Status         RegistrationStatus `db:"status" json:"status"`
	Notes          string             `db:"notes" json:"notes"`
	RegisteredAt   time.Time          `db:"registered_at" json:"registered_at"`
	ReviewedAt     *time.Time         `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// LecturerRegistrationDetail enriches a registration for listings.
type LecturerRegistrationDetail struct {
	LecturerRegistration
	StudentCode   string `db:"student_code" json:"student_code"`
	StudentName   string `db:"student_name" json:"student_name"`
	LecturerID    string `db:"lecturer_id" json:"lecturer_id"`
	LecturerName  string `db:"lecturer_name" json:"lecturer_name"`
	LecturerEmail string `db:"lecturer_email" json:"lecturer_email"`
	PeriodName    string `db:"period_name" json:"period_name"`
}

// EnterprisePreference is one ranked request to intern at an enterprise.
// Invariant: at most one APPROVED preference per (student, period).
type EnterprisePreference struct {
	ID               string             `db:"id" json:"id"`
	StudentID        string             `db:"student_id" json:"student_id"`
	EnterpriseSlotID string             `db:"enterprise_slot_id" json:"enterprise_slot_id"`
	PeriodID         string             `db:"period_id" json:"period_id"`
	PreferenceOrder  int                `db:"preference_order" json:"preference_order"`
	Status           RegistrationStatus `db:"status" json:"status"`
	Notes            string             `db:"notes" json:"notes"`
	RegisteredAt     time.Time          `db:"registered_at" json:"registered_at"`
	ReviewedAt       *time.Time         `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// EnterprisePreferenceDetail enriches a preference for admin listings.
type EnterprisePreferenceDetail struct {
	EnterprisePreference
	StudentCode    string   `db:"student_code" json:"student_code"`
	StudentName    string   `db:"student_name" json:"student_name"`
	StudentGPA     *float64 `db:"student_gpa" json:"student_gpa,omitempty"`
	EnterpriseName string   `db:"enterprise_name" json:"enterprise_name"`
	MaxSlots       int      `db:"max_slots" json:"max_slots"`
	CurrentSlots   int      `db:"current_slots" json:"current_slots"`
	PeriodName     string   `db:"period_name" json:"period_name"`
}

// LecturerRegistrationRequest creates or changes a student's lecturer choice.
type LecturerRegistrationRequest struct {
	LecturerSlotID string `json:"lecturer_slot_id" validate:"required"`
	Notes          string `json:"notes" validate:"max=500"`
}

// PreferenceEntry is one ranked enterprise within a submission.
type PreferenceEntry struct {
	EnterpriseSlotID string `json:"enterprise_slot_id" validate:"required"`
	PreferenceOrder  int    `json:"preference_order" validate:"required,min=1,max=5"`
}

// PreferenceSubmission carries a student's full ranked list for a period.
type PreferenceSubmission struct {
	PeriodID    string            `json:"period_id" validate:"required"`
	Preferences []PreferenceEntry `json:"preferences" validate:"required,min=1,max=5,dive"`
}

// ReviewRequest approves or rejects a pending item.
type ReviewRequest struct {
	Status       RegistrationStatus `json:"status" validate:"required,oneof=APPROVED REJECTED"`
	Notes        string             `json:"notes" validate:"max=500"`
	ForceAcademy bool               `json:"force_academy"`
}

// ForcePlacementRequest assigns a student to the sentinel enterprise.
type ForcePlacementRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	PeriodID  string `json:"period_id" validate:"required"`
	Notes     string `json:"notes" validate:"max=500"`
}

// RegistrationFilter narrows admin listings.
type RegistrationFilter struct {
	PeriodID  string
	StudentID string
	Status    RegistrationStatus
}

// DashboardStats is the admin overview: entity totals plus the review queue
// and placement counters.
type DashboardStats struct {
	Students             int `db:"students" json:"students"`
	Lecturers            int `db:"lecturers" json:"lecturers"`
	Enterprises          int `db:"enterprises" json:"enterprises"`
	PendingRegistrations int `db:"pending_registrations" json:"pending_registrations"`
	PendingPreferences   int `db:"pending_preferences" json:"pending_preferences"`
	PlacedStudents       int `db:"placed_students" json:"placed_students"`
}

// LecturerResult aggregates approved supervisees per lecturer.
type LecturerResult struct {
	LecturerID   string `db:"lecturer_id" json:"lecturer_id"`
	LecturerName string `db:"lecturer_name" json:"lecturer_name"`
	StudentCount int    `db:"student_count" json:"student_count"`
	MaxSlots     int    `db:"max_slots" json:"max_slots"`
	CurrentSlots int    `db:"current_slots" json:"current_slots"`
}

// EnterpriseResult aggregates approved interns per enterprise.
type EnterpriseResult struct {
	EnterpriseSlotID string `db:"enterprise_slot_id" json:"enterprise_slot_id"`
	EnterpriseName   string `db:"enterprise_name" json:"enterprise_name"`
	StudentCount     int    `db:"student_count" json:"student_count"`
	MaxSlots         int    `db:"max_slots" json:"max_slots"`
	CurrentSlots     int    `db:"current_slots" json:"current_slots"`
}
