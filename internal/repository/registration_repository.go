package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ptit-portal/internship-api/internal/models"
)

// RegistrationRepository is the read side of the placement store: student
// registrations, ranked preferences and the grouped placement results. All
// writes that touch capacity go through AllocationRepository.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// FindLecturerRegistration returns the student's registration in a period.
func (r *RegistrationRepository) FindLecturerRegistration(ctx context.Context, studentID, periodID string) (*models.LecturerRegistration, error) {
	const query = `SELECT id, student_id, lecturer_slot_id, period_id, status, notes, registered_at, reviewed_at
        FROM lecturer_registrations WHERE student_id = $1 AND period_id = $2`
	var reg models.LecturerRegistration
	if err := r.db.GetContext(ctx, &reg, query, studentID, periodID); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindLecturerRegistrationByID loads a registration by identifier.
func (r *RegistrationRepository) FindLecturerRegistrationByID(ctx context.Context, id string) (*models.LecturerRegistration, error) {
	const query = `SELECT id, student_id, lecturer_slot_id, period_id, status, notes, registered_at, reviewed_at
        FROM lecturer_registrations WHERE id = $1`
	var reg models.LecturerRegistration
	if err := r.db.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// ListLecturerRegistrations returns registrations with student and lecturer
// detail for admin listings.
func (r *RegistrationRepository) ListLecturerRegistrations(ctx context.Context, filter models.RegistrationFilter) ([]models.LecturerRegistrationDetail, error) {
	base := `SELECT lr.id, lr.student_id, lr.lecturer_slot_id, lr.period_id, lr.status, lr.notes, lr.registered_at, lr.reviewed_at,
        s.student_code, s.name AS student_name,
        l.id AS lecturer_id, l.name AS lecturer_name, l.email AS lecturer_email,
        p.name AS period_name
        FROM lecturer_registrations lr
        JOIN students s ON s.id = lr.student_id
        JOIN lecturer_slots ls ON ls.id = lr.lecturer_slot_id
        JOIN lecturers l ON l.id = ls.lecturer_id
        JOIN periods p ON p.id = lr.period_id`
	conditions, args := registrationConditions("lr", filter)
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}
	base += " ORDER BY lr.registered_at DESC"

	var regs []models.LecturerRegistrationDetail
	if err := r.db.SelectContext(ctx, &regs, base, args...); err != nil {
		return nil, fmt.Errorf("list lecturer registrations: %w", err)
	}
	return regs, nil
}

// FindPreferenceByID loads a preference by identifier.
func (r *RegistrationRepository) FindPreferenceByID(ctx context.Context, id string) (*models.EnterprisePreference, error) {
	const query = `SELECT id, student_id, enterprise_slot_id, period_id, preference_order, status, notes, registered_at, reviewed_at
        FROM enterprise_preferences WHERE id = $1`
	var pref models.EnterprisePreference
	if err := r.db.GetContext(ctx, &pref, query, id); err != nil {
		return nil, err
	}
	return &pref, nil
}

// CountPreferences returns how many preferences the student already holds in
// the period. Non-zero means the ranked list was submitted.
func (r *RegistrationRepository) CountPreferences(ctx context.Context, studentID, periodID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enterprise_preferences WHERE student_id = $1 AND period_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, periodID); err != nil {
		return 0, fmt.Errorf("count preferences: %w", err)
	}
	return count, nil
}

// ListPreferences returns preferences with student and enterprise detail.
func (r *RegistrationRepository) ListPreferences(ctx context.Context, filter models.RegistrationFilter) ([]models.EnterprisePreferenceDetail, error) {
	base := `SELECT ep.id, ep.student_id, ep.enterprise_slot_id, ep.period_id, ep.preference_order, ep.status, ep.notes, ep.registered_at, ep.reviewed_at,
        s.student_code, s.name AS student_name, s.gpa AS student_gpa,
        es.name AS enterprise_name, es.max_slots, es.current_slots,
        p.name AS period_name
        FROM enterprise_preferences ep
        JOIN students s ON s.id = ep.student_id
        JOIN enterprise_slots es ON es.id = ep.enterprise_slot_id
        JOIN periods p ON p.id = ep.period_id`
	conditions, args := registrationConditions("ep", filter)
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}
	base += " ORDER BY s.student_code ASC, ep.preference_order ASC"

	var prefs []models.EnterprisePreferenceDetail
	if err := r.db.SelectContext(ctx, &prefs, base, args...); err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return prefs, nil
}

// LecturerResults aggregates approved supervisees per lecturer in a period.
func (r *RegistrationRepository) LecturerResults(ctx context.Context, periodID string) ([]models.LecturerResult, error) {
	const query = `SELECT l.id AS lecturer_id, l.name AS lecturer_name,
        COUNT(lr.id) FILTER (WHERE lr.status = $2) AS student_count,
        ls.max_slots, ls.current_slots
        FROM lecturer_slots ls
        JOIN lecturers l ON l.id = ls.lecturer_id
        LEFT JOIN lecturer_registrations lr ON lr.lecturer_slot_id = ls.id
        WHERE ls.period_id = $1
        GROUP BY l.id, l.name, ls.max_slots, ls.current_slots
        ORDER BY l.name ASC`
	var results []models.LecturerResult
	if err := r.db.SelectContext(ctx, &results, query, periodID, models.RegistrationStatusApproved); err != nil {
		return nil, fmt.Errorf("lecturer results: %w", err)
	}
	return results, nil
}

// EnterpriseResults aggregates approved interns per enterprise in a period.
func (r *RegistrationRepository) EnterpriseResults(ctx context.Context, periodID string) ([]models.EnterpriseResult, error) {
	const query = `SELECT es.id AS enterprise_slot_id, es.name AS enterprise_name,
        COUNT(ep.id) FILTER (WHERE ep.status = $2) AS student_count,
        es.max_slots, es.current_slots
        FROM enterprise_slots es
        LEFT JOIN enterprise_preferences ep ON ep.enterprise_slot_id = es.id
        WHERE es.period_id = $1
        GROUP BY es.id, es.name, es.max_slots, es.current_slots
        ORDER BY es.name ASC`
	var results []models.EnterpriseResult
	if err := r.db.SelectContext(ctx, &results, query, periodID, models.RegistrationStatusApproved); err != nil {
		return nil, fmt.Errorf("enterprise results: %w", err)
	}
	return results, nil
}

// Stats returns the admin overview counters in one round trip.
func (r *RegistrationRepository) Stats(ctx context.Context) (*models.DashboardStats, error) {
	const query = `SELECT
        (SELECT COUNT(*) FROM students) AS students,
        (SELECT COUNT(*) FROM lecturers) AS lecturers,
        (SELECT COUNT(*) FROM enterprise_slots WHERE is_sentinel = FALSE) AS enterprises,
        (SELECT COUNT(*) FROM lecturer_registrations WHERE status = $1) AS pending_registrations,
        (SELECT COUNT(*) FROM enterprise_preferences WHERE status = $1) AS pending_preferences,
        (SELECT COUNT(*) FROM enterprise_preferences WHERE status = $2) AS placed_students`
	var stats models.DashboardStats
	if err := r.db.GetContext(ctx, &stats, query, models.RegistrationStatusPending, models.RegistrationStatusApproved); err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return &stats, nil
}

func registrationConditions(alias string, filter models.RegistrationFilter) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.PeriodID != "" {
		conditions = append(conditions, fmt.Sprintf("%s.period_id = $%d", alias, len(args)+1))
		args = append(args, filter.PeriodID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("%s.student_id = $%d", alias, len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("%s.status = $%d", alias, len(args)+1))
		args = append(args, filter.Status)
	}
	return conditions, args
}
