package models

import "time"

// Lecturer is a supervising staff member. Per-period guidance capacity lives
// on LecturerSlot, not here.
type Lecturer struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone"`
	AcademicDegree string    `db:"academic_degree" json:"academic_degree"`
	Department     string    `db:"department" json:"department"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
