package models

import "time"

// Student holds the academic profile referenced by placement registrations.
type Student struct {
	ID          string    `db:"id" json:"id"`
	StudentCode string    `db:"student_code" json:"student_code"`
	Name        string    `db:"name" json:"name"`
	ClassName   string    `db:"class_name" json:"class_name"`
	Email       string    `db:"email" json:"email"`
	Phone       string    `db:"phone" json:"phone"`
	GPA         *float64  `db:"gpa" json:"gpa,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter captures filtering criteria for listing students.
type StudentFilter struct {
	Search    string
	ClassName string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
