package admissions

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("admissions: not found")
	ErrInvalidInput     = errors.New("admissions: invalid input")
	ErrConflict         = errors.New("admissions: resource conflict")
	ErrPermissionDenied = errors.New("admissions: permission denied")
)

// Department is an academic unit that owns specialities and enrolls
// students.
type Department struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Faculty      string    `json:"faculty,omitempty"`
	Description  string    `json:"description,omitempty"`
	Dean         string    `json:"dean,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Speciality is a study program inside a department. TuitionFee is
// stored in minor currency units.
type Speciality struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	DepartmentID  string    `json:"department_id"`
	StudyYears    int       `json:"study_duration"`
	Description   string    `json:"description,omitempty"`
	TuitionFee    int64     `json:"tuition_fee"`
	RequiredExams []string  `json:"required_exams,omitempty"`
	Active        bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Student lifecycle values.
const (
	StudentActive    = "active"
	StudentInactive  = "inactive"
	StudentGraduated = "graduated"
	StudentDropped   = "dropped"
)

// Application review values.
const (
	ApplicationPending  = "pending"
	ApplicationAccepted = "accepted"
	ApplicationRejected = "rejected"
)

// Student is an applicant tracked through the admissions funnel.
type Student struct {
	ID                string         `json:"id"`
	ExternalID        string         `json:"external_id,omitempty"`
	FullName          string         `json:"full_name"`
	Phone             string         `json:"phone"`
	Email             string         `json:"email,omitempty"`
	Status            string         `json:"status"`
	ApplicationStatus string         `json:"application_status"`
	DepartmentID      string         `json:"department_id,omitempty"`
	SpecialityID      string         `json:"speciality_id,omitempty"`
	Priority          int            `json:"priority_place"`
	ExamScores        map[string]int `json:"exam_scores,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	AssignedTeacherID string         `json:"assigned_teacher_id,omitempty"`
	LastContactAt     time.Time      `json:"last_communication_date"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Communication channel and outcome values.
const (
	ContactCall    = "call"
	ContactMeeting = "meeting"
	ContactEmail   = "email"
	ContactMessage = "message"
	ContactOther   = "other"

	ContactPlanned     = "planned"
	ContactCompleted   = "completed"
	ContactCancelled   = "cancelled"
	ContactRescheduled = "rescheduled"
)

// Communication is one logged interaction with a student.
type Communication struct {
	ID              string    `json:"id"`
	StudentID       string    `json:"student_id"`
	Type            string    `json:"communication_type"`
	Status          string    `json:"status"`
	OccurredAt      time.Time `json:"date_time"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Topic           string    `json:"topic"`
	Notes           string    `json:"notes"`
	NextAction      string    `json:"next_action,omitempty"`
	NextActionAt    time.Time `json:"next_action_date"`
	Important       bool      `json:"is_important"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
