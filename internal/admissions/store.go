package admissions

import "context"

// StudentFilter narrows ListStudents. Zero-value fields are ignored.
type StudentFilter struct {
	DepartmentID      string
	SpecialityID      string
	AssignedTeacherID string
	Status            string
	ApplicationStatus string
}

// Store persists the admissions entities. Implementations report
// ErrNotFound for missing rows and ErrConflict for unique-key clashes.
type Store interface {
	CreateDepartment(ctx context.Context, dep *Department) error
	ListDepartments(ctx context.Context) ([]Department, error)
	GetDepartment(ctx context.Context, id string) (*Department, error)
	UpdateDepartment(ctx context.Context, dep *Department) error
	DeleteDepartment(ctx context.Context, id string) error

	CreateSpeciality(ctx context.Context, sp *Speciality) error
	ListSpecialities(ctx context.Context, departmentID string) ([]Speciality, error)
	GetSpeciality(ctx context.Context, id string) (*Speciality, error)
	UpdateSpeciality(ctx context.Context, sp *Speciality) error
	DeleteSpeciality(ctx context.Context, id string) error

	CreateStudent(ctx context.Context, st *Student) error
	ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error)
	GetStudent(ctx context.Context, id string) (*Student, error)
	UpdateStudent(ctx context.Context, st *Student) error
	DeleteStudent(ctx context.Context, id string) error

	CreateCommunication(ctx context.Context, com *Communication) error
	ListCommunications(ctx context.Context, studentID string) ([]Communication, error)
	GetCommunication(ctx context.Context, id string) (*Communication, error)
	UpdateCommunication(ctx context.Context, com *Communication) error
	DeleteCommunication(ctx context.Context, id string) error
}
