package admissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"uniadmit.org/internal/auth"
	"uniadmit.org/internal/ids"
)

// Service validates input, enforces the caller's capability set and
// delegates persistence to a Store.
type Service struct {
	store  Store
	roster auth.AccountDirectory
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTeacherRoster connects the account directory so teacher capacity
// counters are maintained on student assignment. Without it, assignments
// are not counted or capped.
func WithTeacherRoster(dir auth.AccountDirectory) ServiceOption {
	return func(s *Service) error {
		s.roster = dir
		return nil
	}
}

// NewService constructs the admissions service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("admissions: store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func require(p auth.Principal, capability string) error {
	if !p.Can(capability) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, capability)
	}
	return nil
}

// DepartmentInput describes a department create request.
type DepartmentInput struct {
	Code         string
	Name         string
	Faculty      string
	Description  string
	Dean         string
	ContactEmail string
	ContactPhone string
}

func (s *Service) CreateDepartment(ctx context.Context, p auth.Principal, in DepartmentInput) (*Department, error) {
	if err := require(p, auth.PermManageDepartments); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if code == "" {
		return nil, fmt.Errorf("%w: department code is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: department name is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	dep := &Department{
		ID:           ids.New(),
		Code:         code,
		Name:         name,
		Faculty:      strings.TrimSpace(in.Faculty),
		Description:  strings.TrimSpace(in.Description),
		Dean:         strings.TrimSpace(in.Dean),
		ContactEmail: strings.TrimSpace(strings.ToLower(in.ContactEmail)),
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateDepartment(ctx, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

func (s *Service) ListDepartments(ctx context.Context, p auth.Principal) ([]Department, error) {
	// Every authenticated role may read the catalogue.
	return s.store.ListDepartments(ctx)
}

func (s *Service) GetDepartment(ctx context.Context, p auth.Principal, id string) (*Department, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: department id is required", ErrInvalidInput)
	}
	return s.store.GetDepartment(ctx, id)
}

// DepartmentUpdate patches a department. Nil fields are left unchanged.
type DepartmentUpdate struct {
	Name         *string
	Faculty      *string
	Description  *string
	Dean         *string
	ContactEmail *string
	ContactPhone *string
	Active       *bool
}

func (s *Service) UpdateDepartment(ctx context.Context, p auth.Principal, id string, upd DepartmentUpdate) (*Department, error) {
	if err := require(p, auth.PermManageDepartments); err != nil {
		return nil, err
	}
	dep, err := s.GetDepartment(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: department name is required", ErrInvalidInput)
		}
		dep.Name = name
	}
	if upd.Faculty != nil {
		dep.Faculty = strings.TrimSpace(*upd.Faculty)
	}
	if upd.Description != nil {
		dep.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Dean != nil {
		dep.Dean = strings.TrimSpace(*upd.Dean)
	}
	if upd.ContactEmail != nil {
		dep.ContactEmail = strings.TrimSpace(strings.ToLower(*upd.ContactEmail))
	}
	if upd.ContactPhone != nil {
		dep.ContactPhone = strings.TrimSpace(*upd.ContactPhone)
	}
	if upd.Active != nil {
		dep.Active = *upd.Active
	}
	dep.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDepartment(ctx, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

func (s *Service) DeleteDepartment(ctx context.Context, p auth.Principal, id string) error {
	if err := require(p, auth.PermManageDepartments); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: department id is required", ErrInvalidInput)
	}
	specs, err := s.store.ListSpecialities(ctx, id)
	if err != nil {
		return err
	}
	if len(specs) > 0 {
		return fmt.Errorf("%w: department still has specialities", ErrConflict)
	}
	return s.store.DeleteDepartment(ctx, id)
}

// SpecialityInput describes a speciality create request.
type SpecialityInput struct {
	Code          string
	Name          string
	DepartmentID  string
	StudyYears    int
	Description   string
	TuitionFee    int64
	RequiredExams []string
}

func (s *Service) CreateSpeciality(ctx context.Context, p auth.Principal, in SpecialityInput) (*Speciality, error) {
	if err := require(p, auth.PermManageDepartments); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if code == "" {
		return nil, fmt.Errorf("%w: speciality code is required", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: speciality name is required", ErrInvalidInput)
	}
	if in.TuitionFee < 0 {
		return nil, fmt.Errorf("%w: tuition fee cannot be negative", ErrInvalidInput)
	}
	depID := strings.TrimSpace(in.DepartmentID)
	if depID == "" {
		return nil, fmt.Errorf("%w: department id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetDepartment(ctx, depID); err != nil {
		return nil, err
	}
	years := in.StudyYears
	if years <= 0 {
		years = 4
	}

	now := s.now().UTC()
	sp := &Speciality{
		ID:            ids.New(),
		Code:          code,
		Name:          name,
		DepartmentID:  depID,
		StudyYears:    years,
		Description:   strings.TrimSpace(in.Description),
		TuitionFee:    in.TuitionFee,
		RequiredExams: in.RequiredExams,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateSpeciality(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *Service) ListSpecialities(ctx context.Context, p auth.Principal, departmentID string) ([]Speciality, error) {
	return s.store.ListSpecialities(ctx, strings.TrimSpace(departmentID))
}

func (s *Service) GetSpeciality(ctx context.Context, p auth.Principal, id string) (*Speciality, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: speciality id is required", ErrInvalidInput)
	}
	return s.store.GetSpeciality(ctx, id)
}

func (s *Service) DeleteSpeciality(ctx context.Context, p auth.Principal, id string) error {
	if err := require(p, auth.PermManageDepartments); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: speciality id is required", ErrInvalidInput)
	}
	return s.store.DeleteSpeciality(ctx, id)
}

// StudentInput describes a student create request.
type StudentInput struct {
	ExternalID   string
	FullName     string
	Phone        string
	Email        string
	DepartmentID string
	SpecialityID string
	Priority     int
	ExamScores   map[string]int
	Notes        string
}

func (s *Service) CreateStudent(ctx context.Context, p auth.Principal, in StudentInput) (*Student, error) {
	if err := require(p, auth.PermCreateStudents); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.FullName)
	if len(name) < 2 {
		return nil, fmt.Errorf("%w: student full name is required", ErrInvalidInput)
	}
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: student phone is required", ErrInvalidInput)
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email != "" && !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if depID := strings.TrimSpace(in.DepartmentID); depID != "" {
		if _, err := s.store.GetDepartment(ctx, depID); err != nil {
			return nil, err
		}
	}
	priority := in.Priority
	if priority <= 0 {
		priority = 1
	}

	now := s.now().UTC()
	st := &Student{
		ID:                ids.New(),
		ExternalID:        strings.TrimSpace(in.ExternalID),
		FullName:          name,
		Phone:             phone,
		Email:             email,
		Status:            StudentActive,
		ApplicationStatus: ApplicationPending,
		DepartmentID:      strings.TrimSpace(in.DepartmentID),
		SpecialityID:      strings.TrimSpace(in.SpecialityID),
		Priority:          priority,
		ExamScores:        in.ExamScores,
		Notes:             strings.TrimSpace(in.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) ListStudents(ctx context.Context, p auth.Principal, filter StudentFilter) ([]Student, error) {
	if err := require(p, auth.PermViewStudents); err != nil {
		return nil, err
	}
	// Teachers see only their own case load.
	if p.Account != nil && p.Account.Role == auth.RoleTeacher {
		filter.AssignedTeacherID = p.Account.ID
	}
	return s.store.ListStudents(ctx, filter)
}

func (s *Service) GetStudent(ctx context.Context, p auth.Principal, id string) (*Student, error) {
	if err := require(p, auth.PermViewStudents); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}
	return s.store.GetStudent(ctx, id)
}

// StudentUpdate patches a student. Nil fields are left unchanged.
type StudentUpdate struct {
	FullName          *string
	Phone             *string
	Email             *string
	Status            *string
	ApplicationStatus *string
	DepartmentID      *string
	SpecialityID      *string
	Priority          *int
	Notes             *string
	AssignedTeacherID *string
}

func (s *Service) UpdateStudent(ctx context.Context, p auth.Principal, id string, upd StudentUpdate) (*Student, error) {
	if err := require(p, auth.PermEditStudents); err != nil {
		return nil, err
	}
	st, err := s.GetStudent(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if len(name) < 2 {
			return nil, fmt.Errorf("%w: student full name is required", ErrInvalidInput)
		}
		st.FullName = name
	}
	if upd.Phone != nil {
		phone := strings.TrimSpace(*upd.Phone)
		if phone == "" {
			return nil, fmt.Errorf("%w: student phone is required", ErrInvalidInput)
		}
		st.Phone = phone
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email != "" && !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		st.Email = email
	}
	if upd.Status != nil {
		status := strings.TrimSpace(strings.ToLower(*upd.Status))
		switch status {
		case StudentActive, StudentInactive, StudentGraduated, StudentDropped:
			st.Status = status
		default:
			return nil, fmt.Errorf("%w: unsupported student status %q", ErrInvalidInput, status)
		}
	}
	if upd.ApplicationStatus != nil {
		status := strings.TrimSpace(strings.ToLower(*upd.ApplicationStatus))
		switch status {
		case ApplicationPending, ApplicationAccepted, ApplicationRejected:
			st.ApplicationStatus = status
		default:
			return nil, fmt.Errorf("%w: unsupported application status %q", ErrInvalidInput, status)
		}
	}
	if upd.DepartmentID != nil {
		depID := strings.TrimSpace(*upd.DepartmentID)
		if depID != "" {
			if _, err := s.store.GetDepartment(ctx, depID); err != nil {
				return nil, err
			}
		}
		st.DepartmentID = depID
	}
	if upd.SpecialityID != nil {
		st.SpecialityID = strings.TrimSpace(*upd.SpecialityID)
	}
	if upd.Priority != nil && *upd.Priority > 0 {
		st.Priority = *upd.Priority
	}
	if upd.Notes != nil {
		st.Notes = strings.TrimSpace(*upd.Notes)
	}
	if upd.AssignedTeacherID != nil {
		if err := require(p, auth.PermManageTeachers); err != nil {
			return nil, err
		}
		next := strings.TrimSpace(*upd.AssignedTeacherID)
		if next != st.AssignedTeacherID {
			if err := s.moveCaseLoad(ctx, st.AssignedTeacherID, next); err != nil {
				return nil, err
			}
			st.AssignedTeacherID = next
		}
	}
	st.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateStudent(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) DeleteStudent(ctx context.Context, p auth.Principal, id string) error {
	if err := require(p, auth.PermDeleteStudents); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteStudent(ctx, id); err != nil {
		return err
	}
	if st.AssignedTeacherID != "" {
		_ = s.moveCaseLoad(ctx, st.AssignedTeacherID, "")
	}
	return nil
}

// moveCaseLoad maintains teacher capacity counters when a student changes
// hands. Assignment to a full teacher is rejected; MaxStudents zero means
// no cap.
func (s *Service) moveCaseLoad(ctx context.Context, prevID, nextID string) error {
	if s.roster == nil || prevID == nextID {
		return nil
	}
	if nextID != "" {
		acc, err := s.roster.FindByID(ctx, nextID)
		if err != nil {
			if errors.Is(err, auth.ErrIdentityNotFound) {
				return fmt.Errorf("%w: teacher %s", ErrNotFound, nextID)
			}
			return err
		}
		if acc.Role != auth.RoleTeacher {
			return fmt.Errorf("%w: account %s is not a teacher", ErrInvalidInput, nextID)
		}
		if acc.MaxStudents > 0 && acc.CurrentStudents >= acc.MaxStudents {
			return fmt.Errorf("%w: teacher %s is at capacity (%d/%d)",
				ErrConflict, nextID, acc.CurrentStudents, acc.MaxStudents)
		}
		acc.CurrentStudents++
		acc.UpdatedAt = s.now().UTC()
		if err := s.roster.Save(ctx, acc); err != nil {
			return err
		}
	}
	if prevID != "" {
		acc, err := s.roster.FindByID(ctx, prevID)
		if err == nil && acc.CurrentStudents > 0 {
			acc.CurrentStudents--
			acc.UpdatedAt = s.now().UTC()
			_ = s.roster.Save(ctx, acc)
		}
	}
	return nil
}

// CommunicationInput describes a logged interaction.
type CommunicationInput struct {
	StudentID       string
	Type            string
	Status          string
	OccurredAt      time.Time
	DurationMinutes int
	Topic           string
	Notes           string
	NextAction      string
	NextActionAt    time.Time
	Important       bool
}

func (s *Service) LogCommunication(ctx context.Context, p auth.Principal, in CommunicationInput) (*Communication, error) {
	if err := require(p, auth.PermCreateCommunications); err != nil {
		return nil, err
	}
	studentID := strings.TrimSpace(in.StudentID)
	if studentID == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: communication topic is required", ErrInvalidInput)
	}
	notes := strings.TrimSpace(in.Notes)
	if notes == "" {
		return nil, fmt.Errorf("%w: communication notes are required", ErrInvalidInput)
	}
	typ := strings.TrimSpace(strings.ToLower(in.Type))
	if typ == "" {
		typ = ContactCall
	}
	switch typ {
	case ContactCall, ContactMeeting, ContactEmail, ContactMessage, ContactOther:
	default:
		return nil, fmt.Errorf("%w: unsupported communication type %q", ErrInvalidInput, typ)
	}
	status := strings.TrimSpace(strings.ToLower(in.Status))
	if status == "" {
		status = ContactCompleted
	}
	switch status {
	case ContactPlanned, ContactCompleted, ContactCancelled, ContactRescheduled:
	default:
		return nil, fmt.Errorf("%w: unsupported communication status %q", ErrInvalidInput, status)
	}

	now := s.now().UTC()
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	com := &Communication{
		ID:              ids.New(),
		StudentID:       studentID,
		Type:            typ,
		Status:          status,
		OccurredAt:      occurred,
		DurationMinutes: in.DurationMinutes,
		Topic:           topic,
		Notes:           notes,
		NextAction:      strings.TrimSpace(in.NextAction),
		NextActionAt:    in.NextActionAt,
		Important:       in.Important,
		CreatedBy:       p.Account.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateCommunication(ctx, com); err != nil {
		return nil, err
	}

	// Keep the funnel view fresh.
	st, err := s.store.GetStudent(ctx, studentID)
	if err == nil {
		st.LastContactAt = occurred
		st.UpdatedAt = now
		_ = s.store.UpdateStudent(ctx, st)
	}
	return com, nil
}

func (s *Service) ListCommunications(ctx context.Context, p auth.Principal, studentID string) ([]Communication, error) {
	if err := require(p, auth.PermViewCommunications); err != nil {
		return nil, err
	}
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}
	return s.store.ListCommunications(ctx, studentID)
}

// CommunicationUpdate patches a logged interaction. Nil fields are left
// unchanged.
type CommunicationUpdate struct {
	Type            *string
	Status          *string
	OccurredAt      *time.Time
	DurationMinutes *int
	Topic           *string
	Notes           *string
	NextAction      *string
	NextActionAt    *time.Time
	Important       *bool
}

func (s *Service) UpdateCommunication(ctx context.Context, p auth.Principal, studentID, id string, upd CommunicationUpdate) (*Communication, error) {
	if err := require(p, auth.PermEditCommunications); err != nil {
		return nil, err
	}
	com, err := s.communicationOf(ctx, studentID, id)
	if err != nil {
		return nil, err
	}
	if upd.Type != nil {
		typ := strings.TrimSpace(strings.ToLower(*upd.Type))
		switch typ {
		case ContactCall, ContactMeeting, ContactEmail, ContactMessage, ContactOther:
			com.Type = typ
		default:
			return nil, fmt.Errorf("%w: unsupported communication type %q", ErrInvalidInput, typ)
		}
	}
	if upd.Status != nil {
		status := strings.TrimSpace(strings.ToLower(*upd.Status))
		switch status {
		case ContactPlanned, ContactCompleted, ContactCancelled, ContactRescheduled:
			com.Status = status
		default:
			return nil, fmt.Errorf("%w: unsupported communication status %q", ErrInvalidInput, status)
		}
	}
	if upd.OccurredAt != nil && !upd.OccurredAt.IsZero() {
		com.OccurredAt = *upd.OccurredAt
	}
	if upd.DurationMinutes != nil && *upd.DurationMinutes >= 0 {
		com.DurationMinutes = *upd.DurationMinutes
	}
	if upd.Topic != nil {
		topic := strings.TrimSpace(*upd.Topic)
		if topic == "" {
			return nil, fmt.Errorf("%w: communication topic is required", ErrInvalidInput)
		}
		com.Topic = topic
	}
	if upd.Notes != nil {
		notes := strings.TrimSpace(*upd.Notes)
		if notes == "" {
			return nil, fmt.Errorf("%w: communication notes are required", ErrInvalidInput)
		}
		com.Notes = notes
	}
	if upd.NextAction != nil {
		com.NextAction = strings.TrimSpace(*upd.NextAction)
	}
	if upd.NextActionAt != nil {
		com.NextActionAt = *upd.NextActionAt
	}
	if upd.Important != nil {
		com.Important = *upd.Important
	}
	com.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCommunication(ctx, com); err != nil {
		return nil, err
	}
	return com, nil
}

func (s *Service) DeleteCommunication(ctx context.Context, p auth.Principal, studentID, id string) error {
	if err := require(p, auth.PermDeleteCommunications); err != nil {
		return err
	}
	if _, err := s.communicationOf(ctx, studentID, id); err != nil {
		return err
	}
	return s.store.DeleteCommunication(ctx, id)
}

// communicationOf loads a communication and checks it belongs to the
// student named in the URL; a mismatch reads as not found.
func (s *Service) communicationOf(ctx context.Context, studentID, id string) (*Communication, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: communication id is required", ErrInvalidInput)
	}
	com, err := s.store.GetCommunication(ctx, id)
	if err != nil {
		return nil, err
	}
	if studentID != "" && com.StudentID != strings.TrimSpace(studentID) {
		return nil, ErrNotFound
	}
	return com, nil
}
