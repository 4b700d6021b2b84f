package admissions

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore implements Store in process memory. Used by tests and
// single-node dev mode.
type InMemoryStore struct {
	mu             sync.RWMutex
	departments    map[string]*Department
	specialities   map[string]*Speciality
	students       map[string]*Student
	communications map[string]*Communication
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		departments:    make(map[string]*Department),
		specialities:   make(map[string]*Speciality),
		students:       make(map[string]*Student),
		communications: make(map[string]*Communication),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateDepartment(ctx context.Context, dep *Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.departments {
		if strings.EqualFold(existing.Code, dep.Code) {
			return ErrConflict
		}
	}
	cp := *dep
	s.departments[dep.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListDepartments(ctx context.Context) ([]Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Department, 0, len(s.departments))
	for _, dep := range s.departments {
		out = append(out, *dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemoryStore) GetDepartment(ctx context.Context, id string) (*Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dep, ok := s.departments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *dep
	return &cp, nil
}

func (s *InMemoryStore) UpdateDepartment(ctx context.Context, dep *Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.departments[dep.ID]; !ok {
		return ErrNotFound
	}
	cp := *dep
	s.departments[dep.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteDepartment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.departments[id]; !ok {
		return ErrNotFound
	}
	delete(s.departments, id)
	return nil
}

func (s *InMemoryStore) CreateSpeciality(ctx context.Context, sp *Speciality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.specialities {
		if strings.EqualFold(existing.Code, sp.Code) {
			return ErrConflict
		}
	}
	cp := *sp
	cp.RequiredExams = append([]string(nil), sp.RequiredExams...)
	s.specialities[sp.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListSpecialities(ctx context.Context, departmentID string) ([]Speciality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Speciality, 0, len(s.specialities))
	for _, sp := range s.specialities {
		if departmentID != "" && sp.DepartmentID != departmentID {
			continue
		}
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemoryStore) GetSpeciality(ctx context.Context, id string) (*Speciality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.specialities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sp
	return &cp, nil
}

func (s *InMemoryStore) UpdateSpeciality(ctx context.Context, sp *Speciality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specialities[sp.ID]; !ok {
		return ErrNotFound
	}
	cp := *sp
	cp.RequiredExams = append([]string(nil), sp.RequiredExams...)
	s.specialities[sp.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteSpeciality(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specialities[id]; !ok {
		return ErrNotFound
	}
	delete(s.specialities, id)
	return nil
}

func (s *InMemoryStore) CreateStudent(ctx context.Context, st *Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ExternalID != "" {
		for _, existing := range s.students {
			if existing.ExternalID == st.ExternalID {
				return ErrConflict
			}
		}
	}
	s.students[st.ID] = copyStudent(st)
	return nil
}

func (s *InMemoryStore) ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Student, 0, len(s.students))
	for _, st := range s.students {
		if !matchesFilter(st, filter) {
			continue
		}
		out = append(out, *copyStudent(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) GetStudent(ctx context.Context, id string) (*Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStudent(st), nil
}

func (s *InMemoryStore) UpdateStudent(ctx context.Context, st *Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.ID]; !ok {
		return ErrNotFound
	}
	s.students[st.ID] = copyStudent(st)
	return nil
}

func (s *InMemoryStore) DeleteStudent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[id]; !ok {
		return ErrNotFound
	}
	delete(s.students, id)
	return nil
}

func (s *InMemoryStore) CreateCommunication(ctx context.Context, com *Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[com.StudentID]; !ok {
		return ErrNotFound
	}
	cp := *com
	s.communications[com.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListCommunications(ctx context.Context, studentID string) ([]Communication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Communication
	for _, com := range s.communications {
		if com.StudentID == studentID {
			out = append(out, *com)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *InMemoryStore) GetCommunication(ctx context.Context, id string) (*Communication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	com, ok := s.communications[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *com
	return &cp, nil
}

func (s *InMemoryStore) UpdateCommunication(ctx context.Context, com *Communication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.communications[com.ID]; !ok {
		return ErrNotFound
	}
	cp := *com
	s.communications[com.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteCommunication(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.communications[id]; !ok {
		return ErrNotFound
	}
	delete(s.communications, id)
	return nil
}

func matchesFilter(st *Student, f StudentFilter) bool {
	if f.DepartmentID != "" && st.DepartmentID != f.DepartmentID {
		return false
	}
	if f.SpecialityID != "" && st.SpecialityID != f.SpecialityID {
		return false
	}
	if f.AssignedTeacherID != "" && st.AssignedTeacherID != f.AssignedTeacherID {
		return false
	}
	if f.Status != "" && st.Status != f.Status {
		return false
	}
	if f.ApplicationStatus != "" && st.ApplicationStatus != f.ApplicationStatus {
		return false
	}
	return true
}

func copyStudent(st *Student) *Student {
	cp := *st
	if st.ExamScores != nil {
		cp.ExamScores = make(map[string]int, len(st.ExamScores))
		for k, v := range st.ExamScores {
			cp.ExamScores[k] = v
		}
	}
	return &cp
}
