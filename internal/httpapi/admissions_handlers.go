package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"uniadmit.org/internal/admissions"
	"uniadmit.org/internal/audit"
	"uniadmit.org/internal/auth"
	"uniadmit.org/internal/stream"
)

type departmentRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Faculty      string `json:"faculty,omitempty"`
	Description  string `json:"description,omitempty"`
	Dean         string `json:"dean,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
}

type departmentPatch struct {
	Name         *string `json:"name,omitempty"`
	Faculty      *string `json:"faculty,omitempty"`
	Description  *string `json:"description,omitempty"`
	Dean         *string `json:"dean,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
	ContactPhone *string `json:"contact_phone,omitempty"`
	Active       *bool   `json:"is_active,omitempty"`
}

type specialityRequest struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	StudyYears    int      `json:"study_duration,omitempty"`
	Description   string   `json:"description,omitempty"`
	TuitionFee    int64    `json:"tuition_fee,omitempty"`
	RequiredExams []string `json:"required_exams,omitempty"`
}

type studentRequest struct {
	ExternalID   string         `json:"external_id,omitempty"`
	FullName     string         `json:"full_name"`
	Phone        string         `json:"phone"`
	Email        string         `json:"email,omitempty"`
	DepartmentID string         `json:"department_id,omitempty"`
	SpecialityID string         `json:"speciality_id,omitempty"`
	Priority     int            `json:"priority_place,omitempty"`
	ExamScores   map[string]int `json:"exam_scores,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}

type studentPatch struct {
	FullName          *string `json:"full_name,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	Email             *string `json:"email,omitempty"`
	Status            *string `json:"status,omitempty"`
	ApplicationStatus *string `json:"application_status,omitempty"`
	DepartmentID      *string `json:"department_id,omitempty"`
	SpecialityID      *string `json:"speciality_id,omitempty"`
	Priority          *int    `json:"priority_place,omitempty"`
	Notes             *string `json:"notes,omitempty"`
	AssignedTeacherID *string `json:"assigned_teacher_id,omitempty"`
}

type communicationPatch struct {
	Type            *string    `json:"communication_type"`
	Status          *string    `json:"status"`
	OccurredAt      *time.Time `json:"date_time"`
	DurationMinutes *int       `json:"duration_minutes"`
	Topic           *string    `json:"topic"`
	Notes           *string    `json:"notes"`
	NextAction      *string    `json:"next_action"`
	NextActionAt    *time.Time `json:"next_action_date"`
	Important       *bool      `json:"is_important"`
}

type communicationRequest struct {
	Type            string    `json:"communication_type,omitempty"`
	Status          string    `json:"status,omitempty"`
	OccurredAt      time.Time `json:"date_time,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Topic           string    `json:"topic"`
	Notes           string    `json:"notes"`
	NextAction      string    `json:"next_action,omitempty"`
	NextActionAt    time.Time `json:"next_action_date,omitempty"`
	Important       bool      `json:"is_important,omitempty"`
}

func (a *API) handleDepartmentsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := a.admissions.ListDepartments(r.Context(), principal)
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		var req departmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		dep, err := a.admissions.CreateDepartment(r.Context(), principal, admissions.DepartmentInput{
			Code:         req.Code,
			Name:         req.Name,
			Faculty:      req.Faculty,
			Description:  req.Description,
			Dean:         req.Dean,
			ContactEmail: req.ContactEmail,
			ContactPhone: req.ContactPhone,
		})
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "department.created", map[string]any{"code": dep.Code})
		w.Header().Set("Location", "/v1/departments/"+dep.ID)
		writeJSON(w, http.StatusCreated, dep)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleDepartmentResource routes /v1/departments/{id} and
// /v1/departments/{id}/specialities.
func (a *API) handleDepartmentResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/departments/")
	id, rest, nested := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if nested {
		if rest != "specialities" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleDepartmentSpecialities(w, r, principal, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		dep, err := a.admissions.GetDepartment(r.Context(), principal, id)
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dep)
	case http.MethodPatch:
		var req departmentPatch
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		dep, err := a.admissions.UpdateDepartment(r.Context(), principal, id, admissions.DepartmentUpdate{
			Name:         req.Name,
			Faculty:      req.Faculty,
			Description:  req.Description,
			Dean:         req.Dean,
			ContactEmail: req.ContactEmail,
			ContactPhone: req.ContactPhone,
			Active:       req.Active,
		})
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dep)
	case http.MethodDelete:
		if err := a.admissions.DeleteDepartment(r.Context(), principal, id); err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleDepartmentSpecialities(w http.ResponseWriter, r *http.Request, principal auth.Principal, departmentID string) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.admissions.ListSpecialities(r.Context(), principal, departmentID)
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		var req specialityRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		sp, err := a.admissions.CreateSpeciality(r.Context(), principal, admissions.SpecialityInput{
			Code:          req.Code,
			Name:          req.Name,
			DepartmentID:  departmentID,
			StudyYears:    req.StudyYears,
			Description:   req.Description,
			TuitionFee:    req.TuitionFee,
			RequiredExams: req.RequiredExams,
		})
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sp)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSpecialityResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/specialities/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		sp, err := a.admissions.GetSpeciality(r.Context(), principal, id)
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sp)
	case http.MethodDelete:
		if err := a.admissions.DeleteSpeciality(r.Context(), principal, id); err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleStudentsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		filter := admissions.StudentFilter{
			DepartmentID:      strings.TrimSpace(q.Get("department_id")),
			SpecialityID:      strings.TrimSpace(q.Get("speciality_id")),
			Status:            strings.TrimSpace(q.Get("status")),
			ApplicationStatus: strings.TrimSpace(q.Get("application_status")),
		}
		list, err := a.admissions.ListStudents(r.Context(), principal, filter)
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		var req studentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		st, err := a.admissions.CreateStudent(r.Context(), principal, admissions.StudentInput{
			ExternalID:   req.ExternalID,
			FullName:     req.FullName,
			Phone:        req.Phone,
			Email:        req.Email,
			DepartmentID: req.DepartmentID,
			SpecialityID: req.SpecialityID,
			Priority:     req.Priority,
			ExamScores:   req.ExamScores,
			Notes:        req.Notes,
		})
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "student.created", map[string]any{"student_id": st.ID})
		if a.activity != nil {
			a.activity.Publish(stream.ActivityEvent{
				Kind:       stream.KindStudentCreated,
				ActorID:    principal.Account.ID,
				ActorRole:  string(principal.Account.Role),
				StudentID:  st.ID,
				Department: st.DepartmentID,
			})
		}
		w.Header().Set("Location", "/v1/students/"+st.ID)
		writeJSON(w, http.StatusCreated, st)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleStudentResource routes /v1/students/{id} and
// /v1/students/{id}/communications.
func (a *API) handleStudentResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/students/")
	id, rest, nested := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if nested {
		sub, comID, hasComID := strings.Cut(rest, "/")
		if sub != "communications" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if hasComID && comID != "" {
			a.handleCommunicationResource(w, r, principal, id, comID)
			return
		}
		a.handleStudentCommunications(w, r, principal, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		st, err := a.admissions.GetStudent(r.Context(), principal, id)
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodPatch:
		var req studentPatch
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		st, err := a.admissions.UpdateStudent(r.Context(), principal, id, admissions.StudentUpdate{
			FullName:          req.FullName,
			Phone:             req.Phone,
			Email:             req.Email,
			Status:            req.Status,
			ApplicationStatus: req.ApplicationStatus,
			DepartmentID:      req.DepartmentID,
			SpecialityID:      req.SpecialityID,
			Priority:          req.Priority,
			Notes:             req.Notes,
			AssignedTeacherID: req.AssignedTeacherID,
		})
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "student.updated", map[string]any{"student_id": st.ID})
		if a.activity != nil {
			kind := stream.KindStudentUpdated
			if req.ApplicationStatus != nil {
				kind = stream.KindApplicationReviewed
			}
			a.activity.Publish(stream.ActivityEvent{
				Kind:      kind,
				ActorID:   principal.Account.ID,
				ActorRole: string(principal.Account.Role),
				StudentID: st.ID,
				Detail:    st.ApplicationStatus,
			})
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodDelete:
		if err := a.admissions.DeleteStudent(r.Context(), principal, id); err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "student.deleted", map[string]any{"student_id": id})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleStudentCommunications(w http.ResponseWriter, r *http.Request, principal auth.Principal, studentID string) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.admissions.ListCommunications(r.Context(), principal, studentID)
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case http.MethodPost:
		var req communicationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		com, err := a.admissions.LogCommunication(r.Context(), principal, admissions.CommunicationInput{
			StudentID:       studentID,
			Type:            req.Type,
			Status:          req.Status,
			OccurredAt:      req.OccurredAt,
			DurationMinutes: req.DurationMinutes,
			Topic:           req.Topic,
			Notes:           req.Notes,
			NextAction:      req.NextAction,
			NextActionAt:    req.NextActionAt,
			Important:       req.Important,
		})
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		if a.activity != nil {
			a.activity.Publish(stream.ActivityEvent{
				Kind:      stream.KindCommunicationLogged,
				ActorID:   principal.Account.ID,
				ActorRole: string(principal.Account.Role),
				StudentID: studentID,
			})
		}
		writeJSON(w, http.StatusCreated, com)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCommunicationResource(w http.ResponseWriter, r *http.Request, principal auth.Principal, studentID, comID string) {
	switch r.Method {
	case http.MethodPatch:
		var req communicationPatch
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		com, err := a.admissions.UpdateCommunication(r.Context(), principal, studentID, comID, admissions.CommunicationUpdate{
			Type:            req.Type,
			Status:          req.Status,
			OccurredAt:      req.OccurredAt,
			DurationMinutes: req.DurationMinutes,
			Topic:           req.Topic,
			Notes:           req.Notes,
			NextAction:      req.NextAction,
			NextActionAt:    req.NextActionAt,
			Important:       req.Important,
		})
		if err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "communication.updated", map[string]any{"student_id": studentID, "communication_id": comID})
		writeJSON(w, http.StatusOK, com)
	case http.MethodDelete:
		if err := a.admissions.DeleteCommunication(r.Context(), principal, studentID, comID); err != nil {
			handleAdmissionsError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "communication.deleted", map[string]any{"student_id": studentID, "communication_id": comID})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
	}
}

func handleAdmissionsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, admissions.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, admissions.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, admissions.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, admissions.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
