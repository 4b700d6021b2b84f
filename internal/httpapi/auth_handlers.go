package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"uniadmit.org/internal/audit"
	"uniadmit.org/internal/auth"
	"uniadmit.org/internal/obs"
	"uniadmit.org/internal/stream"
)

type loginRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Device   map[string]string `json:"device,omitempty"`
}

type refreshRequest struct {
	RefreshToken string            `json:"refresh_token"`
	Device       map[string]string `json:"device,omitempty"`
}

type registerRequest struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Name        string   `json:"full_name"`
	Phone       string   `json:"phone,omitempty"`
	Role        string   `json:"role,omitempty"`
	MaxStudents int      `json:"max_students,omitempty"`
	Departments []string `json:"assigned_departments,omitempty"`
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.sessions.Login(r.Context(), req.Email, req.Password, req.Device)
	if err != nil {
		switch {
		// Do not reveal whether the email exists.
		case errors.Is(err, auth.ErrIdentityNotFound), errors.Is(err, auth.ErrBadCredential):
			obs.CountLogin("bad_credential")
			writeError(w, r, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, auth.ErrAccountInactive):
			obs.CountLogin("inactive")
			writeError(w, r, http.StatusForbidden, err.Error())
		default:
			obs.CountLogin("error")
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	obs.CountLogin("ok")

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": pair.Account.ID,
		"role":       pair.Account.Role,
	})
	if a.activity != nil {
		a.activity.Publish(stream.ActivityEvent{
			Kind:      stream.KindLogin,
			ActorID:   pair.Account.ID,
			ActorRole: string(pair.Account.Role),
		})
	}

	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken, req.Device)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			obs.CountRefresh("expired")
			writeError(w, r, http.StatusUnauthorized, "token expired")
		case errors.Is(err, auth.ErrTokenRevoked):
			obs.CountRefresh("revoked")
			writeError(w, r, http.StatusUnauthorized, "refresh token is no longer valid")
		case errors.Is(err, auth.ErrInvalidToken):
			obs.CountRefresh("invalid")
			writeError(w, r, http.StatusUnauthorized, "invalid token")
		case errors.Is(err, auth.ErrAccountInactive):
			obs.CountRefresh("inactive")
			writeError(w, r, http.StatusForbidden, err.Error())
		default:
			obs.CountRefresh("error")
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	obs.CountRefresh("ok")

	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"account_id": pair.Account.ID,
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.sessions.Logout(r.Context(), token); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	obs.CountRevocation()

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        principal.Account,
		"permissions": principal.Permissions,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.ChangePassword(r.Context(), token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.CountRevocation()

	_ = audit.LogEvent(r.Context(), "auth.password_changed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := a.sessions.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		Phone:       req.Phone,
		Role:        auth.Role(req.Role),
		MaxStudents: req.MaxStudents,
		Departments: req.Departments,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.registered", map[string]any{
		"account_id": acc.ID,
		"role":       acc.Role,
		"status":     acc.Status,
	})
	writeJSON(w, http.StatusCreated, acc)
}

// handleTeacherResource routes /v1/teachers/{id}/approve and
// /v1/teachers/{id}/reject.
func (a *API) handleTeacherResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if !principal.Can(auth.PermManageTeachers) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/teachers/")
	id, action, found := strings.Cut(path, "/")
	if !found || id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	switch action {
	case "approve":
		temp, err := a.sessions.ApproveInstructor(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "teacher.approved", map[string]any{"teacher_id": id})
		if a.activity != nil {
			a.activity.Publish(stream.ActivityEvent{
				Kind:    stream.KindInstructorApproved,
				ActorID: principal.Account.ID,
				Detail:  id,
			})
		}
		// The temporary password is shown exactly once.
		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "approved",
			"temporary_password": temp,
		})
	case "reject":
		if err := a.sessions.RejectInstructor(r.Context(), id); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "teacher.rejected", map[string]any{"teacher_id": id})
		writeJSON(w, http.StatusOK, map[string]any{"status": "rejected"})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if !principal.Can(auth.PermManageSystem) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	accounts, err := a.sessions.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": accounts})
}

// handleUserResource routes /v1/users/{id}/activate and
// /v1/users/{id}/deactivate.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	if !principal.Can(auth.PermManageSystem) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	id, action, found := strings.Cut(path, "/")
	if !found || id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	switch action {
	case "deactivate":
		// Admins cannot lock themselves out.
		if id == principal.Account.ID {
			writeError(w, r, http.StatusBadRequest, "cannot deactivate your own account")
			return
		}
		if err := a.sessions.DeactivateAccount(r.Context(), id); err != nil {
			handleAuthError(w, r, err)
			return
		}
		obs.CountRevocation()
		_ = audit.LogEvent(r.Context(), "user.deactivated", map[string]any{"user_id": id})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
	case "activate":
		if err := a.sessions.ActivateAccount(r.Context(), id); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "user.activated", map[string]any{"user_id": id})
		writeJSON(w, http.StatusOK, map[string]any{"status": "activated"})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "account already exists")
	case errors.Is(err, auth.ErrIdentityNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrUnknownRole):
		obs.LogError("unknown role reached the http layer", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
