package auth

import "time"

// Account statuses. An account logs in only while active; the three
// inactive states block login identically but surface distinct messages.
const (
	StatusActive   = "active"
	StatusPending  = "pending"
	StatusRejected = "rejected"
	StatusDisabled = "disabled"
)

// Account is a user record owned by the AccountDirectory.
type Account struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"full_name"`
	Phone           string    `json:"phone,omitempty"`
	Role            Role      `json:"role"`
	Status          string    `json:"status"`
	PasswordHash    string    `json:"-"`
	MaxStudents     int       `json:"max_students"`
	CurrentStudents int       `json:"current_students_count"`
	Departments     []string  `json:"assigned_departments"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastLoginAt     time.Time `json:"last_login,omitempty"`
}

// Active reports whether the account may authenticate.
func (a *Account) Active() bool { return a.Status == StatusActive }

// RefreshRecord is the persisted server-side half of a refresh token.
// Immutable once written except for the revoked flag and timestamp.
type RefreshRecord struct {
	ID        string
	AccountID string
	TokenHash string
	Device    map[string]string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt time.Time
}

// Snapshot is the account view returned alongside freshly minted tokens.
type Snapshot struct {
	ID              string        `json:"id"`
	Email           string        `json:"email"`
	Name            string        `json:"full_name"`
	Role            Role          `json:"role"`
	MaxStudents     int           `json:"max_students"`
	CurrentStudents int           `json:"current_students_count"`
	Departments     []string      `json:"assigned_departments"`
	Permissions     PermissionSet `json:"permissions"`
}

// TokenPair is the boundary format handed back to callers on login and
// refresh.
type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	Account      Snapshot `json:"user"`
}

// Principal is an authenticated caller: the live account plus the
// permission set that rode in with the access token.
type Principal struct {
	Account     *Account
	Permissions PermissionSet
}

// Can reports whether the principal holds the capability.
func (p Principal) Can(capability string) bool {
	return p.Permissions.Can(capability)
}

func snapshot(acc *Account, perms PermissionSet) Snapshot {
	deps := make([]string, len(acc.Departments))
	copy(deps, acc.Departments)
	return Snapshot{
		ID:              acc.ID,
		Email:           acc.Email,
		Name:            acc.Name,
		Role:            acc.Role,
		MaxStudents:     acc.MaxStudents,
		CurrentStudents: acc.CurrentStudents,
		Departments:     deps,
		Permissions:     perms.Clone(),
	}
}
