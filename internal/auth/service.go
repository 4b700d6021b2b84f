package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour

	// TokenTypeBearer is the token_type constant in token pair responses.
	TokenTypeBearer = "bearer"

	tempPasswordLength = 10
	minPasswordLength  = 6
)

// Service orchestrates login, refresh-token rotation, logout and
// permission derivation. It holds no mutable session state; every check
// re-reads the directory and token store so deactivation and revocation
// take effect immediately.
type Service struct {
	accounts AccountDirectory
	tokens   RefreshTokenStore
	codec    *Codec
	now      func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration

	// revokeChainOnReuse burns every session for the account when a
	// rotated refresh token is replayed (theft signal). Off by default:
	// the still-valid newest link keeps working and only the replayed
	// token is rejected.
	revokeChainOnReuse bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithReuseChainRevocation makes replay of a rotated refresh token revoke
// every outstanding session for the account instead of only rejecting the
// replayed token.
func WithReuseChainRevocation() ServiceOption {
	return func(s *Service) error {
		s.revokeChainOnReuse = true
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the session manager.
func NewService(accounts AccountDirectory, tokens RefreshTokenStore, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, errors.New("auth: account directory is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: refresh token store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: token codec is required")
	}
	svc := &Service{
		accounts:   accounts,
		tokens:     tokens,
		codec:      codec,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Login verifies credentials and issues a fresh token pair bound to a new
// refresh record.
func (s *Service) Login(ctx context.Context, email, secret string, device map[string]string) (TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || secret == "" {
		return TokenPair{}, ErrBadCredential
	}
	acc, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, err
	}
	if err := inactiveReason(acc); err != nil {
		return TokenPair{}, err
	}
	if !VerifyPassword(secret, acc.PasswordHash) {
		return TokenPair{}, ErrBadCredential
	}

	now := s.now().UTC()
	acc.LastLoginAt = now
	acc.UpdatedAt = now
	if err := s.accounts.Save(ctx, acc); err != nil {
		return TokenPair{}, err
	}
	return s.mintPair(ctx, acc, device)
}

// Refresh rotates a refresh token: the presented record is revoked with a
// conditional write and a new pair is minted only when that write won.
// Reuse of an already-rotated token revokes every chain for the account.
func (s *Service) Refresh(ctx context.Context, refreshToken string, device map[string]string) (TokenPair, error) {
	claims, err := s.codec.Verify(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return TokenPair{}, ErrInvalidToken
	}

	rec, err := s.tokens.Find(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if rec.AccountID != claims.Subject || !tokenHashMatches(rec.TokenHash, refreshToken) {
		return TokenPair{}, ErrTokenRevoked
	}
	if rec.Revoked {
		// Replay of a rotated token.
		if s.revokeChainOnReuse {
			_ = s.tokens.RevokeAllForAccount(ctx, rec.AccountID)
		}
		return TokenPair{}, ErrTokenRevoked
	}
	if s.now().UTC().After(rec.ExpiresAt) {
		return TokenPair{}, ErrTokenRevoked
	}

	acc, err := s.accounts.FindByID(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return TokenPair{}, ErrTokenRevoked
		}
		return TokenPair{}, err
	}
	if err := inactiveReason(acc); err != nil {
		return TokenPair{}, err
	}

	won, err := s.tokens.Revoke(ctx, rec.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if !won {
		// A concurrent refresh already rotated this record.
		if s.revokeChainOnReuse {
			_ = s.tokens.RevokeAllForAccount(ctx, rec.AccountID)
		}
		return TokenPair{}, ErrTokenRevoked
	}
	return s.mintPair(ctx, acc, device)
}

// Logout revokes every unrevoked refresh record for the token's subject.
// Outstanding access tokens stay valid until they expire; only future
// refreshes are blocked.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		return err
	}
	if claims.TokenType != TokenTypeAccess {
		return ErrInvalidToken
	}
	return s.tokens.RevokeAllForAccount(ctx, claims.Subject)
}

// Authenticate validates an access token and re-reads the account so a
// just-deactivated account is rejected even with a live token. The
// permission set rides in with the token claims.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.codec.Verify(accessToken)
	if err != nil {
		return Principal{}, err
	}
	if claims.TokenType != TokenTypeAccess {
		return Principal{}, ErrInvalidToken
	}
	acc, err := s.accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if err := inactiveReason(acc); err != nil {
		return Principal{}, err
	}
	perms := claims.Permissions.Clone()
	if perms == nil {
		perms, err = Permissions(acc.Role)
		if err != nil {
			return Principal{}, err
		}
	}
	return Principal{Account: acc, Permissions: perms}, nil
}

// RegisterInput describes a self-service signup.
type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	Phone       string
	Role        Role
	MaxStudents int
	Departments []string
}

// Register creates an account. Teachers start pending administrator
// approval; students are active at once. Admin accounts are only created
// through the bootstrap CLI.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	name := strings.TrimSpace(in.Name)
	if len(name) < 2 {
		return nil, fmt.Errorf("%w: name must be at least 2 characters", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = RoleTeacher
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, role)
	}
	if role == RoleAdmin {
		return nil, fmt.Errorf("%w: admin accounts cannot self-register", ErrInvalidInput)
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	status := StatusActive
	if role == RoleTeacher {
		status = StatusPending
	}
	maxStudents := in.MaxStudents
	if maxStudents <= 0 && role == RoleTeacher {
		maxStudents = 20
	}

	now := s.now().UTC()
	acc := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Phone:        strings.TrimSpace(in.Phone),
		Role:         role,
		Status:       status,
		PasswordHash: hash,
		MaxStudents:  maxStudents,
		Departments:  in.Departments,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Save(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// ApproveInstructor activates a pending teacher account and returns the
// generated temporary password. The password is returned exactly once and
// never stored in cleartext.
func (s *Service) ApproveInstructor(ctx context.Context, accountID string) (string, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acc.Status != StatusPending {
		return "", fmt.Errorf("%w: account is not pending approval", ErrInvalidInput)
	}
	temp, err := temporaryPassword(tempPasswordLength)
	if err != nil {
		return "", err
	}
	hash, err := HashPassword(temp)
	if err != nil {
		return "", err
	}
	acc.Status = StatusActive
	acc.PasswordHash = hash
	acc.UpdatedAt = s.now().UTC()
	if err := s.accounts.Save(ctx, acc); err != nil {
		return "", err
	}
	return temp, nil
}

// RejectInstructor marks a pending teacher account rejected.
func (s *Service) RejectInstructor(ctx context.Context, accountID string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Status != StatusPending {
		return fmt.Errorf("%w: account is not pending approval", ErrInvalidInput)
	}
	acc.Status = StatusRejected
	acc.UpdatedAt = s.now().UTC()
	return s.accounts.Save(ctx, acc)
}

// ListAccounts returns every account in the directory. Intended for the
// administrator console; the HTTP layer gates it on can_manage_system.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.accounts.List(ctx)
}

// DeactivateAccount disables an account and revokes its refresh chains.
// Outstanding access tokens die at the next request because Authenticate
// re-reads the directory.
func (s *Service) DeactivateAccount(ctx context.Context, accountID string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Status == StatusDisabled {
		return fmt.Errorf("%w: account is already disabled", ErrInvalidInput)
	}
	acc.Status = StatusDisabled
	acc.UpdatedAt = s.now().UTC()
	if err := s.accounts.Save(ctx, acc); err != nil {
		return err
	}
	return s.tokens.RevokeAllForAccount(ctx, acc.ID)
}

// ActivateAccount re-enables a disabled or rejected account.
func (s *Service) ActivateAccount(ctx context.Context, accountID string) error {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc.Status == StatusActive {
		return fmt.Errorf("%w: account is already active", ErrInvalidInput)
	}
	acc.Status = StatusActive
	acc.UpdatedAt = s.now().UTC()
	return s.accounts.Save(ctx, acc)
}

// ChangePassword re-hashes the caller's secret and revokes every refresh
// chain, forcing a fresh login on all devices.
func (s *Service) ChangePassword(ctx context.Context, accessToken, newSecret string) error {
	principal, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return err
	}
	if len(newSecret) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := HashPassword(newSecret)
	if err != nil {
		return err
	}
	acc := principal.Account
	acc.PasswordHash = hash
	acc.UpdatedAt = s.now().UTC()
	if err := s.accounts.Save(ctx, acc); err != nil {
		return err
	}
	return s.tokens.RevokeAllForAccount(ctx, acc.ID)
}

func (s *Service) mintPair(ctx context.Context, acc *Account, device map[string]string) (TokenPair, error) {
	perms, err := Permissions(acc.Role)
	if err != nil {
		return TokenPair{}, err
	}

	now := s.now().UTC()
	access, err := s.codec.Mint(Claims{
		Email:            acc.Email,
		Name:             acc.Name,
		Role:             acc.Role,
		Permissions:      perms,
		TokenType:        TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: acc.ID},
	}, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	jti := uuid.NewString()
	refresh, err := s.codec.Mint(Claims{
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{Subject: acc.ID, ID: jti},
	}, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	rec := &RefreshRecord{
		ID:        jti,
		AccountID: acc.ID,
		TokenHash: hashToken(refresh),
		Device:    cloneDevice(device),
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		Account:      snapshot(acc, perms),
	}, nil
}

func inactiveReason(acc *Account) error {
	switch acc.Status {
	case StatusActive:
		return nil
	case StatusPending:
		return fmt.Errorf("%w: account awaits administrator approval", ErrAccountInactive)
	case StatusRejected:
		return fmt.Errorf("%w: registration was rejected by an administrator", ErrAccountInactive)
	default:
		return fmt.Errorf("%w: account is disabled", ErrAccountInactive)
	}
}

// hashToken one-way hashes the full signed refresh token before storage.
// The signature is never persisted, so a leaked token table cannot be
// turned back into presentable tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenHashMatches(storedHash, token string) bool {
	actual := hashToken(token)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}

func cloneDevice(device map[string]string) map[string]string {
	if len(device) == 0 {
		return nil
	}
	out := make(map[string]string, len(device))
	for k, v := range device {
		out[k] = v
	}
	return out
}

const tempPasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

func temporaryPassword(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tempPasswordAlphabet[n.Int64()]
	}
	return string(out), nil
}
