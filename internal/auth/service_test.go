package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fixture struct {
	svc  *Service
	dir  *InMemoryDirectory
	toks *InMemoryTokenStore
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	codec, err := NewCodec(CodecConfig{Secret: "test-signing-secret", Issuer: "uniadmit-test"})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	dir := NewInMemoryDirectory()
	toks := NewInMemoryTokenStore()
	svc, err := NewService(dir, toks, codec, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, dir: dir, toks: toks}
}

func (f *fixture) seed(t *testing.T, email string, role Role, status string) *Account {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	now := time.Now().UTC()
	acc := &Account{
		ID:           "acc-" + email,
		Email:        email,
		Name:         "Seed User",
		Role:         role,
		Status:       status,
		PasswordHash: hash,
		MaxStudents:  20,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.dir.Save(context.Background(), acc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return acc
}

func TestLoginIssuesTokenPair(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", map[string]string{"ua": "cli"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}
	if pair.TokenType != TokenTypeBearer {
		t.Fatalf("unexpected token type: %s", pair.TokenType)
	}
	if pair.ExpiresIn != int64(defaultAccessTTL.Seconds()) {
		t.Fatalf("unexpected expires_in: %d", pair.ExpiresIn)
	}
	if !pair.Account.Permissions.Can(PermViewStudents) {
		t.Fatalf("teacher should view students")
	}
	if pair.Account.Permissions.Can(PermManageSystem) {
		t.Fatalf("teacher must not manage system")
	}
	if got := len(f.toks.recs); got != 1 {
		t.Fatalf("expected exactly one refresh record, got %d", got)
	}

	acc, err := f.dir.FindByEmail(ctx, "a@u.edu")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if acc.LastLoginAt.IsZero() {
		t.Fatalf("last login was not recorded")
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Login(context.Background(), "ghost@u.edu", "whatever", nil); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	if _, err := f.svc.Login(context.Background(), "a@u.edu", "wrong", nil); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("expected ErrBadCredential, got %v", err)
	}
}

func TestLoginInactiveAccounts(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"pending@u.edu":  StatusPending,
		"rejected@u.edu": StatusRejected,
		"disabled@u.edu": StatusDisabled,
	}
	for email, status := range cases {
		f.seed(t, email, RoleTeacher, status)
		if _, err := f.svc.Login(context.Background(), email, "correct-horse", nil); !errors.Is(err, ErrAccountInactive) {
			t.Fatalf("status %s: expected ErrAccountInactive, got %v", status, err)
		}
	}
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair0, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	pair1, err := f.svc.Refresh(ctx, pair0.RefreshToken, nil)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if pair1.RefreshToken == pair0.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	// Replaying the rotated token must fail exactly once rotated.
	if _, err := f.svc.Refresh(ctx, pair0.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on replay, got %v", err)
	}

	// The newest link stays valid.
	if _, err := f.svc.Refresh(ctx, pair1.RefreshToken, nil); err != nil {
		t.Fatalf("newest link refused: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()
	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.AccessToken, nil); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshManuallyRevokedRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()
	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	for id := range f.toks.recs {
		if _, err := f.toks.Revoke(ctx, id); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestRefreshExpiredRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()
	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.toks.mu.Lock()
	for _, rec := range f.toks.recs {
		rec.ExpiresAt = time.Now().Add(-time.Hour)
	}
	f.toks.mu.Unlock()
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()
	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, pair.RefreshToken, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrTokenRevoked):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || rejected != n-1 {
		t.Fatalf("expected exactly one winner, got wins=%d rejected=%d", wins, rejected)
	}
}

func TestReuseChainRevocation(t *testing.T) {
	f := newFixture(t, WithReuseChainRevocation())
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair0, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	pair1, err := f.svc.Refresh(ctx, pair0.RefreshToken, nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair0.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on replay, got %v", err)
	}
	// The replay burned the whole chain, including the newest link.
	if _, err := f.svc.Refresh(ctx, pair1.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected chain revocation, got %v", err)
	}
}

func TestLogoutBlocksRefreshButNotAccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.Logout(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	// Access tokens are not individually revoked; they ride out their TTL.
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("access token rejected after logout: %v", err)
	}
	// Future refreshes are blocked.
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestLogoutRevokesEveryDevice(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pairLaptop, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", map[string]string{"device": "laptop"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	pairPhone, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", map[string]string{"device": "phone"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.svc.Logout(ctx, pairLaptop.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pairPhone.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected phone session revoked too, got %v", err)
	}
}

func TestAuthenticateDeactivatedAccount(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	acc.Status = StatusDisabled
	if err := f.dir.Save(ctx, acc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAuthenticateCarriesTokenPermissions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleStudent, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	principal, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Account.ID != "acc-a@u.edu" {
		t.Fatalf("unexpected subject: %s", principal.Account.ID)
	}
	if !principal.Can(PermViewStudents) || principal.Can(PermEditStudents) {
		t.Fatalf("unexpected permissions: %v", principal.Permissions)
	}
}

func TestAuthenticateExpiredAccessToken(t *testing.T) {
	f := newFixture(t, WithAccessTTL(time.Minute))
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.svc.codec.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRegisterRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	teacher, err := f.svc.Register(ctx, RegisterInput{
		Email:    "t@u.edu",
		Password: "secret-enough",
		Name:     "New Teacher",
	})
	if err != nil {
		t.Fatalf("Register teacher: %v", err)
	}
	if teacher.Role != RoleTeacher || teacher.Status != StatusPending {
		t.Fatalf("teacher should start pending, got %+v", teacher)
	}
	if teacher.MaxStudents != 20 {
		t.Fatalf("expected default capacity, got %d", teacher.MaxStudents)
	}

	student, err := f.svc.Register(ctx, RegisterInput{
		Email:    "s@u.edu",
		Password: "secret-enough",
		Name:     "New Student",
		Role:     RoleStudent,
	})
	if err != nil {
		t.Fatalf("Register student: %v", err)
	}
	if student.Status != StatusActive {
		t.Fatalf("student should start active, got %s", student.Status)
	}

	if _, err := f.svc.Register(ctx, RegisterInput{Email: "t@u.edu", Password: "secret-enough", Name: "Dup"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "r@u.edu", Password: "secret-enough", Name: "Root", Role: RoleAdmin}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for admin self-register, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "bad", Password: "secret-enough", Name: "Bad"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
	if _, err := f.svc.Register(ctx, RegisterInput{Email: "x@u.edu", Password: "tiny", Name: "Short"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short password, got %v", err)
	}
}

func TestApproveInstructorFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	teacher, err := f.svc.Register(ctx, RegisterInput{Email: "t@u.edu", Password: "first-secret", Name: "New Teacher"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.Login(ctx, "t@u.edu", "first-secret", nil); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("pending login should fail inactive, got %v", err)
	}

	temp, err := f.svc.ApproveInstructor(ctx, teacher.ID)
	if err != nil {
		t.Fatalf("ApproveInstructor: %v", err)
	}
	if len(temp) != tempPasswordLength {
		t.Fatalf("unexpected temp password length: %d", len(temp))
	}
	if _, err := f.svc.Login(ctx, "t@u.edu", temp, nil); err != nil {
		t.Fatalf("login with temporary password: %v", err)
	}
	// Approval is one-shot.
	if _, err := f.svc.ApproveInstructor(ctx, teacher.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput re-approving, got %v", err)
	}
}

func TestRejectInstructorFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	teacher, err := f.svc.Register(ctx, RegisterInput{Email: "t@u.edu", Password: "first-secret", Name: "New Teacher"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.svc.RejectInstructor(ctx, teacher.ID); err != nil {
		t.Fatalf("RejectInstructor: %v", err)
	}
	if _, err := f.svc.Login(ctx, "t@u.edu", "first-secret", nil); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("rejected login should fail inactive, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.ChangePassword(ctx, pair.AccessToken, "brand-new-secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected refresh chain revoked, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "a@u.edu", "brand-new-secret", nil); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestRefreshRecordHashBoundToToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "a@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	for id, rec := range f.toks.recs {
		if !tokenHashMatches(rec.TokenHash, pair.RefreshToken) {
			t.Fatalf("stored hash should verify the issued token")
		}
		// A dumped token table must not contain enough to rebuild the
		// hash: record fields alone cannot stand in for the token.
		if rec.TokenHash == hashToken(id) || rec.TokenHash == hashToken(rec.AccountID) {
			t.Fatalf("stored hash derivable from record fields")
		}
	}

	// A tampered record no longer verifies the real token.
	for _, rec := range f.toks.recs {
		rec.TokenHash = hashToken("something-else")
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on hash mismatch, got %v", err)
	}
}

func TestDeactivateAccountCutsLiveSessions(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, "t@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, "t@u.edu", "correct-horse", nil)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.DeactivateAccount(ctx, acc.ID); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}

	if _, err := f.svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("access token should stop working, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, nil); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("refresh chain should be revoked, got %v", err)
	}
	if _, err := f.svc.Login(ctx, "t@u.edu", "correct-horse", nil); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("disabled login should fail inactive, got %v", err)
	}
	if err := f.svc.DeactivateAccount(ctx, acc.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("double deactivation should be invalid, got %v", err)
	}
}

func TestActivateAccountRestoresAccess(t *testing.T) {
	f := newFixture(t)
	acc := f.seed(t, "t@u.edu", RoleTeacher, StatusActive)
	ctx := context.Background()

	if err := f.svc.DeactivateAccount(ctx, acc.ID); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}
	if err := f.svc.ActivateAccount(ctx, acc.ID); err != nil {
		t.Fatalf("ActivateAccount: %v", err)
	}
	if _, err := f.svc.Login(ctx, "t@u.edu", "correct-horse", nil); err != nil {
		t.Fatalf("reactivated login: %v", err)
	}
	if err := f.svc.ActivateAccount(ctx, acc.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("double activation should be invalid, got %v", err)
	}
	if err := f.svc.ActivateAccount(ctx, "ghost"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("unknown account should not activate, got %v", err)
	}
}

func TestListAccountsOrderedByEmail(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "zoe@u.edu", RoleStudent, StatusActive)
	f.seed(t, "ada@u.edu", RoleTeacher, StatusActive)
	f.seed(t, "mia@u.edu", RoleAdmin, StatusActive)

	list, err := f.svc.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(list))
	}
	for i, want := range []string{"ada@u.edu", "mia@u.edu", "zoe@u.edu"} {
		if list[i].Email != want {
			t.Fatalf("position %d: want %s, got %s", i, want, list[i].Email)
		}
	}
}
