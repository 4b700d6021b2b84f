package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(CodecConfig{Secret: "test-signing-secret", Issuer: "uniadmit-test"})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec(CodecConfig{Secret: "  "}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	perms, _ := Permissions(RoleTeacher)

	token, err := codec.Mint(Claims{
		Email:            "a@u.edu",
		Name:             "Anna Petrova",
		Role:             RoleTeacher,
		Permissions:      perms,
		TokenType:        TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != RoleTeacher || claims.Name != "Anna Petrova" {
		t.Fatalf("claims were not preserved: %+v", claims)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected token type: %s", claims.TokenType)
	}
	if !claims.Permissions.Can(PermViewStudents) || claims.Permissions.Can(PermManageSystem) {
		t.Fatalf("permissions were not preserved: %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatalf("expected a minted jti")
	}
}

func TestMintAssignsFreshTokenIDs(t *testing.T) {
	codec := newTestCodec(t)
	c := Claims{TokenType: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	t1, err := codec.Mint(c, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	t2, err := codec.Mint(c, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	c1, _ := codec.Verify(t1)
	c2, _ := codec.Verify(t2)
	if c1.ID == c2.ID {
		t.Fatalf("expected distinct jti values")
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	codec := newTestCodec(t)
	token, err := codec.Mint(Claims{TokenType: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	// Flip a payload byte.
	parts := strings.Split(token, ".")
	body := []byte(parts[1])
	if body[0] == 'A' {
		body[0] = 'B'
	} else {
		body[0] = 'A'
	}
	tampered := parts[0] + "." + string(body) + "." + parts[2]
	if _, err := codec.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	codec := newTestCodec(t)
	token, err := codec.Mint(Claims{TokenType: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	codec.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := codec.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyForeignSecret(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewCodec(CodecConfig{Secret: "a-different-secret", Issuer: "uniadmit-test"})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, err := other.Mint(Claims{TokenType: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyForeignIssuer(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewCodec(CodecConfig{Secret: "test-signing-secret", Issuer: "someone-else"})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, err := other.Mint(Claims{TokenType: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMintRejectsBadInput(t *testing.T) {
	codec := newTestCodec(t)
	if _, err := codec.Mint(Claims{TokenType: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if _, err := codec.Mint(Claims{TokenType: TokenTypeAccess}, time.Hour); err == nil {
		t.Fatalf("expected error for missing subject")
	}
	if _, err := codec.Mint(Claims{TokenType: "session", RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, time.Hour); err == nil {
		t.Fatalf("expected error for unknown token type")
	}
}

func TestVerifyGarbage(t *testing.T) {
	codec := newTestCodec(t)
	for _, raw := range []string{"", "abc", "a.b.c", "  "} {
		if _, err := codec.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", raw, err)
		}
	}
}
