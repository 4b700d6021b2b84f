package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	h1, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected salted hashes to differ")
	}
	if !VerifyPassword("correct-horse", h1) {
		t.Fatalf("expected verification to succeed")
	}
	if VerifyPassword("wrong", h1) {
		t.Fatalf("expected verification to fail for wrong secret")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	for _, hash := range []string{"", "not-a-bcrypt-hash", "$2a$garbage"} {
		if VerifyPassword("anything", hash) {
			t.Fatalf("malformed hash %q verified", hash)
		}
	}
}

func TestHashPasswordEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
