package auth

import "errors"

var (
	// ErrIdentityNotFound — no account exists for the given email or id.
	ErrIdentityNotFound = errors.New("auth: identity not found")
	// ErrBadCredential — the supplied secret does not match the stored hash.
	ErrBadCredential = errors.New("auth: bad credential")
	// ErrAccountInactive — the account exists but may not log in. Wrapped
	// messages distinguish pending approval, rejected and disabled.
	ErrAccountInactive = errors.New("auth: account inactive")
	// ErrInvalidToken — signature or structural failure.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenExpired — valid signature, past expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenRevoked — refresh token unknown or already rotated. Genuine
	// replay and garbage input are deliberately indistinguishable here.
	ErrTokenRevoked = errors.New("auth: token revoked or unknown")
	// ErrUnknownRole — role outside the closed set. Data-integrity bug,
	// not a user-facing condition.
	ErrUnknownRole = errors.New("auth: unknown role")
	// ErrAlreadyExists — registration against an email that is taken.
	ErrAlreadyExists = errors.New("auth: already exists")
	// ErrInvalidInput — malformed registration or mutation input.
	ErrInvalidInput = errors.New("auth: invalid input")
)
