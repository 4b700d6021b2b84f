package auth

import "context"

// AccountDirectory supplies identity, role and status lookups. The
// directory returns ErrIdentityNotFound for unknown emails and ids.
type AccountDirectory interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	// List returns every account ordered by email.
	List(ctx context.Context) ([]Account, error)
	Save(ctx context.Context, acc *Account) error
}

// RefreshTokenStore records issued refresh tokens and their revocation
// state.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshRecord) error
	// Find returns ErrTokenRevoked for unknown ids; callers cannot tell a
	// missing record from a revoked one.
	Find(ctx context.Context, id string) (*RefreshRecord, error)
	// Revoke flips the revoked flag only when it is still false and
	// reports whether this caller won the flip. The conditional write is
	// what prevents two concurrent refreshes from both rotating the same
	// record.
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID string) error
}
