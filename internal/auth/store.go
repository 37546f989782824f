package auth

import (
	"context"
	"time"
)

// IdentityReader resolves an identity by id.
type IdentityReader interface {
	IdentityByID(ctx context.Context, id int64) (Identity, error)
}

// IdentityStore describes persistence operations required by the account lifecycle.
// Lookups return apperr.ErrNotFound when nothing matches.
type IdentityStore interface {
	IdentityReader
	IdentityByLogin(ctx context.Context, login string) (Identity, error)
	IdentityByEmail(ctx context.Context, email string) (Identity, error)
	IdentityByResetToken(ctx context.Context, tokenHash string, now time.Time) (Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	CountIdentities(ctx context.Context) (int, error)

	// CreateIdentity inserts id and fills ID and timestamps.
	CreateIdentity(ctx context.Context, id *Identity) error
	// SetPassword replaces the hash and clears any pending reset token.
	SetPassword(ctx context.Context, id int64, passwordHash string) error
	SetResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error
	PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)

	// WithIdentityTx runs fn in a single transaction; fn's error rolls it back.
	WithIdentityTx(ctx context.Context, fn func(IdentityTx) error) error
}

// IdentityTx exposes the locking reads used by the self-protection rules.
type IdentityTx interface {
	LockIdentity(ctx context.Context, id int64) (Identity, error)
	// LockActiveAdmins locks and returns the ids of every active RoleAdmin identity,
	// in id order. Callers take it before LockIdentity.
	LockActiveAdmins(ctx context.Context) ([]int64, error)
	SaveIdentity(ctx context.Context, id Identity) error
	DeleteIdentity(ctx context.Context, id int64) error
}
