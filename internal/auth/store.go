package auth

import (
	"context"
	"time"
)

// Store describes the persistence required by the auth core.
type Store interface {
	Organizations() OrganizationStore
	Users() UserStore
	Sessions() SessionStore
	ResetTokens() ResetTokenStore
}

// OrganizationStore manages tenant records.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
}

// UserStore manages account records. Emails are stored lower-cased and
// compared case-insensitively.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error)
	Deactivate(ctx context.Context, userID string) error
}

// SessionStore is the session registry: one row per issued refresh token.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// Touch updates last_activity on a successful validation.
	Touch(ctx context.Context, id string, at time.Time) error
	// Revoke flips active to false. Revoking a revoked or missing
	// session is not an error.
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	// Rotate atomically revokes the old session and inserts its
	// replacement. The revoke is conditional on the row still being
	// active; when a concurrent rotation already won, Rotate returns
	// ErrSessionInvalid and inserts nothing.
	Rotate(ctx context.Context, oldID string, next *Session) error
}

// ResetTokenStore manages single-use password reset tokens.
type ResetTokenStore interface {
	Create(ctx context.Context, t *PasswordResetToken) error
	FindByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)
	// Consume marks the token used. Consuming an already-used token
	// returns ErrResetTokenUsed.
	Consume(ctx context.Context, id string) error
}
