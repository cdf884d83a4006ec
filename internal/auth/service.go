package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gearguard.io/internal/ids"
)

const defaultResetTTL = time.Hour

// Mailer delivers account emails. Delivery is a collaborator outside the
// auth core; failures are logged, never surfaced to the client.
type Mailer interface {
	SendWelcome(ctx context.Context, email, name string) error
	SendPasswordReset(ctx context.Context, email, rawToken string) error
}

type noopMailer struct{}

func (noopMailer) SendWelcome(context.Context, string, string) error       { return nil }
func (noopMailer) SendPasswordReset(context.Context, string, string) error { return nil }

// Service orchestrates login, refresh, logout and password reset on top
// of the token issuer, the catalog and the stores.
type Service struct {
	store    Store
	issuer   *TokenIssuer
	mailer   Mailer
	now      func() time.Time
	resetTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithMailer installs the email collaborator.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithResetTTL overrides the password reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, issuer *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:    store,
		issuer:   issuer,
		mailer:   noopMailer{},
		now:      time.Now,
		resetTTL: defaultResetTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates an unverified account. It never issues tokens; the
// client logs in afterwards. When no organization is referenced, a
// personal organization is created and the registrant becomes its admin;
// joining an existing organization assigns the technician role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := ValidatePasswordStrength(in.Password); err != nil {
		return nil, err
	}
	if _, err := s.store.Users().FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	orgID := strings.TrimSpace(in.OrganizationID)
	role := RoleTechnician
	switch {
	case strings.TrimSpace(in.OrganizationName) != "":
		org := &Organization{
			Name: strings.TrimSpace(in.OrganizationName),
			Slug: slugify(in.OrganizationName),
		}
		if err := s.store.Organizations().Create(ctx, org); err != nil {
			return nil, err
		}
		orgID = org.ID
		role = RoleAdmin
	case orgID != "":
		if _, err := s.store.Organizations().Find(ctx, orgID); err != nil {
			return nil, err
		}
	default:
		name := strings.TrimSpace(in.FirstName) + "'s Organization"
		org := &Organization{Name: name, Slug: slugify(name)}
		if err := s.store.Organizations().Create(ctx, org); err != nil {
			return nil, err
		}
		orgID = org.ID
		role = RoleAdmin
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		OrganizationID: orgID,
		Email:          email,
		PasswordHash:   hash,
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Phone:          strings.TrimSpace(in.Phone),
		Role:           role,
		IsActive:       true,
		IsVerified:     false,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	// Delivery is best-effort.
	_ = s.mailer.SendWelcome(ctx, user.Email, user.FirstName+" "+user.LastName)
	return user, nil
}

// Login authenticates credentials and issues a token pair bound to a new
// session. Unknown emails and wrong passwords produce the same error.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return TokenPair{}, nil, ErrAccountInactive
	}

	pair, err := s.mintPair(ctx, user, meta)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if err := s.store.Users().UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the session.
// At most one of N concurrent calls with the same token succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta SessionMeta) (TokenPair, error) {
	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	sessions := s.store.Sessions()
	sess, err := sessions.Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrSessionInvalid
		}
		return TokenPair{}, err
	}
	now := s.now()
	// An expired row is invalid even if the flag was never flipped.
	if !sess.IsActive || !now.Before(sess.ExpiresAt) {
		return TokenPair{}, ErrSessionInvalid
	}
	if !TokenHashEquals(sess.TokenHash, HashToken(refreshToken)) {
		// Hash mismatch on a live session means token reuse after
		// rotation; kill the lineage.
		_ = sessions.Revoke(ctx, sess.ID)
		return TokenPair{}, ErrSessionInvalid
	}
	if err := sessions.Touch(ctx, sess.ID, now); err != nil {
		return TokenPair{}, err
	}

	user, err := s.store.Users().Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrSessionInvalid
		}
		return TokenPair{}, err
	}
	if !user.IsActive {
		return TokenPair{}, ErrAccountInactive
	}

	permissions, err := PermissionsFor(user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	next, refresh, refreshExp, err := s.newSession(user.ID, meta)
	if err != nil {
		return TokenPair{}, err
	}
	if err := sessions.Rotate(ctx, sess.ID, next); err != nil {
		return TokenPair{}, err
	}
	access, accessExp, err := s.issuer.IssueAccess(user, permissions)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout revokes the session named by the refresh token. The end state
// (revoked) is already achieved for stale or garbage tokens, so those
// fail silently.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.issuer.DecodeRefreshLax(refreshToken)
	if err != nil {
		return nil
	}
	return s.store.Sessions().Revoke(ctx, claims.SessionID)
}

// LogoutAll revokes every session of a user ("log out everywhere").
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.store.Sessions().RevokeAllForUser(ctx, userID)
}

// ForgotPassword creates a reset token and hands it to the mailer. The
// response is uniform whether or not the email exists.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	raw, err := NewOpaqueToken()
	if err != nil {
		return err
	}
	rec := &PasswordResetToken{
		ID:        ids.New(),
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		ExpiresAt: s.now().Add(s.resetTTL),
	}
	if err := s.store.ResetTokens().Create(ctx, rec); err != nil {
		return err
	}
	_ = s.mailer.SendPasswordReset(ctx, user.Email, raw)
	return nil
}

// ResetPassword consumes a reset token, updates the password and revokes
// every session of the user. A token is consumed at most once, and
// expiry wins over the used flag.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	rec, err := s.store.ResetTokens().FindByHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}
	if !s.now().Before(rec.ExpiresAt) {
		return ErrResetTokenExpired
	}
	if rec.Used {
		return ErrResetTokenUsed
	}
	if err := s.store.ResetTokens().Consume(ctx, rec.ID); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, rec.UserID, hash); err != nil {
		return err
	}
	return s.store.Sessions().RevokeAllForUser(ctx, rec.UserID)
}

// ChangePassword verifies the current password before setting a new one,
// then forces re-login everywhere.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := ValidatePasswordStrength(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.store.Sessions().RevokeAllForUser(ctx, userID)
}

// Authenticate verifies an access token and returns the caller's decoded
// identity. Validity is signature plus expiry only; no storage lookup.
func (s *Service) Authenticate(token string) (UserContext, error) {
	claims, err := s.issuer.VerifyAccess(token)
	if err != nil {
		return UserContext{}, ErrUnauthenticated
	}
	return UserContext{
		UserID:      claims.Subject,
		Email:       claims.Email,
		OrgID:       claims.OrgID,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}

// Authorize verifies an access token and checks the required permission
// against the grants embedded in its claims.
func (s *Service) Authorize(token, required string) (UserContext, error) {
	uc, err := s.Authenticate(token)
	if err != nil {
		return UserContext{}, err
	}
	if !HasPermission(uc.Permissions, required) {
		return UserContext{}, ErrForbidden
	}
	return uc, nil
}

// Profile loads the caller's own account record.
func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	return s.store.Users().Find(ctx, userID)
}

// UpdateProfile applies partial profile changes for the caller.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	return s.store.Users().UpdateProfile(ctx, userID, upd)
}

func (s *Service) mintPair(ctx context.Context, user *User, meta SessionMeta) (TokenPair, error) {
	permissions, err := PermissionsFor(user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	sess, refresh, refreshExp, err := s.newSession(user.ID, meta)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.Sessions().Create(ctx, sess); err != nil {
		return TokenPair{}, err
	}
	access, accessExp, err := s.issuer.IssueAccess(user, permissions)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// newSession builds an unsaved session row plus the refresh token bound
// to it.
func (s *Service) newSession(userID string, meta SessionMeta) (*Session, string, time.Time, error) {
	sessionID := ids.New()
	refresh, exp, err := s.issuer.IssueRefresh(userID, sessionID)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	now := s.now().UTC()
	sess := &Session{
		ID:           sessionID,
		UserID:       userID,
		TokenHash:    HashToken(refresh),
		DeviceInfo:   meta.DeviceInfo,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		IsActive:     true,
		LastActivity: now,
		ExpiresAt:    exp,
	}
	return sess, refresh, exp, nil
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "org"
	}
	return slug + "-" + strings.ToLower(ids.New()[:8])
}
