package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gearguard.io/internal/ids"
)

// recordingMailer captures outbound mail for assertions.
type recordingMailer struct {
	mu         sync.Mutex
	welcomes   []string
	resetToken string
}

func (m *recordingMailer) SendWelcome(_ context.Context, email, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes = append(m.welcomes, email)
	return nil
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, _, rawToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetToken = rawToken
	return nil
}

type serviceFixture struct {
	svc    *Service
	store  *MemoryStore
	mailer *recordingMailer
	now    *time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	issuer, err := NewTokenIssuer(testSecret, WithIssuerClock(clock), WithIssuerName("gearguard"))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	store := NewMemoryStore()
	mailer := &recordingMailer{}
	svc, err := NewService(store, issuer, WithMailer(mailer), WithClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{svc: svc, store: store, mailer: mailer, now: &now}
}

const goodPassword = "Sup3r$ecret"

func (f *serviceFixture) register(t *testing.T, email string) *User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  goodPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return user
}

func (f *serviceFixture) login(t *testing.T, email string) TokenPair {
	t.Helper()
	pair, _, err := f.svc.Login(context.Background(), email, goodPassword, SessionMeta{IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return pair
}

func TestRegisterCreatesPersonalOrganization(t *testing.T) {
	f := newServiceFixture(t)

	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     "  Ada@Example.COM ",
		Password:  goodPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Role != RoleAdmin {
		t.Fatalf("personal org registrant must be admin, got %s", user.Role)
	}
	if !user.IsActive || user.IsVerified {
		t.Fatalf("expected active unverified account: %+v", user)
	}
	if user.PasswordHash == goodPassword {
		t.Fatal("password stored in plaintext")
	}

	org, err := f.store.Organizations().Find(context.Background(), user.OrganizationID)
	if err != nil {
		t.Fatalf("org not created: %v", err)
	}
	if org.Name != "Ada's Organization" {
		t.Fatalf("unexpected org name %q", org.Name)
	}
	if len(f.mailer.welcomes) != 1 || f.mailer.welcomes[0] != "ada@example.com" {
		t.Fatalf("expected welcome mail, got %v", f.mailer.welcomes)
	}
}

func TestRegisterJoinsExistingOrganizationAsTechnician(t *testing.T) {
	f := newServiceFixture(t)
	org := &Organization{Name: "Acme Plant", Slug: "acme-plant"}
	if err := f.store.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("seed org: %v", err)
	}

	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:          "tech@example.com",
		Password:       goodPassword,
		FirstName:      "Tess",
		OrganizationID: org.ID,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Role != RoleTechnician {
		t.Fatalf("joiner must be technician, got %s", user.Role)
	}
	if user.OrganizationID != org.ID {
		t.Fatalf("wrong org: %s", user.OrganizationID)
	}
}

func TestRegisterNewOrganizationNameBecomesAdmin(t *testing.T) {
	f := newServiceFixture(t)
	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:            "owner@example.com",
		Password:         goodPassword,
		FirstName:        "Olga",
		OrganizationName: "North Plant",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Role != RoleAdmin {
		t.Fatalf("org creator must be admin, got %s", user.Role)
	}
	org, err := f.store.Organizations().Find(context.Background(), user.OrganizationID)
	if err != nil {
		t.Fatalf("org not created: %v", err)
	}
	if !strings.HasPrefix(org.Slug, "north-plant-") {
		t.Fatalf("unexpected slug %q", org.Slug)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newServiceFixture(t)

	if _, err := f.svc.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: goodPassword}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@b.com", Password: "weak"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@b.com", Password: goodPassword, OrganizationID: "missing",
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown org, got %v", err)
	}

	f.register(t, "dup@example.com")
	if _, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "DUP@example.com", Password: goodPassword,
	}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestLoginIssuesSessionBoundPair(t *testing.T) {
	f := newServiceFixture(t)
	registered := f.register(t, "ada@example.com")

	pair, user, err := f.svc.Login(context.Background(), "Ada@Example.com", goodPassword, SessionMeta{
		IPAddress: "10.0.0.1",
		UserAgent: "svc-test",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("wrong user: %s", user.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if !pair.AccessExpiresAt.Equal(f.now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry: %v", pair.AccessExpiresAt)
	}

	claims, err := f.svc.issuer.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	sess := f.store.session(claims.SessionID)
	if sess == nil || !sess.IsActive {
		t.Fatal("expected active session row")
	}
	if sess.TokenHash != HashToken(pair.RefreshToken) {
		t.Fatal("session must store the refresh token hash")
	}
	if sess.IPAddress != "10.0.0.1" || sess.UserAgent != "svc-test" {
		t.Fatalf("session metadata not recorded: %+v", sess)
	}

	stored, err := f.store.Users().Find(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.LastLogin == nil || !stored.LastLogin.Equal(*f.now) {
		t.Fatalf("last login not recorded: %v", stored.LastLogin)
	}
}

func TestLoginUniformCredentialErrors(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ada@example.com")

	_, _, errUnknown := f.svc.Login(context.Background(), "ghost@example.com", goodPassword, SessionMeta{})
	_, _, errWrong := f.svc.Login(context.Background(), "ada@example.com", "Wr0ng$pass", SessionMeta{})

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatal("unknown email and wrong password must be indistinguishable")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")
	if err := f.store.Users().Deactivate(context.Background(), user.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, _, err := f.svc.Login(context.Background(), "ada@example.com", goodPassword, SessionMeta{}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")
	pair := f.login(t, "ada@example.com")
	oldClaims, err := f.svc.issuer.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}

	next, err := f.svc.Refresh(context.Background(), pair.RefreshToken, SessionMeta{IPAddress: "10.0.0.2"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token must rotate")
	}
	if old := f.store.session(oldClaims.SessionID); old == nil || old.IsActive {
		t.Fatal("old session must be revoked")
	}
	if f.store.activeSessions(user.ID) != 1 {
		t.Fatalf("expected exactly one live session, got %d", f.store.activeSessions(user.ID))
	}

	// The rotated token works; the old one does not.
	if _, err := f.svc.Refresh(context.Background(), pair.RefreshToken, SessionMeta{}); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid for replayed token, got %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), next.RefreshToken, SessionMeta{}); err != nil {
		t.Fatalf("rotated token must refresh: %v", err)
	}
}

func TestRefreshHashMismatchRevokesSession(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")

	// A live session whose stored hash does not match the presented
	// token simulates token reuse inside one lineage.
	sessionID := ids.New()
	refresh, exp, err := f.svc.issuer.IssueRefresh(user.ID, sessionID)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	err = f.store.Sessions().Create(context.Background(), &Session{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: HashToken("some-other-token"),
		IsActive:  true,
		ExpiresAt: exp,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if _, err := f.svc.Refresh(context.Background(), refresh, SessionMeta{}); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
	if sess := f.store.session(sessionID); sess.IsActive {
		t.Fatal("mismatched session must be revoked")
	}
}

func TestRefreshRejectsExpiredSessionRow(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")

	sessionID := ids.New()
	refresh, _, err := f.svc.issuer.IssueRefresh(user.ID, sessionID)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	err = f.store.Sessions().Create(context.Background(), &Session{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: HashToken(refresh),
		IsActive:  true,
		ExpiresAt: f.now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if _, err := f.svc.Refresh(context.Background(), refresh, SessionMeta{}); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestRefreshErrors(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")
	pair := f.login(t, "ada@example.com")

	if _, err := f.svc.Refresh(context.Background(), "garbage", SessionMeta{}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	if err := f.store.Users().Deactivate(context.Background(), user.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), pair.RefreshToken, SessionMeta{}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ada@example.com")
	pair := f.login(t, "ada@example.com")

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), pair.RefreshToken, SessionMeta{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSessionInvalid):
				failures++
			default:
				t.Errorf("unexpected refresh error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning refresh, got %d", wins)
	}
	if failures != attempts-1 {
		t.Fatalf("expected %d losers, got %d", attempts-1, failures)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ada@example.com")
	pair := f.login(t, "ada@example.com")
	claims, err := f.svc.issuer.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}

	if err := f.svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if sess := f.store.session(claims.SessionID); sess.IsActive {
		t.Fatal("session must be revoked")
	}

	// Second logout and garbage tokens succeed silently.
	if err := f.svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("repeat Logout: %v", err)
	}
	if err := f.svc.Logout(context.Background(), "garbage"); err != nil {
		t.Fatalf("garbage Logout: %v", err)
	}
}

func TestLogoutAcceptsExpiredToken(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ada@example.com")
	pair := f.login(t, "ada@example.com")
	claims, err := f.svc.issuer.VerifyRefresh(pair.RefreshToken)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}

	*f.now = f.now.Add(8 * 24 * time.Hour)
	if err := f.svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout with expired token: %v", err)
	}
	if sess := f.store.session(claims.SessionID); sess.IsActive {
		t.Fatal("session must be revoked even for an expired token")
	}
}

func TestLogoutAll(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")
	f.login(t, "ada@example.com")
	f.login(t, "ada@example.com")
	if f.store.activeSessions(user.ID) != 2 {
		t.Fatalf("expected 2 sessions, got %d", f.store.activeSessions(user.ID))
	}

	if err := f.svc.LogoutAll(context.Background(), user.ID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if f.store.activeSessions(user.ID) != 0 {
		t.Fatal("expected all sessions revoked")
	}
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.ForgotPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if f.mailer.resetToken != "" {
		t.Fatal("no mail may be sent for unknown accounts")
	}
	if len(f.store.resets) != 0 {
		t.Fatal("no reset token may be created for unknown accounts")
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")
	f.login(t, "ada@example.com")

	if err := f.svc.ForgotPassword(context.Background(), "Ada@Example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	raw := f.mailer.resetToken
	if raw == "" {
		t.Fatal("expected mailed reset token")
	}

	if err := f.svc.ResetPassword(context.Background(), raw, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	const newPassword = "N3w$ecretPass"
	if err := f.svc.ResetPassword(context.Background(), raw, newPassword); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if f.store.activeSessions(user.ID) != 0 {
		t.Fatal("reset must revoke every session")
	}
	if _, _, err := f.svc.Login(context.Background(), "ada@example.com", goodPassword, SessionMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("old password must stop working")
	}
	if _, _, err := f.svc.Login(context.Background(), "ada@example.com", newPassword, SessionMeta{}); err != nil {
		t.Fatalf("new password must work: %v", err)
	}

	// Single use.
	if err := f.svc.ResetPassword(context.Background(), raw, "An0ther$Pass"); !errors.Is(err, ErrResetTokenUsed) {
		t.Fatalf("expected ErrResetTokenUsed, got %v", err)
	}
}

func TestResetPasswordExpiryWinsOverUsed(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "ada@example.com")
	if err := f.svc.ForgotPassword(context.Background(), "ada@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	raw := f.mailer.resetToken

	if err := f.svc.ResetPassword(context.Background(), raw, "N3w$ecretPass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	*f.now = f.now.Add(2 * time.Hour)
	if err := f.svc.ResetPassword(context.Background(), raw, "An0ther$Pass"); !errors.Is(err, ErrResetTokenExpired) {
		t.Fatalf("expected ErrResetTokenExpired, got %v", err)
	}
}

func TestResetPasswordUnknownToken(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.ResetPassword(context.Background(), "no-such-token", "N3w$ecretPass"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")
	f.login(t, "ada@example.com")

	if err := f.svc.ChangePassword(context.Background(), user.ID, "Wr0ng$pass", "N3w$ecretPass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.svc.ChangePassword(context.Background(), user.ID, goodPassword, "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if err := f.svc.ChangePassword(context.Background(), user.ID, goodPassword, "N3w$ecretPass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if f.store.activeSessions(user.ID) != 0 {
		t.Fatal("password change must revoke every session")
	}
	if _, _, err := f.svc.Login(context.Background(), "ada@example.com", "N3w$ecretPass", SessionMeta{}); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestAuthenticateAndAuthorize(t *testing.T) {
	f := newServiceFixture(t)
	org := &Organization{Name: "Acme Plant", Slug: "acme-plant"}
	if err := f.store.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	if _, err := f.svc.Register(context.Background(), RegisterInput{
		Email:          "tech@example.com",
		Password:       goodPassword,
		FirstName:      "Tess",
		OrganizationID: org.ID,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	pair := f.login(t, "tech@example.com")

	uc, err := f.svc.Authenticate(pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if uc.Email != "tech@example.com" || uc.Role != RoleTechnician || uc.OrgID != org.ID {
		t.Fatalf("unexpected identity: %+v", uc)
	}

	if _, err := f.svc.Authorize(pair.AccessToken, PermWorkOrderRead); err != nil {
		t.Fatalf("technician must read work orders: %v", err)
	}
	if _, err := f.svc.Authorize(pair.AccessToken, PermEquipmentDelete); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Authenticate(pair.AccessToken + "xx"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := f.svc.Authorize(pair.RefreshToken, PermWorkOrderRead); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("refresh token must not authenticate, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newServiceFixture(t)
	user := f.register(t, "ada@example.com")

	phone := "+1-555-0100"
	updated, err := f.svc.UpdateProfile(context.Background(), user.ID, ProfileUpdate{Phone: &phone})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Phone != phone {
		t.Fatalf("phone not updated: %q", updated.Phone)
	}
	if updated.FirstName != "Ada" {
		t.Fatalf("unset fields must not change: %q", updated.FirstName)
	}

	profile, err := f.svc.Profile(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Phone != phone {
		t.Fatal("update not persisted")
	}
}
