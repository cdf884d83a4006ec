package auth

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"gearguard.io/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Organizations() OrganizationStore { return &orgStore{db: s.db} }
func (s *PGStore) Users() UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) Sessions() SessionStore           { return &sessionStore{db: s.db} }
func (s *PGStore) ResetTokens() ResetTokenStore     { return &resetTokenStore{db: s.db} }

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Organization store -------------------------------------------------------

type orgStore struct{ db *sql.DB }

func (s *orgStore) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into organizations(id, name, slug) values($1,$2,$3)`,
		org.ID, org.Name, org.Slug,
	)
	return err
}

func (s *orgStore) Find(ctx context.Context, id string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, slug, created_at, updated_at from organizations where id=$1`, id)
	var org Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, organization_id, email, password_hash, first_name, last_name,
	phone, profile_image_url, role, is_active, is_verified, last_login, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (*User, error) {
	var (
		u         User
		phone     sql.NullString
		imageURL  sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash,
		&u.FirstName, &u.LastName, &phone, &imageURL, &u.Role,
		&u.IsActive, &u.IsVerified, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Phone = phone.String
	u.ProfileImageURL = imageURL.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, organization_id, email, password_hash, first_name, last_name,
			phone, profile_image_url, role, is_active, is_verified)
		 values($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''),$9,$10,$11)`,
		u.ID, u.OrganizationID, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.Phone, u.ProfileImageURL, u.Role, u.IsActive, u.IsVerified,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`, email)
	return scanUser(row)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login=$2 where id=$1`, userID, at.UTC())
	return err
}

func (s *userStore) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	sets := []string{"updated_at=now()"}
	args := []any{userID}
	add := func(col string, val *string) {
		if val == nil {
			return
		}
		args = append(args, *val)
		sets = append(sets, col+"=$"+strconv.Itoa(len(args)))
	}
	add("first_name", upd.FirstName)
	add("last_name", upd.LastName)
	add("phone", upd.Phone)
	add("profile_image_url", upd.ProfileImageURL)

	row := s.db.QueryRowContext(ctx,
		`update users set `+strings.Join(sets, ", ")+` where id=$1 returning `+userColumns,
		args...)
	return scanUser(row)
}

func (s *userStore) Deactivate(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set is_active=false, updated_at=now() where id=$1`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, user_id, refresh_token_hash, device_info, ip_address,
	user_agent, is_active, last_activity, expires_at, created_at`

func scanSession(row interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		sess   Session
		device sql.NullString
		ip     sql.NullString
		ua     sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &device, &ip, &ua,
		&sess.IsActive, &sess.LastActivity, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sess.DeviceInfo = device.String
	sess.IPAddress = ip.String
	sess.UserAgent = ua.String
	return &sess, nil
}

const insertSessionSQL = `insert into sessions(id, user_id, refresh_token_hash, device_info,
	ip_address, user_agent, is_active, last_activity, expires_at)
	values($1,$2,$3,nullif($4,''),nullif($5,''),nullif($6,''),$7,$8,$9)`

func (s *sessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, insertSessionSQL,
		sess.ID, sess.UserID, sess.TokenHash, sess.DeviceInfo, sess.IPAddress,
		sess.UserAgent, sess.IsActive, sess.LastActivity.UTC(), sess.ExpiresAt.UTC())
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	return scanSession(row)
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_activity=$2 where id=$1`, id, at.UTC())
	return err
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set is_active=false where id=$1`, id)
	return err
}

func (s *sessionStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set is_active=false where user_id=$1`, userID)
	return err
}

func (s *sessionStore) Rotate(ctx context.Context, oldID string, next *Session) error {
	if next.ID == "" {
		next.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Conditional update keyed on the active flag: of N concurrent
	// rotations of one session, exactly one sees a row flip here.
	res, err := tx.ExecContext(ctx,
		`update sessions set is_active=false where id=$1 and is_active=true`, oldID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionInvalid
	}

	if _, err := tx.ExecContext(ctx, insertSessionSQL,
		next.ID, next.UserID, next.TokenHash, next.DeviceInfo, next.IPAddress,
		next.UserAgent, next.IsActive, next.LastActivity.UTC(), next.ExpiresAt.UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset token store --------------------------------------------------------

type resetTokenStore struct{ db *sql.DB }

func (s *resetTokenStore) Create(ctx context.Context, t *PasswordResetToken) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into password_reset_tokens(id, user_id, token_hash, expires_at, is_used)
		 values($1,$2,$3,$4,$5)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), t.Used)
	return err
}

func (s *resetTokenStore) FindByHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, is_used, created_at
		 from password_reset_tokens where token_hash=$1`, tokenHash)
	var t PasswordResetToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Used, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *resetTokenStore) Consume(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update password_reset_tokens set is_used=true where id=$1 and is_used=false`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrResetTokenUsed
	}
	return nil
}

// helpers ------------------------------------------------------------------

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
