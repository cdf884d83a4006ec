package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var userRowColumns = []string{
	"id", "organization_id", "email", "password_hash", "first_name", "last_name",
	"phone", "profile_image_url", "role", "is_active", "is_verified", "last_login",
	"created_at", "updated_at",
}

func TestUserStoreFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("select .* from users where lower\\(email\\)=lower").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u1", "org1", "ada@example.com", "$2a$10$hash", "Ada", "Lovelace",
				nil, nil, "admin", true, false, nil, now, now))

	store := NewPGStore(db)
	user, err := store.Users().FindByEmail(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if user.ID != "u1" || user.Role != "admin" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.Phone != "" || user.LastLogin != nil {
		t.Fatalf("null columns must map to zero values: %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserStoreFindMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select .* from users where id=").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	store := NewPGStore(db)
	if _, err := store.Users().Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserStoreCreateDuplicateEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_idx"})

	store := NewPGStore(db)
	err = store.Users().Create(context.Background(), &User{
		OrganizationID: "org1",
		Email:          "ada@example.com",
		PasswordHash:   "hash",
		Role:           RoleAdmin,
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestSessionStoreRotate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update sessions set is_active=false where id=").
		WithArgs("old-sess").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	next := &Session{
		ID:           "new-sess",
		UserID:       "u1",
		TokenHash:    HashToken("next-refresh"),
		IsActive:     true,
		LastActivity: time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := store.Sessions().Rotate(context.Background(), "old-sess", next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionStoreRotateLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// The conditional update sees no active row: a concurrent rotation
	// already flipped it. Nothing is inserted.
	mock.ExpectBegin()
	mock.ExpectExec("update sessions set is_active=false where id=").
		WithArgs("old-sess").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewPGStore(db)
	err = store.Sessions().Rotate(context.Background(), "old-sess", &Session{ID: "new-sess"})
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResetTokenStoreConsumeOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update password_reset_tokens set is_used=true where id=").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update password_reset_tokens set is_used=true where id=").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	if err := store.ResetTokens().Consume(context.Background(), "t1"); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if err := store.ResetTokens().Consume(context.Background(), "t1"); !errors.Is(err, ErrResetTokenUsed) {
		t.Fatalf("expected ErrResetTokenUsed, got %v", err)
	}
}

func TestUserStoreUpdateProfileBuildsPartialSet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("update users set updated_at=now\\(\\), phone=").
		WithArgs("u1", "+1-555-0100").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u1", "org1", "ada@example.com", "hash", "Ada", "Lovelace",
				"+1-555-0100", nil, "admin", true, false, nil, now, now))

	store := NewPGStore(db)
	phone := "+1-555-0100"
	user, err := store.Users().UpdateProfile(context.Background(), "u1", ProfileUpdate{Phone: &phone})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Phone != phone {
		t.Fatalf("phone not updated: %q", user.Phone)
	}
}
