package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"gearguard.io/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with in-process concurrency safety. It
// backs development runs without a database and the service tests.
// Rotate keeps the same winner-takes-all semantics as the PostgreSQL
// store.
type MemoryStore struct {
	mu       sync.Mutex
	orgs     map[string]*Organization
	users    map[string]*User
	sessions map[string]*Session
	resets   map[string]*PasswordResetToken
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:     make(map[string]*Organization),
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		resets:   make(map[string]*PasswordResetToken),
	}
}

func (m *MemoryStore) Organizations() OrganizationStore { return (*memOrgs)(m) }
func (m *MemoryStore) Users() UserStore                 { return (*memUsers)(m) }
func (m *MemoryStore) Sessions() SessionStore           { return (*memSessions)(m) }
func (m *MemoryStore) ResetTokens() ResetTokenStore     { return (*memResets)(m) }

func (m *MemoryStore) activeSessions(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			n++
		}
	}
	return n
}

func (m *MemoryStore) session(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		copied := *s
		return &copied
	}
	return nil
}

type memOrgs MemoryStore

func (m *memOrgs) Create(_ context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	copied := *org
	m.orgs[org.ID] = &copied
	return nil
}

func (m *memOrgs) Find(_ context.Context, id string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *org
	return &copied, nil
}

type memUsers MemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicateEmail
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	copied := *u
	m.users[u.ID] = &copied
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLogin = &t
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, userID string, upd ProfileUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	if upd.ProfileImageURL != nil {
		u.ProfileImageURL = *upd.ProfileImageURL
	}
	u.UpdatedAt = time.Now().UTC()
	copied := *u
	return &copied, nil
}

func (m *memUsers) Deactivate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = false
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type memSessions MemoryStore

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = ids.New()
	}
	s.CreatedAt = time.Now().UTC()
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

func (m *memSessions) Find(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memSessions) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (m *memSessions) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memSessions) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID {
			s.IsActive = false
		}
	}
	return nil
}

func (m *memSessions) Rotate(_ context.Context, oldID string, next *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.sessions[oldID]
	if !ok || !old.IsActive {
		return ErrSessionInvalid
	}
	old.IsActive = false
	if next.ID == "" {
		next.ID = ids.New()
	}
	next.CreatedAt = time.Now().UTC()
	copied := *next
	m.sessions[next.ID] = &copied
	return nil
}

type memResets MemoryStore

func (m *memResets) Create(_ context.Context, t *PasswordResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	t.CreatedAt = time.Now().UTC()
	copied := *t
	m.resets[t.ID] = &copied
	return nil
}

func (m *memResets) FindByHash(_ context.Context, tokenHash string) (*PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.resets {
		if t.TokenHash == tokenHash {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memResets) Consume(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resets[id]
	if !ok {
		return ErrNotFound
	}
	if t.Used {
		return ErrResetTokenUsed
	}
	t.Used = true
	return nil
}
