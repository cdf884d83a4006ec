package auth

import "time"

// Organization is the tenant boundary. Downstream resource handlers scope
// every query to the caller's organization id.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account inside an organization. Users are deactivated, never
// deleted.
type User struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Phone           string     `json:"phone,omitempty"`
	ProfileImageURL string     `json:"profile_image_url,omitempty"`
	Role            string     `json:"role"`
	IsActive        bool       `json:"is_active"`
	IsVerified      bool       `json:"is_verified"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Session tracks one outstanding refresh-token lineage. The raw refresh
// token is never stored, only its hash.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	DeviceInfo   string
	IPAddress    string
	UserAgent    string
	IsActive     bool
	LastActivity time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// PasswordResetToken is a single-use credential for the reset flow. Only
// the hash of the mailed token is persisted.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// SessionMeta carries per-request client details recorded on the session.
type SessionMeta struct {
	DeviceInfo string
	IPAddress  string
	UserAgent  string
}

// TokenPair is the result of login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// UserContext is the decoded identity handed to downstream handlers after
// a successful authorization check.
type UserContext struct {
	UserID      string
	Email       string
	OrgID       string
	Role        string
	Permissions []string
}

// RegisterInput is the payload for creating an account. Exactly one of
// OrganizationID (join) or OrganizationName (create) may be set; with
// neither, a personal organization is created.
type RegisterInput struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	Phone            string
	OrganizationID   string
	OrganizationName string
}

// ProfileUpdate applies partial changes to the caller's own profile.
type ProfileUpdate struct {
	FirstName       *string
	LastName        *string
	Phone           *string
	ProfileImageURL *string
}
