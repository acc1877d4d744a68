package entity

import "time"

// User represents an account row in the `users` table. At least one of
// Email/Phone is non-null once registration completes. PasswordHash is null
// for accounts created through an OAuth callback. Rows are never hard
// deleted; DeletedAt marks soft deletion.
type User struct {
	ID             string     `db:"id"`
	Name           string     `db:"name"`
	Email          *string    `db:"email"`
	Phone          *string    `db:"phone"`
	EmailVerified  bool       `db:"email_verified"`
	PhoneVerified  bool       `db:"phone_verified"`
	PasswordHash   *string    `db:"password_hash"`
	Image          *string    `db:"image"`
	IsAgent        bool       `db:"is_agent"`
	LastLoginAt    *time.Time `db:"last_login_at"`
	FailedAttempts int        `db:"failed_attempts"`
	LockedUntil    *time.Time `db:"locked_until"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at"`
}

// SafeUser is the projection exposed to clients. Never carries the password
// hash, lockout counters, or raw verification codes.
type SafeUser struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Image   *string `json:"image"`
	IsAgent bool    `json:"isAgent"`
}

// Sanitize returns the client-safe view of the user.
func (u *User) Sanitize() SafeUser {
	return SafeUser{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Phone:   u.Phone,
		Image:   u.Image,
		IsAgent: u.IsAgent,
	}
}

// LinkedAccount binds a third-party identity (provider + provider-assigned
// account id) to exactly one user. Insert-only.
type LinkedAccount struct {
	ID                string    `db:"id"`
	UserID            string    `db:"user_id"`
	Provider          string    `db:"provider"`
	ProviderAccountID string    `db:"provider_account_id"`
	CreatedAt         time.Time `db:"created_at"`
}

// LoginHistoryEntry is an append-only audit record of one successful
// authentication (login, registration, or OAuth callback).
type LoginHistoryEntry struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"-"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"userAgent"`
	Country   string    `db:"country" json:"country"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ClientMeta carries per-request client attributes recorded on sessions and
// login history for audit.
type ClientMeta struct {
	IP        string
	UserAgent string
	DeviceID  string
	Country   string
}

// ResetToken is a single-use capability to set a new password. Valid only
// while unused and unexpired; consumed atomically with the password update.
type ResetToken struct {
	ID        string    `db:"id"`
	Token     string    `db:"token"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}
