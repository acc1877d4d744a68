package entity

import "time"

// Session represents one active authenticated browser session. Exactly one
// row exists per issued bearer token; expired rows are inert and treated as
// absent until the sweep purges them.
type Session struct {
	ID        string    `db:"id"`
	Token     string    `db:"token"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
	IP        string    `db:"ip"`
	UserAgent string    `db:"user_agent"`
	DeviceID  string    `db:"device_id"`
	Country   string    `db:"country"`
}

// Active reports whether the session's expiry is strictly in the future.
func (s *Session) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}
