package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenlist/service-identity/internal/session/entity"
)

// SessionRepo provides data access for the sessions table.
type SessionRepo struct {
	db sqlx.ExtContext
}

func NewSessionRepo(db sqlx.ExtContext) *SessionRepo { return &SessionRepo{db: db} }

// EnsureTable creates the sessions table if not exists (idempotent).
func (r *SessionRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  token TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL,
  expires_at TIMESTAMP NOT NULL,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL,
  ip TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  device_id TEXT NOT NULL DEFAULT '',
  country TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const sessionColumns = `id, token, user_id, expires_at, created_at, updated_at, ip, user_agent, device_id, country`

func (r *SessionRepo) Create(ctx context.Context, s *entity.Session) error {
	const q = `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.Token, s.UserID, s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
		s.IP, s.UserAgent, s.DeviceID, s.Country)
	return err
}

// GetByToken fetches a session row regardless of expiry; callers apply the
// strictly-greater-than-now check so expired rows classify as absent.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*entity.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE token=$1`
	var s entity.Session
	if err := sqlx.GetContext(ctx, r.db, &s, q, token); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteByToken removes the session matching the token. Deleting a missing
// token is a no-op, which makes logout idempotent.
func (r *SessionRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token=$1`, token)
	return err
}

// DeleteAllForUser revokes every session belonging to a user.
func (r *SessionRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=$1`, userID)
	return err
}

// DeleteExpired bulk-removes sessions past their expiry.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
