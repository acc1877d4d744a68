package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/havenlist/service-identity/internal/identity/entity"
)

// LoginHistoryRepo appends audit records of successful authentications.
// Append-only: no update or delete path exists.
type LoginHistoryRepo struct {
	db sqlx.ExtContext
}

func NewLoginHistoryRepo(db sqlx.ExtContext) *LoginHistoryRepo {
	return &LoginHistoryRepo{db: db}
}

// EnsureTable creates the login_history table if not exists (idempotent).
func (r *LoginHistoryRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS login_history (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  ip TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  country TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_login_history_user ON login_history(user_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *LoginHistoryRepo) Append(ctx context.Context, e *entity.LoginHistoryEntry) error {
	const q = `INSERT INTO login_history (id, user_id, ip, user_agent, country, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.UserID, e.IP, e.UserAgent, e.Country, e.CreatedAt)
	return err
}

// ListByUser returns the most recent entries for a user, newest first.
func (r *LoginHistoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.LoginHistoryEntry, error) {
	const q = `SELECT id, user_id, ip, user_agent, country, created_at
		FROM login_history WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	var out []*entity.LoginHistoryEntry
	if err := sqlx.SelectContext(ctx, r.db, &out, q, userID, limit); err != nil {
		return nil, err
	}
	return out, nil
}
