package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenlist/service-identity/internal/identity/entity"
)

// ResetTokenRepo provides data access for password-reset tokens.
type ResetTokenRepo struct {
	db sqlx.ExtContext
}

func NewResetTokenRepo(db sqlx.ExtContext) *ResetTokenRepo {
	return &ResetTokenRepo{db: db}
}

// EnsureTable creates the password_reset_tokens table if not exists
// (idempotent).
func (r *ResetTokenRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS password_reset_tokens (
  id TEXT PRIMARY KEY,
  token TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL,
  expires_at TIMESTAMP NOT NULL,
  used BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMP NOT NULL
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *ResetTokenRepo) Create(ctx context.Context, t *entity.ResetToken) error {
	const q = `INSERT INTO password_reset_tokens (id, token, user_id, expires_at, used, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.ExecContext(ctx, q, t.ID, t.Token, t.UserID, t.ExpiresAt, t.Used, t.CreatedAt)
	return err
}

// GetByToken fetches a token row regardless of its state; callers classify
// used/expired explicitly.
func (r *ResetTokenRepo) GetByToken(ctx context.Context, token string) (*entity.ResetToken, error) {
	const q = `SELECT id, token, user_id, expires_at, used, created_at
		FROM password_reset_tokens WHERE token=$1`
	var t entity.ResetToken
	if err := sqlx.GetContext(ctx, r.db, &t, q, token); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ResetTokenRepo) MarkUsed(ctx context.Context, id string) error {
	const q = `UPDATE password_reset_tokens SET used=true WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// DeleteExpired removes tokens past their expiry.
func (r *ResetTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM password_reset_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
