package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenlist/service-identity/internal/identity/entity"
)

// UserRepo provides data access for the users table. It is bound to an
// sqlx.ExtContext so the same code runs against *sqlx.DB or a transaction.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// Timestamps are stored in UTC and written by the application, not the
// database, so the schema ports across engines.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT UNIQUE,
  phone TEXT UNIQUE,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  phone_verified BOOLEAN NOT NULL DEFAULT false,
  password_hash TEXT,
  image TEXT,
  is_agent BOOLEAN NOT NULL DEFAULT false,
  last_login_at TIMESTAMP,
  failed_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMP,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL,
  deleted_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const userColumns = `id, name, email, phone, email_verified, phone_verified,
	password_hash, image, is_agent, last_login_at, failed_attempts,
	locked_until, created_at, updated_at, deleted_at`

// Create inserts a new user row. The caller assigns the ID and timestamps.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (` + userColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := r.db.ExecContext(ctx, q,
		u.ID, u.Name, u.Email, u.Phone, u.EmailVerified, u.PhoneVerified,
		u.PasswordHash, u.Image, u.IsAgent, u.LastLoginAt, u.FailedAttempts,
		u.LockedUntil, u.CreatedAt, u.UpdatedAt, u.DeletedAt)
	return err
}

// GetByID fetches a user row. Soft-deleted rows are invisible.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1 AND deleted_at IS NULL`
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, q, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user matched by email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email=$1 AND deleted_at IS NULL`
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, q, email); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByPhone returns a user matched by phone or sql.ErrNoRows.
func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*entity.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE phone=$1 AND deleted_at IS NULL`
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, q, phone); err != nil {
		return nil, err
	}
	return &u, nil
}

// ExistsByIdentifier reports whether any account, including soft-deleted
// ones, already claims the email or phone. Uniqueness outlives soft delete.
func (r *UserRepo) ExistsByIdentifier(ctx context.Context, identifier string) (bool, error) {
	const q = `SELECT COUNT(1) FROM users WHERE email=$1 OR phone=$1`
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, q, identifier); err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateLockout persists the failure counter and lockout expiry.
func (r *UserRepo) UpdateLockout(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time, now time.Time) error {
	const q = `UPDATE users SET failed_attempts=$2, locked_until=$3, updated_at=$4 WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, failedAttempts, lockedUntil, now)
	return err
}

// RecordLoginSuccess resets failure metrics and stamps the last login.
func (r *UserRepo) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE users SET failed_attempts=0, locked_until=NULL, last_login_at=$2, updated_at=$2 WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, now)
	return err
}

// UpdatePassword stores a new password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id string, hash string, now time.Time) error {
	const q = `UPDATE users SET password_hash=$2, updated_at=$3 WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, hash, now)
	return err
}

// SoftDelete marks a user deleted without removing the row.
func (r *UserRepo) SoftDelete(ctx context.Context, id string, now time.Time) error {
	const q = `UPDATE users SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, q, id, now)
	return err
}
