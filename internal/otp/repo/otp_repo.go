package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/havenlist/service-identity/internal/otp/entity"
)

// OTPRepo provides data access for OTP records. It only creates and reads;
// marking a record verified belongs to the orchestrator that consumes it,
// which calls MarkVerified from inside its own transaction scope.
type OTPRepo struct {
	db sqlx.ExtContext
}

func NewOTPRepo(db sqlx.ExtContext) *OTPRepo { return &OTPRepo{db: db} }

// EnsureTable creates the otp_records table if not exists (idempotent).
func (r *OTPRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS otp_records (
  id TEXT PRIMARY KEY,
  verification_id TEXT NOT NULL UNIQUE,
  identifier TEXT NOT NULL,
  code TEXT NOT NULL,
  purpose TEXT NOT NULL,
  expires_at TIMESTAMP NOT NULL,
  verified BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_otp_records_identifier ON otp_records(identifier);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const otpColumns = `id, verification_id, identifier, code, purpose, expires_at, verified, created_at`

func (r *OTPRepo) Create(ctx context.Context, rec *entity.Record) error {
	const q = `INSERT INTO otp_records (` + otpColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.VerificationID, rec.Identifier, rec.Code, rec.Purpose,
		rec.ExpiresAt, rec.Verified, rec.CreatedAt)
	return err
}

// LatestUnverified returns the most recently created unverified record for
// an identifier, expired or not; callers classify expiry explicitly.
//
// Known race: concurrent issuances for the same identifier shadow each
// other, leaving only the newest record matchable. Accepted limitation.
func (r *OTPRepo) LatestUnverified(ctx context.Context, identifier string) (*entity.Record, error) {
	const q = `SELECT ` + otpColumns + ` FROM otp_records
		WHERE identifier=$1 AND verified=false
		ORDER BY created_at DESC, id DESC LIMIT 1`
	var rec entity.Record
	if err := sqlx.GetContext(ctx, r.db, &rec, q, identifier); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByVerificationID fetches a record by its opaque verification id.
func (r *OTPRepo) GetByVerificationID(ctx context.Context, verificationID string) (*entity.Record, error) {
	const q = `SELECT ` + otpColumns + ` FROM otp_records WHERE verification_id=$1`
	var rec entity.Record
	if err := sqlx.GetContext(ctx, r.db, &rec, q, verificationID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkVerified flips the record into its terminal consumed state.
func (r *OTPRepo) MarkVerified(ctx context.Context, id string) error {
	const q = `UPDATE otp_records SET verified=true WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// DeleteExpired removes records past their expiry.
func (r *OTPRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM otp_records WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
