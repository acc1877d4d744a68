package entity

import "time"

// Purpose is the flow an OTP was issued for.
type Purpose string

const (
	PurposeRegister       Purpose = "REGISTER"
	PurposeLogin          Purpose = "LOGIN"
	PurposeForgotPassword Purpose = "FORGOT_PASSWORD"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeRegister, PurposeLogin, PurposeForgotPassword:
		return true
	}
	return false
}

// Record represents one verification attempt window. The code is usable at
// most once: Verified flips false to true exactly when the flow that
// consumes it completes, and never reverts.
type Record struct {
	ID             string    `db:"id"`
	VerificationID string    `db:"verification_id"`
	Identifier     string    `db:"identifier"`
	Code           string    `db:"code"`
	Purpose        Purpose   `db:"purpose"`
	ExpiresAt      time.Time `db:"expires_at"`
	Verified       bool      `db:"verified"`
	CreatedAt      time.Time `db:"created_at"`
}

// Expired reports whether the record's window has passed.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
