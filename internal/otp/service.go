// Package otp implements the OTP engine: short-lived numeric verification
// codes bound to an identifier and a purpose. The engine creates and reads
// records; it never finalizes them. Consumption (verified=false to true) is
// owned by the orchestrator that completes the flow.
package otp

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	"github.com/havenlist/service-identity/internal/otp/entity"
	"github.com/havenlist/service-identity/internal/otp/repo"
	"github.com/havenlist/service-identity/internal/platform/config"
	"github.com/havenlist/service-identity/pkg/utilities"
)

var (
	// ErrInvalidCode covers both "no matching record" and "wrong code":
	// one generic message avoids leaking which of the two happened.
	ErrInvalidCode = apperror.BadRequest("invalid verification code")
	ErrExpired     = apperror.BadRequest("verification code expired")
)

// Service is the OTP engine.
type Service struct {
	db     *sqlx.DB
	sender Sender
	logger *zap.SugaredLogger
	cfg    config.OTPConfig
	debug  bool
}

func NewService(db *sqlx.DB, sender Sender, logger *zap.SugaredLogger, cfg config.OTPConfig, debug bool) *Service {
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	return &Service{db: db, sender: sender, logger: logger, cfg: cfg, debug: debug}
}

// Issue generates a fresh code for the identifier, persists the record, and
// hands the code to the delivery collaborator. The returned verification id
// is the only thing the caller ever sees; the raw code travels through
// delivery alone.
func (s *Service) Issue(ctx context.Context, identifier string, purpose entity.Purpose) (string, error) {
	code, err := generateCode(s.cfg.Digits)
	if err != nil {
		return "", apperror.Internal(fmt.Errorf("generate code: %w", err))
	}

	now := time.Now().UTC()
	rec := &entity.Record{
		ID:             utilities.NewKSUID(),
		VerificationID: uuid.NewString(),
		Identifier:     identifier,
		Code:           code,
		Purpose:        purpose,
		ExpiresAt:      now.Add(s.cfg.TTL),
		Verified:       false,
		CreatedAt:      now,
	}
	if err := repo.NewOTPRepo(s.db).Create(ctx, rec); err != nil {
		return "", apperror.Internal(fmt.Errorf("store otp record: %w", err))
	}

	if s.debug {
		// Dev-only diagnostic side channel; gated out in production.
		s.logger.Debugw("issued otp", "identifier", identifier, "code", code, "purpose", purpose)
	}

	if err := s.sender.SendCode(ctx, identifier, code, purpose); err != nil {
		return "", apperror.Internal(fmt.Errorf("deliver otp: %w", err))
	}

	return rec.VerificationID, nil
}

// Verify checks a submitted code against the most recently issued unverified
// record for the identifier. On success it returns the record's verification
// id without marking anything: a verified-but-abandoned flow must not burn
// the code before the consuming step actually runs.
func (s *Service) Verify(ctx context.Context, identifier, code string) (string, error) {
	rec, err := repo.NewOTPRepo(s.db).LatestUnverified(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidCode
		}
		return "", apperror.Internal(fmt.Errorf("lookup otp record: %w", err))
	}
	if rec.Code != code {
		return "", ErrInvalidCode
	}
	if rec.Expired(time.Now().UTC()) {
		return "", ErrExpired
	}
	return rec.VerificationID, nil
}

// SweepExpired removes expired records. Scheduled maintenance, not part of
// any request path.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return repo.NewOTPRepo(s.db).DeleteExpired(ctx, time.Now().UTC())
}

// generateCode returns n digits from a cryptographically secure source,
// uniform over the full range and zero-padded.
func generateCode(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
