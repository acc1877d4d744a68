// Package identity implements the account orchestrators: registration over
// a verified OTP, credential login with brute-force lockout, and the
// password reset lifecycle.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/havenlist/service-identity/internal/apperror"
	"github.com/havenlist/service-identity/internal/identity/entity"
	"github.com/havenlist/service-identity/internal/identity/repo"
	otprepo "github.com/havenlist/service-identity/internal/otp/repo"
	"github.com/havenlist/service-identity/internal/platform/config"
	"github.com/havenlist/service-identity/internal/session"
	"github.com/havenlist/service-identity/pkg/database"
	"github.com/havenlist/service-identity/pkg/utilities"
)

var (
	ErrInvalidToken  = apperror.BadRequest("invalid or expired verification token")
	ErrTokenMismatch = apperror.BadRequest("verification token does not match identifier")
	// ErrAlreadyRegistered surfaces as 409 when the email or phone is taken.
	ErrAlreadyRegistered = apperror.Conflict("an account with this identifier already exists")
	// ErrInvalidCredentials is deliberately generic: a missing account, a
	// password-less OAuth account, and a wrong password all read the same,
	// so responses don't confirm account existence.
	ErrInvalidCredentials    = apperror.Unauthorized("invalid credentials")
	ErrInvalidOrExpiredToken = apperror.BadRequest("invalid or expired reset token")
)

func errAccountLocked(retryAt time.Time) *apperror.E {
	return apperror.Forbidden(fmt.Sprintf("account locked, try again after %s", retryAt.UTC().Format(time.RFC1123)))
}

// ResetSender delivers password-reset tokens. Satisfied by the OTP
// package's senders.
type ResetSender interface {
	SendResetLink(ctx context.Context, identifier string, token string) error
}

// Service composes the registration, login, and password-reset flows.
type Service struct {
	db       *sqlx.DB
	sessions *session.Manager
	sender   ResetSender
	logger   *zap.SugaredLogger
	guard    Guard
	cfg      config.PasswordConfig
}

func NewService(db *sqlx.DB, sessions *session.Manager, sender ResetSender, logger *zap.SugaredLogger, guard Guard, cfg config.PasswordConfig) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	return &Service{db: db, sessions: sessions, sender: sender, logger: logger, guard: guard, cfg: cfg}
}

// RegisterInput is the registration request after JSON decoding.
type RegisterInput struct {
	Name              string
	Password          string
	ConfirmPassword   string
	Method            Method
	Identifier        string
	VerificationToken string
}

// Register creates an account from a verified OTP. All storage mutations
// (identity insert, OTP consumption, history entry) commit or roll back
// together; the session is issued only after commit.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta entity.ClientMeta) (*entity.User, string, error) {
	if err := validateName(in.Name); err != nil {
		return nil, "", err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, "", err
	}
	if in.Password != in.ConfirmPassword {
		return nil, "", apperror.BadRequest("passwords do not match")
	}
	identifier, err := NormalizeIdentifier(in.Method, in.Identifier)
	if err != nil {
		return nil, "", err
	}

	// Hashing is deliberately expensive; do it before the transaction opens
	// so no locks are held while it runs.
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("hash password: %w", err))
	}

	user := &entity.User{}
	txErr := database.WithTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		otps := otprepo.NewOTPRepo(tx)
		rec, err := otps.GetByVerificationID(ctx, in.VerificationToken)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInvalidToken
			}
			return fmt.Errorf("lookup otp record: %w", err)
		}
		now := time.Now().UTC()
		if rec.Verified || rec.Expired(now) {
			return ErrInvalidToken
		}
		// A verification id issued for one identifier must not register a
		// different one.
		if rec.Identifier != identifier {
			return ErrTokenMismatch
		}

		users := repo.NewUserRepo(tx)
		taken, err := users.ExistsByIdentifier(ctx, identifier)
		if err != nil {
			return fmt.Errorf("uniqueness check: %w", err)
		}
		if taken {
			return ErrAlreadyRegistered
		}

		hashStr := string(hash)
		*user = entity.User{
			ID:           utilities.NewKSUID(),
			Name:         in.Name,
			PasswordHash: &hashStr,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		switch in.Method {
		case MethodEmail:
			user.Email = &identifier
			user.EmailVerified = true
		case MethodPhone:
			user.Phone = &identifier
			user.PhoneVerified = true
		}
		if err := users.Create(ctx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		// Deferred OTP consumption: the engine never finalizes records;
		// registration owns the terminal transition.
		if err := otps.MarkVerified(ctx, rec.ID); err != nil {
			return fmt.Errorf("consume otp: %w", err)
		}

		return s.appendHistory(ctx, tx, user.ID, meta)
	})
	if txErr != nil {
		var e *apperror.E
		if errors.As(txErr, &e) {
			return nil, "", e
		}
		return nil, "", apperror.Internal(txErr)
	}

	token, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// LoginInput is the login request after JSON decoding.
type LoginInput struct {
	Method     Method
	Identifier string
	Password   string
}

// Login authenticates a credential pair. Failure accounting is persisted
// before the error returns, so repeated bad attempts are durably tracked.
func (s *Service) Login(ctx context.Context, in LoginInput, meta entity.ClientMeta) (*entity.User, string, error) {
	identifier, err := NormalizeIdentifier(in.Method, in.Identifier)
	if err != nil {
		return nil, "", err
	}
	if in.Password == "" {
		return nil, "", apperror.BadRequest("password is required")
	}

	users := repo.NewUserRepo(s.db)
	var user *entity.User
	switch in.Method {
	case MethodEmail:
		user, err = users.GetByEmail(ctx, identifier)
	case MethodPhone:
		user, err = users.GetByPhone(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", apperror.Internal(fmt.Errorf("lookup user: %w", err))
	}
	if user.PasswordHash == nil {
		// OAuth-only account; same generic answer as a wrong password.
		return nil, "", ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if locked, retryAt := s.guard.Locked(user, now); locked {
		return nil, "", errAccountLocked(retryAt)
	}

	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(in.Password)) != nil {
		crossed := s.guard.RecordFailure(user, now)
		if err := users.UpdateLockout(ctx, user.ID, user.FailedAttempts, user.LockedUntil, now); err != nil {
			return nil, "", apperror.Internal(fmt.Errorf("persist lockout: %w", err))
		}
		if crossed {
			return nil, "", errAccountLocked(*user.LockedUntil)
		}
		return nil, "", ErrInvalidCredentials
	}

	s.guard.RecordSuccess(user)
	user.LastLoginAt = &now
	if err := users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, "", apperror.Internal(fmt.Errorf("persist login: %w", err))
	}

	token, err := s.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, "", err
	}

	if err := s.appendHistory(ctx, s.db, user.ID, meta); err != nil {
		// Audit trail must not break a completed login.
		s.logger.Warnw("login history append failed", "err", err)
	}
	return user, token, nil
}

// RequestPasswordReset issues a single-use reset token and hands it to the
// delivery collaborator. The response is success whether or not the
// identifier matches an account, so the endpoint cannot be used for
// enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, method Method, identifier string) error {
	identifier, err := NormalizeIdentifier(method, identifier)
	if err != nil {
		return err
	}

	users := repo.NewUserRepo(s.db)
	var user *entity.User
	switch method {
	case MethodEmail:
		user, err = users.GetByEmail(ctx, identifier)
	case MethodPhone:
		user, err = users.GetByPhone(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return apperror.Internal(fmt.Errorf("lookup user: %w", err))
	}

	now := time.Now().UTC()
	t := &entity.ResetToken{
		ID:        utilities.NewKSUID(),
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.cfg.ResetTokenTTL),
		CreatedAt: now,
	}
	if err := repo.NewResetTokenRepo(s.db).Create(ctx, t); err != nil {
		return apperror.Internal(fmt.Errorf("store reset token: %w", err))
	}

	if err := s.sender.SendResetLink(ctx, identifier, t.Token); err != nil {
		// Still a 200 to the caller: a delivery hiccup must not reveal
		// that the identifier matched an account.
		s.logger.Warnw("reset token delivery failed", "err", err)
	}
	return nil
}

// ResetPassword redeems a reset token. The password update and the token's
// used flag change in one transaction; a reset does not log the user in.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cfg.BcryptCost)
	if err != nil {
		return apperror.Internal(fmt.Errorf("hash password: %w", err))
	}

	txErr := database.WithTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		tokens := repo.NewResetTokenRepo(tx)
		t, err := tokens.GetByToken(ctx, token)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrInvalidOrExpiredToken
			}
			return fmt.Errorf("lookup reset token: %w", err)
		}
		now := time.Now().UTC()
		if t.Used || !t.ExpiresAt.After(now) {
			return ErrInvalidOrExpiredToken
		}

		if err := repo.NewUserRepo(tx).UpdatePassword(ctx, t.UserID, string(hash), now); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if err := tokens.MarkUsed(ctx, t.ID); err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		return nil
	})
	if txErr != nil {
		var e *apperror.E
		if errors.As(txErr, &e) {
			return e
		}
		return apperror.Internal(txErr)
	}
	return nil
}

// History returns a user's most recent authentication events, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*entity.LoginHistoryEntry, error) {
	entries, err := repo.NewLoginHistoryRepo(s.db).ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("list login history: %w", err))
	}
	return entries, nil
}

// DeleteAccount soft-deletes the user and revokes every session. The row
// stays behind so the identifier remains reserved.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	if err := repo.NewUserRepo(s.db).SoftDelete(ctx, userID, now); err != nil {
		return apperror.Internal(fmt.Errorf("soft delete user: %w", err))
	}
	return s.sessions.RevokeAllForUser(ctx, userID)
}

// SweepExpiredResetTokens removes expired reset tokens. Scheduled
// maintenance, not part of any request path.
func (s *Service) SweepExpiredResetTokens(ctx context.Context) (int64, error) {
	return repo.NewResetTokenRepo(s.db).DeleteExpired(ctx, time.Now().UTC())
}

func (s *Service) appendHistory(ctx context.Context, db sqlx.ExtContext, userID string, meta entity.ClientMeta) error {
	return repo.NewLoginHistoryRepo(db).Append(ctx, &entity.LoginHistoryEntry{
		ID:        utilities.NewSnowflakeID(),
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Country:   meta.Country,
		CreatedAt: time.Now().UTC(),
	})
}
