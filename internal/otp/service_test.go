package otp

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/otp/entity"
	"github.com/havenlist/service-identity/internal/otp/repo"
	"github.com/havenlist/service-identity/internal/platform/config"

	_ "modernc.org/sqlite"
)

// captureSender records the codes handed to delivery.
type captureSender struct {
	identifier string
	code       string
	purpose    entity.Purpose
	resetLinks []string
	fail       error
}

func (s *captureSender) SendCode(ctx context.Context, identifier, code string, purpose entity.Purpose) error {
	if s.fail != nil {
		return s.fail
	}
	s.identifier, s.code, s.purpose = identifier, code, purpose
	return nil
}

func (s *captureSender) SendResetLink(ctx context.Context, identifier, token string) error {
	if s.fail != nil {
		return s.fail
	}
	s.resetLinks = append(s.resetLinks, token)
	return nil
}

func setupService(t *testing.T) (*Service, *captureSender, *sqlx.DB) {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repo.NewOTPRepo(db).EnsureTable(context.Background()))

	sender := &captureSender{}
	svc := NewService(db, sender, zap.NewNop().Sugar(), config.OTPConfig{TTL: 10 * time.Minute, Digits: 6}, false)
	return svc, sender, db
}

func TestIssueAndVerify(t *testing.T) {
	svc, sender, _ := setupService(t)
	ctx := context.Background()

	verificationID, err := svc.Issue(ctx, "user@example.com", entity.PurposeRegister)
	require.NoError(t, err)
	require.NotEmpty(t, verificationID)
	require.Len(t, sender.code, 6)
	assert.Equal(t, "user@example.com", sender.identifier)
	assert.Equal(t, entity.PurposeRegister, sender.purpose)

	token, err := svc.Verify(ctx, "user@example.com", sender.code)
	require.NoError(t, err)
	assert.Equal(t, verificationID, token)
}

func TestVerify_WrongCode(t *testing.T) {
	svc, sender, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", entity.PurposeRegister)
	require.NoError(t, err)

	wrong := "000000"
	if sender.code == wrong {
		wrong = "000001"
	}
	_, err = svc.Verify(ctx, "user@example.com", wrong)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerify_NoRecord(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.Verify(context.Background(), "nobody@example.com", "123456")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerify_Expired(t *testing.T) {
	svc, sender, db := setupService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", entity.PurposeRegister)
	require.NoError(t, err)

	// Age the record past its window.
	_, err = db.ExecContext(ctx, `UPDATE otp_records SET expires_at=$1 WHERE identifier=$2`,
		time.Now().UTC().Add(-time.Minute), "user@example.com")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, "user@example.com", sender.code)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerify_NewerCodeShadowsOlder(t *testing.T) {
	svc, sender, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "user@example.com", entity.PurposeRegister)
	require.NoError(t, err)
	firstCode := sender.code

	secondID, err := svc.Issue(ctx, "user@example.com", entity.PurposeRegister)
	require.NoError(t, err)

	// Only the most recent outstanding code matches.
	if firstCode != sender.code {
		_, err = svc.Verify(ctx, "user@example.com", firstCode)
		assert.ErrorIs(t, err, ErrInvalidCode)
	}
	token, err := svc.Verify(ctx, "user@example.com", sender.code)
	require.NoError(t, err)
	assert.Equal(t, secondID, token)
}

func TestVerify_DoesNotConsume(t *testing.T) {
	svc, sender, db := setupService(t)
	ctx := context.Background()

	verificationID, err := svc.Issue(ctx, "user@example.com", entity.PurposeRegister)
	require.NoError(t, err)

	// Verification reads without finalizing; the record stays open until a
	// downstream flow consumes it.
	for i := 0; i < 2; i++ {
		token, err := svc.Verify(ctx, "user@example.com", sender.code)
		require.NoError(t, err)
		assert.Equal(t, verificationID, token)
	}

	var verified bool
	require.NoError(t, db.QueryRow(`SELECT verified FROM otp_records WHERE verification_id=$1`, verificationID).Scan(&verified))
	assert.False(t, verified)
}

func TestIssue_DeliveryFailure(t *testing.T) {
	svc, sender, _ := setupService(t)
	sender.fail = assert.AnError

	_, err := svc.Issue(context.Background(), "user@example.com", entity.PurposeRegister)
	assert.Error(t, err)
}

func TestSweepExpired(t *testing.T) {
	svc, _, db := setupService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "fresh@example.com", entity.PurposeRegister)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "stale@example.com", entity.PurposeRegister)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE otp_records SET expires_at=$1 WHERE identifier=$2`,
		time.Now().UTC().Add(-time.Hour), "stale@example.com")
	require.NoError(t, err)

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var remaining int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM otp_records`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
