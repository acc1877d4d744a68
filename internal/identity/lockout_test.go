package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenlist/service-identity/internal/identity/entity"
	"github.com/havenlist/service-identity/internal/platform/config"
)

func testGuard() Guard {
	return NewGuard(config.LockoutConfig{Threshold: 3, Cooldown: 10 * time.Minute})
}

func TestGuard_LockAfterThreshold(t *testing.T) {
	g := testGuard()
	u := &entity.User{}
	now := time.Now().UTC()

	assert.False(t, g.RecordFailure(u, now))
	assert.False(t, g.RecordFailure(u, now))
	locked, _ := g.Locked(u, now)
	assert.False(t, locked, "two failures must not lock")

	assert.True(t, g.RecordFailure(u, now), "third failure crosses the threshold")
	locked, retryAt := g.Locked(u, now)
	assert.True(t, locked)
	assert.Equal(t, now.Add(10*time.Minute), retryAt)
}

func TestGuard_CooldownElapsesButCounterPersists(t *testing.T) {
	g := testGuard()
	u := &entity.User{}
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		g.RecordFailure(u, now)
	}
	locked, _ := g.Locked(u, now.Add(10*time.Minute))
	assert.False(t, locked, "lock lifts once the cooldown passes")

	// The counter is still at the threshold; the next failure locks again
	// immediately rather than restarting the count.
	later := now.Add(11 * time.Minute)
	assert.True(t, g.RecordFailure(u, later))
	locked, _ = g.Locked(u, later)
	assert.True(t, locked)
}

func TestGuard_SuccessResetsCounter(t *testing.T) {
	g := testGuard()
	u := &entity.User{}
	now := time.Now().UTC()

	g.RecordFailure(u, now)
	g.RecordFailure(u, now)
	g.RecordSuccess(u)

	assert.Equal(t, 0, u.FailedAttempts)
	require.Nil(t, u.LockedUntil)

	// A fresh run of failures starts from zero again.
	assert.False(t, g.RecordFailure(u, now))
	assert.False(t, g.RecordFailure(u, now))
	assert.True(t, g.RecordFailure(u, now))
}

func TestGuard_LockedUntilBoundaryIsExclusive(t *testing.T) {
	g := testGuard()
	u := &entity.User{}
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		g.RecordFailure(u, now)
	}
	require.NotNil(t, u.LockedUntil)

	locked, _ := g.Locked(u, u.LockedUntil.Add(-time.Second))
	assert.True(t, locked)
	locked, _ = g.Locked(u, *u.LockedUntil)
	assert.False(t, locked, "exactly at the expiry the account is open")
}
