package identity

import (
	"time"

	"github.com/havenlist/service-identity/internal/identity/entity"
	"github.com/havenlist/service-identity/internal/platform/config"
)

// Guard holds the brute-force lockout policy. Pure state transitions over
// the user's failure counter and lockout expiry; persistence is the
// caller's job.
type Guard struct {
	Threshold int
	Cooldown  time.Duration
}

func NewGuard(cfg config.LockoutConfig) Guard {
	g := Guard{Threshold: cfg.Threshold, Cooldown: cfg.Cooldown}
	if g.Threshold == 0 {
		g.Threshold = 3
	}
	if g.Cooldown == 0 {
		g.Cooldown = 10 * time.Minute
	}
	return g
}

// Locked reports whether the account is currently locked and, when it is,
// the time the lock expires. The check is "expiry in the future", not a
// stored state: an elapsed lock permits retrying, but the counter keeps its
// value until the next successful login.
func (g Guard) Locked(u *entity.User, now time.Time) (bool, time.Time) {
	if u.LockedUntil != nil && u.LockedUntil.After(now) {
		return true, *u.LockedUntil
	}
	return false, time.Time{}
}

// RecordFailure applies the failed-check transition: increment the counter
// and, at the threshold, start the cooldown. Returns true when this failure
// crossed the threshold.
func (g Guard) RecordFailure(u *entity.User, now time.Time) bool {
	u.FailedAttempts++
	if u.FailedAttempts >= g.Threshold {
		until := now.Add(g.Cooldown)
		u.LockedUntil = &until
		return true
	}
	return false
}

// RecordSuccess applies the successful-check transition: a success always
// clears prior failures, whatever their count.
func (g Guard) RecordSuccess(u *entity.User) {
	u.FailedAttempts = 0
	u.LockedUntil = nil
}
