// Package session implements the session manager: issuing, resolving, and
// revoking first-party bearer-token sessions, and reconciling them with the
// third-party OAuth trust source.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	identityentity "github.com/havenlist/service-identity/internal/identity/entity"
	identityrepo "github.com/havenlist/service-identity/internal/identity/repo"
	"github.com/havenlist/service-identity/internal/platform/config"
	"github.com/havenlist/service-identity/internal/session/entity"
	"github.com/havenlist/service-identity/internal/session/repo"
	"github.com/havenlist/service-identity/pkg/utilities"
)

// CookieName is the first-party session cookie.
const CookieName = "session"

// AuthContext is the outcome of session resolution: who the caller is and
// which trust source vouched for them.
type AuthContext struct {
	UserID string
	User   identityentity.SafeUser
	// Source is "oauth" for the provider trust source, "session" for a
	// first-party cookie.
	Source string
	// Token is the bearer token for first-party sessions, empty otherwise.
	Token string
}

// Resolver is one trust source. Resolution is total: any failure degrades
// to nil, never to an error.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) *AuthContext
}

// Manager issues, resolves, and revokes sessions. Resolvers are tried in
// priority order; the first non-nil answer wins.
type Manager struct {
	db         *sqlx.DB
	logger     *zap.SugaredLogger
	cfg        config.SessionConfig
	production bool
	resolvers  []Resolver
}

func NewManager(db *sqlx.DB, logger *zap.SugaredLogger, cfg config.SessionConfig, production bool, resolvers ...Resolver) *Manager {
	if cfg.TTL == 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &Manager{db: db, logger: logger, cfg: cfg, production: production, resolvers: resolvers}
}

// Create persists a new session row for the user and returns its opaque
// bearer token. Existing sessions for the same user stay valid; concurrent
// sessions are allowed.
func (m *Manager) Create(ctx context.Context, userID string, meta identityentity.ClientMeta) (string, error) {
	token, err := newBearerToken()
	if err != nil {
		return "", apperror.Internal(fmt.Errorf("generate session token: %w", err))
	}

	now := time.Now().UTC()
	s := &entity.Session{
		ID:        utilities.NewKSUID(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(m.cfg.TTL),
		CreatedAt: now,
		UpdatedAt: now,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		DeviceID:  meta.DeviceID,
		Country:   meta.Country,
	}
	if err := repo.NewSessionRepo(m.db).Create(ctx, s); err != nil {
		return "", apperror.Internal(fmt.Errorf("store session: %w", err))
	}
	return token, nil
}

// SetCookie delivers the bearer token as the first-party session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.production,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie overwrites the session cookie with an immediately expired
// empty value.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.production,
		SameSite: http.SameSiteLaxMode,
	})
}

// Resolve asks each trust source in priority order and returns the first
// authenticated identity, or nil when no source vouches for the request.
func (m *Manager) Resolve(ctx context.Context, r *http.Request) *AuthContext {
	for _, res := range m.resolvers {
		if ac := res.Resolve(ctx, r); ac != nil {
			return ac
		}
	}
	return nil
}

// Destroy deletes the session matching the presented token and clears the
// cookie. Missing cookie or missing row is a no-op, not an error.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	defer m.ClearCookie(w)

	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	if err := repo.NewSessionRepo(m.db).DeleteByToken(ctx, c.Value); err != nil {
		return apperror.Internal(fmt.Errorf("delete session: %w", err))
	}
	return nil
}

// RevokeAllForUser deletes every session belonging to a user.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := repo.NewSessionRepo(m.db).DeleteAllForUser(ctx, userID); err != nil {
		return apperror.Internal(fmt.Errorf("revoke sessions: %w", err))
	}
	return nil
}

// SweepExpired bulk-deletes sessions past their expiry. Runs on a schedule
// outside any request path.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	return repo.NewSessionRepo(m.db).DeleteExpired(ctx, time.Now().UTC())
}

// newBearerToken returns an unguessable opaque token.
func newBearerToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// LocalResolver is the first-party trust source: it reads the session
// cookie, looks the token up, and accepts it only while the expiry is
// strictly in the future. Expired rows behave exactly like missing ones.
type LocalResolver struct {
	db     *sqlx.DB
	logger *zap.SugaredLogger
}

func NewLocalResolver(db *sqlx.DB, logger *zap.SugaredLogger) *LocalResolver {
	return &LocalResolver{db: db, logger: logger}
}

func (l *LocalResolver) Resolve(ctx context.Context, r *http.Request) *AuthContext {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}

	s, err := repo.NewSessionRepo(l.db).GetByToken(ctx, c.Value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			l.logger.Warnw("session lookup failed", "err", err)
		}
		return nil
	}
	if !s.Active(time.Now().UTC()) {
		return nil
	}

	u, err := identityrepo.NewUserRepo(l.db).GetByID(ctx, s.UserID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			l.logger.Warnw("session user lookup failed", "err", err)
		}
		return nil
	}

	return &AuthContext{
		UserID: u.ID,
		User:   u.Sanitize(),
		Source: "session",
		Token:  s.Token,
	}
}
