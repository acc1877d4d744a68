package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	identityentity "github.com/havenlist/service-identity/internal/identity/entity"
	identityrepo "github.com/havenlist/service-identity/internal/identity/repo"
	"github.com/havenlist/service-identity/internal/platform/config"
	"github.com/havenlist/service-identity/internal/session/repo"
	"github.com/havenlist/service-identity/pkg/utilities"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, identityrepo.NewUserRepo(db).EnsureTable(ctx))
	require.NoError(t, identityrepo.NewLinkedAccountRepo(db).EnsureTable(ctx))
	require.NoError(t, identityrepo.NewLoginHistoryRepo(db).EnsureTable(ctx))
	require.NoError(t, repo.NewSessionRepo(db).EnsureTable(ctx))
	return db
}

func seedUser(t *testing.T, db *sqlx.DB, email string) *identityentity.User {
	t.Helper()
	now := time.Now().UTC()
	u := &identityentity.User{
		ID:        utilities.NewKSUID(),
		Name:      "Session User",
		Email:     &email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, identityrepo.NewUserRepo(db).Create(context.Background(), u))
	return u
}

func newLocalManager(t *testing.T, db *sqlx.DB) *Manager {
	t.Helper()
	logger := zap.NewNop().Sugar()
	return NewManager(db, logger, config.SessionConfig{TTL: time.Hour}, false,
		NewLocalResolver(db, logger))
}

func requestWithSession(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	return r
}

func TestCreateAndResolve(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()
	user := seedUser(t, db, "a@example.com")

	token, err := m.Create(ctx, user.ID, identityentity.ClientMeta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	ac := m.Resolve(ctx, requestWithSession(token))
	require.NotNil(t, ac)
	assert.Equal(t, user.ID, ac.UserID)
	assert.Equal(t, "session", ac.Source)
	assert.Equal(t, token, ac.Token)

	// Concurrent sessions for the same user stay independent.
	second, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, token, second)
	require.NotNil(t, m.Resolve(ctx, requestWithSession(token)))
	require.NotNil(t, m.Resolve(ctx, requestWithSession(second)))
}

func TestResolve_NoCookieOrUnknownToken(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()

	assert.Nil(t, m.Resolve(ctx, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Nil(t, m.Resolve(ctx, requestWithSession("no-such-token")))
}

func TestResolve_ExpiredBehavesLikeAbsent(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()
	user := seedUser(t, db, "a@example.com")

	token, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE sessions SET expires_at=$1 WHERE token=$2`,
		time.Now().UTC().Add(-time.Second), token)
	require.NoError(t, err)

	assert.Nil(t, m.Resolve(ctx, requestWithSession(token)))
}

func TestDestroy_Idempotent(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()
	user := seedUser(t, db, "a@example.com")

	token, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, m.Destroy(ctx, w, requestWithSession(token)))
	assert.Nil(t, m.Resolve(ctx, requestWithSession(token)))

	// Destroying again, or with no cookie at all, still succeeds.
	require.NoError(t, m.Destroy(ctx, httptest.NewRecorder(), requestWithSession(token)))
	require.NoError(t, m.Destroy(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil)))

	// The cookie got cleared.
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRevokeAllForUser(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()
	user := seedUser(t, db, "a@example.com")
	other := seedUser(t, db, "b@example.com")

	t1, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)
	t2, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)
	t3, err := m.Create(ctx, other.ID, identityentity.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, m.RevokeAllForUser(ctx, user.ID))
	assert.Nil(t, m.Resolve(ctx, requestWithSession(t1)))
	assert.Nil(t, m.Resolve(ctx, requestWithSession(t2)))
	assert.NotNil(t, m.Resolve(ctx, requestWithSession(t3)))
}

func TestSweepExpired(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()
	user := seedUser(t, db, "a@example.com")

	stale, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)
	fresh, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE sessions SET expires_at=$1 WHERE token=$2`,
		time.Now().UTC().Add(-time.Hour), stale)
	require.NoError(t, err)

	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.NotNil(t, m.Resolve(ctx, requestWithSession(fresh)))
}

func providerToken(t *testing.T, secret string, claims providerClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestProviderResolver(t *testing.T) {
	cfg := config.OAuthConfig{SessionCookie: "oauth_session", Secret: "shared-secret", Issuer: "provider"}
	p := NewProviderResolver(cfg)
	ctx := context.Background()

	claims := providerClaims{
		UID:   "acct-1",
		Name:  "OAuth User",
		Email: "oauth@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "provider",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "oauth_session", Value: providerToken(t, "shared-secret", claims)})
	ac := p.Resolve(ctx, r)
	require.NotNil(t, ac)
	assert.Equal(t, "acct-1", ac.UserID)
	assert.Equal(t, "oauth", ac.Source)
	require.NotNil(t, ac.User.Email)
	assert.Equal(t, "oauth@example.com", *ac.User.Email)

	// Wrong signature falls through.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "oauth_session", Value: providerToken(t, "other-secret", claims)})
	assert.Nil(t, p.Resolve(ctx, r))

	// Wrong issuer falls through.
	bad := claims
	bad.Issuer = "someone-else"
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "oauth_session", Value: providerToken(t, "shared-secret", bad)})
	assert.Nil(t, p.Resolve(ctx, r))

	// Expired token falls through.
	bad = claims
	bad.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "oauth_session", Value: providerToken(t, "shared-secret", bad)})
	assert.Nil(t, p.Resolve(ctx, r))
}

func TestResolve_ProviderTakesPriority(t *testing.T) {
	db := setupDB(t)
	logger := zap.NewNop().Sugar()
	cfg := config.OAuthConfig{SessionCookie: "oauth_session", Secret: "shared-secret"}
	m := NewManager(db, logger, config.SessionConfig{TTL: time.Hour}, false,
		NewProviderResolver(cfg),
		NewLocalResolver(db, logger))
	ctx := context.Background()
	user := seedUser(t, db, "local@example.com")

	token, err := m.Create(ctx, user.ID, identityentity.ClientMeta{})
	require.NoError(t, err)

	claims := providerClaims{
		UID: "acct-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	r := requestWithSession(token)
	r.AddCookie(&http.Cookie{Name: "oauth_session", Value: providerToken(t, "shared-secret", claims)})

	// Both cookies present: the provider identity wins.
	ac := m.Resolve(ctx, r)
	require.NotNil(t, ac)
	assert.Equal(t, "oauth", ac.Source)
	assert.Equal(t, "acct-1", ac.UserID)

	// With a garbage provider cookie the first-party session still works.
	r = requestWithSession(token)
	r.AddCookie(&http.Cookie{Name: "oauth_session", Value: "not-a-jwt"})
	ac = m.Resolve(ctx, r)
	require.NotNil(t, ac)
	assert.Equal(t, "session", ac.Source)
	assert.Equal(t, user.ID, ac.UserID)
}

// stubClient returns a fixed profile without talking to any provider.
type stubClient struct {
	profile *ProviderProfile
	err     error
}

func (c *stubClient) Exchange(ctx context.Context, code string) (*ProviderProfile, error) {
	return c.profile, c.err
}

func TestOAuthCallback_CreatesAndReusesIdentity(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()

	email := "oauth@example.com"
	flow := NewOAuthFlow(db, m, zap.NewNop().Sugar(), map[string]ProviderClient{
		"google": &stubClient{profile: &ProviderProfile{
			Provider:  "google",
			AccountID: "acct-42",
			Name:      "OAuth User",
			Email:     &email,
		}},
	})

	user, token, err := flow.Callback(ctx, "google", "any-code", identityentity.ClientMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, user.Email)
	assert.Equal(t, email, *user.Email)
	assert.True(t, user.EmailVerified)
	assert.Nil(t, user.PasswordHash)
	assert.NotEmpty(t, token)

	// Second callback for the same provider account binds to the same row.
	again, _, err := flow.Callback(ctx, "google", "any-code", identityentity.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	var users int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&users))
	assert.Equal(t, 1, users)
}

func TestOAuthCallback_BindsToExistingEmail(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	ctx := context.Background()
	existing := seedUser(t, db, "known@example.com")

	email := "known@example.com"
	flow := NewOAuthFlow(db, m, zap.NewNop().Sugar(), map[string]ProviderClient{
		"google": &stubClient{profile: &ProviderProfile{
			Provider:  "google",
			AccountID: "acct-7",
			Name:      "Known User",
			Email:     &email,
		}},
	})

	user, _, err := flow.Callback(ctx, "google", "any-code", identityentity.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)
}

func TestOAuthCallback_UnknownProvider(t *testing.T) {
	db := setupDB(t)
	m := newLocalManager(t, db)
	flow := NewOAuthFlow(db, m, zap.NewNop().Sugar(), map[string]ProviderClient{})

	_, _, err := flow.Callback(context.Background(), "nope", "code", identityentity.ClientMeta{})
	assert.Error(t, err)
}
