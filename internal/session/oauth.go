package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	identityentity "github.com/havenlist/service-identity/internal/identity/entity"
	identityrepo "github.com/havenlist/service-identity/internal/identity/repo"
	"github.com/havenlist/service-identity/internal/platform/config"
	"github.com/havenlist/service-identity/pkg/database"
	"github.com/havenlist/service-identity/pkg/utilities"
)

// providerClaims is the shape of the provider-issued session token. The
// provider signs it with the shared secret after completing its own flow.
type providerClaims struct {
	UID     string `json:"uid"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// ProviderResolver is the third-party trust source. When the provider's
// session cookie verifies, the identity it reports is trusted directly
// without consulting local storage.
type ProviderResolver struct {
	cfg config.OAuthConfig
}

func NewProviderResolver(cfg config.OAuthConfig) *ProviderResolver {
	return &ProviderResolver{cfg: cfg}
}

func (p *ProviderResolver) Resolve(ctx context.Context, r *http.Request) *AuthContext {
	if p.cfg.Secret == "" {
		return nil
	}
	c, err := r.Cookie(p.cfg.SessionCookie)
	if err != nil || c.Value == "" {
		return nil
	}

	var claims providerClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(p.cfg.Secret), nil
	})
	if err != nil {
		return nil
	}
	if p.cfg.Issuer != "" && claims.Issuer != p.cfg.Issuer {
		return nil
	}
	uid := claims.UID
	if uid == "" {
		uid = claims.Subject
	}
	if uid == "" {
		return nil
	}

	user := identityentity.SafeUser{ID: uid, Name: claims.Name}
	if claims.Email != "" {
		email := claims.Email
		user.Email = &email
	}
	if claims.Picture != "" {
		pic := claims.Picture
		user.Image = &pic
	}
	return &AuthContext{UserID: uid, User: user, Source: "oauth"}
}

// ProviderProfile is the identity a provider reports after code exchange.
type ProviderProfile struct {
	Provider  string
	AccountID string
	Name      string
	Email     *string
	Image     *string
}

// ProviderClient exchanges an OAuth callback code for the provider's view
// of the user. The token exchange itself is the provider's concern; this
// service only consumes the result.
type ProviderClient interface {
	Exchange(ctx context.Context, code string) (*ProviderProfile, error)
}

// HTTPProviderClient is a ProviderClient over a conventional OAuth2 token
// endpoint plus a userinfo endpoint.
type HTTPProviderClient struct {
	Provider    string
	TokenURL    string
	UserInfoURL string
	Config      config.OAuthConfig
	HTTPClient  *http.Client
}

func (c *HTTPProviderClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *HTTPProviderClient) Exchange(ctx context.Context, code string) (*ProviderProfile, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {c.Config.ClientID},
		"client_secret": {c.Config.ClientSecret},
		"redirect_uri":  {c.Config.CallbackURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange: status %d", resp.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	infoReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	infoReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	infoResp, err := c.client().Do(infoReq)
	if err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	defer infoResp.Body.Close()
	if infoResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo: status %d", infoResp.StatusCode)
	}
	var info struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(infoResp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("userinfo: missing subject")
	}

	profile := &ProviderProfile{Provider: c.Provider, AccountID: info.Sub, Name: info.Name}
	if info.Email != "" {
		email := strings.ToLower(info.Email)
		profile.Email = &email
	}
	if info.Picture != "" {
		pic := info.Picture
		profile.Image = &pic
	}
	return profile, nil
}

// OAuthFlow handles the provider callback: exchange the code, find or
// create the local identity bound to the provider account, and issue a
// first-party session.
type OAuthFlow struct {
	db       *sqlx.DB
	sessions *Manager
	logger   *zap.SugaredLogger
	clients  map[string]ProviderClient
}

func NewOAuthFlow(db *sqlx.DB, sessions *Manager, logger *zap.SugaredLogger, clients map[string]ProviderClient) *OAuthFlow {
	return &OAuthFlow{db: db, sessions: sessions, logger: logger, clients: clients}
}

var errUnknownProvider = apperror.BadRequest("unknown provider")

// Callback completes the OAuth login. The identity and its linked account
// are created in one transaction when the provider account is new; a
// session is issued after commit.
func (f *OAuthFlow) Callback(ctx context.Context, provider, code string, meta identityentity.ClientMeta) (*identityentity.User, string, error) {
	client, ok := f.clients[provider]
	if !ok {
		return nil, "", errUnknownProvider
	}
	profile, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, "", apperror.Unauthorized("provider sign-in failed")
	}

	user, err := f.findOrCreateUser(ctx, profile, meta)
	if err != nil {
		return nil, "", err
	}

	token, err := f.sessions.Create(ctx, user.ID, meta)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (f *OAuthFlow) findOrCreateUser(ctx context.Context, profile *ProviderProfile, meta identityentity.ClientMeta) (*identityentity.User, error) {
	linked, err := identityrepo.NewLinkedAccountRepo(f.db).GetByProviderAccount(ctx, profile.Provider, profile.AccountID)
	if err == nil {
		user, err := identityrepo.NewUserRepo(f.db).GetByID(ctx, linked.UserID)
		if err != nil {
			return nil, apperror.Internal(fmt.Errorf("load linked user: %w", err))
		}
		if histErr := f.appendHistory(ctx, f.db, user.ID, meta); histErr != nil {
			f.logger.Warnw("login history append failed", "err", histErr)
		}
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.Internal(fmt.Errorf("lookup linked account: %w", err))
	}

	var user *identityentity.User
	txErr := database.WithTx(ctx, f.db, func(ctx context.Context, tx *sqlx.Tx) error {
		users := identityrepo.NewUserRepo(tx)
		now := time.Now().UTC()

		// A provider account reporting an email we already know binds to
		// the existing identity instead of creating a duplicate.
		if profile.Email != nil {
			existing, err := users.GetByEmail(ctx, *profile.Email)
			if err == nil {
				user = existing
			} else if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lookup by email: %w", err)
			}
		}
		if user == nil {
			user = &identityentity.User{
				ID:            utilities.NewKSUID(),
				Name:          profile.Name,
				Email:         profile.Email,
				EmailVerified: profile.Email != nil,
				Image:         profile.Image,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := users.Create(ctx, user); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
		}

		la := &identityentity.LinkedAccount{
			ID:                utilities.NewKSUID(),
			UserID:            user.ID,
			Provider:          profile.Provider,
			ProviderAccountID: profile.AccountID,
			CreatedAt:         now,
		}
		if err := identityrepo.NewLinkedAccountRepo(tx).Create(ctx, la); err != nil {
			return fmt.Errorf("create linked account: %w", err)
		}

		return f.appendHistory(ctx, tx, user.ID, meta)
	})
	if txErr != nil {
		return nil, apperror.Internal(txErr)
	}
	return user, nil
}

func (f *OAuthFlow) appendHistory(ctx context.Context, db sqlx.ExtContext, userID string, meta identityentity.ClientMeta) error {
	return identityrepo.NewLoginHistoryRepo(db).Append(ctx, &identityentity.LoginHistoryEntry{
		ID:        utilities.NewSnowflakeID(),
		UserID:    userID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Country:   meta.Country,
		CreatedAt: time.Now().UTC(),
	})
}
