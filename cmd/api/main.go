package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/identity"
	identityrepo "github.com/havenlist/service-identity/internal/identity/repo"
	"github.com/havenlist/service-identity/internal/otp"
	otprepo "github.com/havenlist/service-identity/internal/otp/repo"
	"github.com/havenlist/service-identity/internal/platform/config"
	"github.com/havenlist/service-identity/internal/ratelimit"
	"github.com/havenlist/service-identity/internal/router"
	"github.com/havenlist/service-identity/internal/session"
	sessionrepo "github.com/havenlist/service-identity/internal/session/repo"
	"github.com/havenlist/service-identity/pkg/database"
	"github.com/havenlist/service-identity/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.InitLogger(utilities.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-identity")

	cfg := config.FromEnv()

	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	// wrap with sqlx for convenience in repos/services
	db := sqlx.NewDb(sqlDB, "postgres")
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureTables(ctx, db); err != nil {
		sugar.Fatalf("schema bootstrap: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	limiter := ratelimit.New(redisClient, ratelimit.Config{
		Enabled: cfg.Gate.Enabled,
		Max:     cfg.Gate.Max,
		Window:  cfg.Gate.Window,
	})

	// Without an SMTP host the codes and reset links go to the debug log,
	// which is how local development runs.
	var sender otp.Sender
	if cfg.SMTP.Host != "" {
		sender = otp.NewSMTPSender(cfg.SMTP)
	} else {
		if cfg.Production() {
			sugar.Warn("no SMTP host configured; codes will only reach the log")
		}
		sender = otp.NewDevSender(sugar)
	}

	sessions := session.NewManager(db, sugar, cfg.Session, cfg.Production(),
		session.NewProviderResolver(cfg.OAuth),
		session.NewLocalResolver(db, sugar),
	)

	oauthClients := map[string]session.ProviderClient{
		"google": &session.HTTPProviderClient{
			Provider:    "google",
			TokenURL:    "https://oauth2.googleapis.com/token",
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			Config:      cfg.OAuth,
		},
	}
	oauthFlow := session.NewOAuthFlow(db, sessions, sugar, oauthClients)

	otpService := otp.NewService(db, sender, sugar, cfg.OTP, cfg.Debug && !cfg.Production())
	identityService := identity.NewService(db, sessions, sender, sugar, identity.NewGuard(cfg.Lockout), cfg.Password)

	handler := router.RegisterRoutes(sugar, router.Handlers{
		Identity: identity.NewHandler(identityService, sessions, sugar),
		OTP:      otp.NewHandler(otpService, identityrepo.NewUserRepo(db).ExistsByIdentifier, sugar),
		Session:  session.NewHandler(sessions, oauthFlow, sugar),
	}, limiter)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		sugar.Infof("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	// periodic cleanup of expired sessions, codes, reset tokens
	go sweepLoop(ctx, sugar, cfg.Session.SweepInterval, sessions, otpService, identityService)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
}

func ensureTables(ctx context.Context, db *sqlx.DB) error {
	if err := identityrepo.NewUserRepo(db).EnsureTable(ctx); err != nil {
		return err
	}
	if err := identityrepo.NewLinkedAccountRepo(db).EnsureTable(ctx); err != nil {
		return err
	}
	if err := identityrepo.NewLoginHistoryRepo(db).EnsureTable(ctx); err != nil {
		return err
	}
	if err := identityrepo.NewResetTokenRepo(db).EnsureTable(ctx); err != nil {
		return err
	}
	if err := otprepo.NewOTPRepo(db).EnsureTable(ctx); err != nil {
		return err
	}
	return sessionrepo.NewSessionRepo(db).EnsureTable(ctx)
}

func sweepLoop(ctx context.Context, sugar *zap.SugaredLogger, interval time.Duration, sessions *session.Manager, otps *otp.Service, identities *identity.Service) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := sessions.SweepExpired(ctx)
			if err != nil {
				sugar.Warnw("session sweep failed", "err", err)
			}
			codes, err := otps.SweepExpired(ctx)
			if err != nil {
				sugar.Warnw("otp sweep failed", "err", err)
			}
			tokens, err := identities.SweepExpiredResetTokens(ctx)
			if err != nil {
				sugar.Warnw("reset token sweep failed", "err", err)
			}
			sugar.Infow("expiry sweep", "sessions", swept, "otp_codes", codes, "reset_tokens", tokens)
		}
	}
}
