// Package config builds the process-wide configuration object once at
// startup. Components receive the pieces they need by reference instead of
// reading the environment inside deep call paths.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env      string // "production" enables Secure cookies
	Debug    bool   // enables the dev-only OTP diagnostic log
	HTTPAddr string

	Session  SessionConfig
	OTP      OTPConfig
	Lockout  LockoutConfig
	Password PasswordConfig
	OAuth    OAuthConfig
	SMTP     SMTPConfig
	Redis    RedisConfig
	Gate     GateConfig
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type OTPConfig struct {
	TTL    time.Duration
	Digits int
}

type LockoutConfig struct {
	Threshold int
	Cooldown  time.Duration
}

type PasswordConfig struct {
	BcryptCost    int
	ResetTokenTTL time.Duration
}

// OAuthConfig describes the third-party trust source: the provider issues an
// HS256 session token in its own cookie, verified locally with the shared
// secret, plus credentials for the code-exchange client.
type OAuthConfig struct {
	SessionCookie string
	Secret        string
	Issuer        string
	CallbackURL   string
	ClientID      string
	ClientSecret  string
}

type SMTPConfig struct {
	Host string
	Port string
	From string
	User string
	Pass string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GateConfig struct {
	Enabled bool
	Max     int
	Window  time.Duration
}

// FromEnv constructs the configuration from environment variables, applying
// the reference defaults for anything unset.
func FromEnv() Config {
	return Config{
		Env:      getenv("APP_ENV", "development"),
		Debug:    os.Getenv("APP_DEBUG") == "1",
		HTTPAddr: getenv("HTTP_ADDR", "0.0.0.0:8433"),
		Session: SessionConfig{
			TTL:           duration("SESSION_TTL", 7*24*time.Hour),
			SweepInterval: duration("SESSION_SWEEP_INTERVAL", time.Hour),
		},
		OTP: OTPConfig{
			TTL:    duration("OTP_TTL", 10*time.Minute),
			Digits: integer("OTP_DIGITS", 6),
		},
		Lockout: LockoutConfig{
			Threshold: integer("LOCKOUT_THRESHOLD", 3),
			Cooldown:  duration("LOCKOUT_COOLDOWN", 10*time.Minute),
		},
		Password: PasswordConfig{
			BcryptCost:    integer("BCRYPT_COST", 12),
			ResetTokenTTL: duration("RESET_TOKEN_TTL", time.Hour),
		},
		OAuth: OAuthConfig{
			SessionCookie: getenv("OAUTH_SESSION_COOKIE", "oauth_session"),
			Secret:        os.Getenv("OAUTH_SESSION_SECRET"),
			Issuer:        os.Getenv("OAUTH_ISSUER"),
			CallbackURL:   os.Getenv("OAUTH_CALLBACK_URL"),
			ClientID:      os.Getenv("OAUTH_CLIENT_ID"),
			ClientSecret:  os.Getenv("OAUTH_CLIENT_SECRET"),
		},
		SMTP: SMTPConfig{
			Host: os.Getenv("SMTP_HOST"),
			Port: getenv("SMTP_PORT", "587"),
			From: os.Getenv("SMTP_FROM"),
			User: os.Getenv("SMTP_USER"),
			Pass: os.Getenv("SMTP_PASS"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       integer("REDIS_DB", 0),
		},
		Gate: GateConfig{
			Enabled: os.Getenv("RATE_GATE_DISABLED") != "1",
			Max:     integer("RATE_GATE_MAX", 30),
			Window:  duration("RATE_GATE_WINDOW", time.Minute),
		},
	}
}

// Production reports whether the service runs with production hardening
// (Secure cookies, no debug side channels).
func (c Config) Production() bool {
	return c.Env == "production"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
