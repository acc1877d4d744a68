package otp

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/otp/entity"
	"github.com/havenlist/service-identity/internal/platform/config"
)

// Sender is the outbound delivery collaborator. It is the only channel that
// ever sees a raw code.
type Sender interface {
	SendCode(ctx context.Context, identifier string, code string, purpose entity.Purpose) error
	SendResetLink(ctx context.Context, identifier string, token string) error
}

// SMTPSender delivers codes and reset links over email. Phone identifiers
// would use an SMS gateway instead; routing to one is a deployment concern
// and both shapes satisfy Sender.
type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) SendCode(ctx context.Context, identifier, code string, purpose entity.Purpose) error {
	subject := "Your Havenlist verification code"
	body := fmt.Sprintf("Your verification code is %s. It expires in 10 minutes.", code)
	return s.send(identifier, subject, body)
}

func (s *SMTPSender) SendResetLink(ctx context.Context, identifier, token string) error {
	subject := "Reset your Havenlist password"
	body := fmt.Sprintf("Use this token to reset your password: %s. It expires in 1 hour.", token)
	return s.send(identifier, subject, body)
}

func (s *SMTPSender) send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	addr := s.cfg.Host + ":" + s.cfg.Port
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// DevSender logs outbound codes instead of delivering them. Debug-only side
// channel for local development; never wire it in production.
type DevSender struct {
	logger *zap.SugaredLogger
}

func NewDevSender(logger *zap.SugaredLogger) *DevSender {
	return &DevSender{logger: logger}
}

func (s *DevSender) SendCode(ctx context.Context, identifier, code string, purpose entity.Purpose) error {
	s.logger.Debugw("otp code issued", "identifier", identifier, "code", code, "purpose", purpose)
	return nil
}

func (s *DevSender) SendResetLink(ctx context.Context, identifier, token string) error {
	s.logger.Debugw("password reset token issued", "identifier", identifier, "token", token)
	return nil
}
