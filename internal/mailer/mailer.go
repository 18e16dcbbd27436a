package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/config"
)

// Mailer delivers verification emails. Account creation conditions its
// commit on this call succeeding.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, code string) error
}

// New returns an SMTP mailer when an SMTP address is configured, otherwise a
// logging stub so the service stays usable in development.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if strings.TrimSpace(cfg.SMTPAddr) == "" {
		logger.Warn("MAIL_SMTP_ADDR not provided; using logging mailer")
		return &logMailer{logger: logger}
	}
	return &smtpMailer{cfg: cfg}
}

type smtpMailer struct {
	cfg config.MailConfig
}

func (m *smtpMailer) SendVerificationEmail(_ context.Context, email, code string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Verify your email\r\n\r\nYour verification code is %s. It expires in 10 minutes.\r\n",
		m.cfg.From, email, code)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		host := m.cfg.SMTPAddr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
	}

	return smtp.SendMail(m.cfg.SMTPAddr, auth, m.cfg.From, []string{email}, []byte(msg))
}

type logMailer struct {
	logger *zap.Logger
}

func (m *logMailer) SendVerificationEmail(_ context.Context, email, code string) error {
	m.logger.Info("sendVerificationEmail",
		zap.String("email", email),
		zap.String("code", code))
	return nil
}
