package services

import (
	"context"
	"fmt"

	"hndld/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// EmailSender delivers a plain-text email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogEmailSender records the email instead of sending it.
type LogEmailSender struct {
	logger *logrus.Logger
}

func NewLogEmailSender(logger *logrus.Logger) *LogEmailSender {
	return &LogEmailSender{logger: defaultLogger(logger)}
}

func (s *LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("automation email (not delivered)")
	return nil
}

// SMTPEmailSender sends through an SMTP relay.
type SMTPEmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPEmailSender(cfg config.EmailConfig) *SMTPEmailSender {
	return &SMTPEmailSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPEmailSender) Send(ctx context.Context, to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// NewEmailSender picks SMTP when enabled, otherwise the logging stub.
func NewEmailSender(cfg config.EmailConfig, logger *logrus.Logger) EmailSender {
	if cfg.Enabled && cfg.SMTPHost != "" {
		return NewSMTPEmailSender(cfg)
	}
	return NewLogEmailSender(logger)
}
