package notify

import (
	"context"
	"fmt"
	"sync"

	"trading-alerts/api/logger"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type EmailSender interface {
	Send(ctx context.Context, email Email) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender keeps one SMTP connection open across sends and redials after
// any failure.
type SMTPSender struct {
	from   string
	dialer *gomail.Dialer

	mu   sync.Mutex
	conn gomail.SendCloser
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("SMTP host and from address are required")
	}
	return &SMTPSender{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

func (s *SMTPSender) message(email Email) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", email.To)
	m.SetHeader("Subject", email.Subject)
	if email.Text != "" {
		m.SetBody("text/plain", email.Text)
		if email.HTML != "" {
			m.AddAlternative("text/html", email.HTML)
		}
	} else {
		m.SetBody("text/html", email.HTML)
	}
	return m
}

func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.dialer.Dial()
		if err != nil {
			return fmt.Errorf("error dialing SMTP server: %w", err)
		}
		s.conn = conn
	}

	if err := gomail.Send(s.conn, s.message(email)); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("error sending email to %s: %w", email.To, err)
	}
	return nil
}

func (s *SMTPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// LogEmailSender stands in when SMTP is not configured.
type LogEmailSender struct{}

func (LogEmailSender) Send(ctx context.Context, email Email) error {
	logger.Get().Info("email delivery disabled, dropping message",
		zap.String("to", email.To),
		zap.String("subject", email.Subject))
	return nil
}
