package notify

import (
	"context"
	"fmt"
	"time"

	"mentor-crm/internal/config"

	"github.com/go-resty/resty/v2"
	gomail "gopkg.in/gomail.v2"
)

// Sender is an outbound message channel. Implementations report whether
// they have usable credentials so the dispatcher can degrade to a no-op
// instead of failing.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, to, subject, body string) error
}

type EmailSender struct {
	cfg config.SMTPConfig
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Configured() bool {
	return s.cfg.Host != "" && s.cfg.From != ""
}

func (s *EmailSender) Send(ctx context.Context, to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.User, s.cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// WhatsAppSender talks to a WhatsApp-style messaging HTTP API.
type WhatsAppSender struct {
	cfg    config.WhatsAppConfig
	client *resty.Client
}

func NewWhatsAppSender(cfg config.WhatsAppConfig) *WhatsAppSender {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetTimeout(10 * time.Second)
	return &WhatsAppSender{cfg: cfg, client: client}
}

func (s *WhatsAppSender) Configured() bool {
	return s.cfg.BaseURL != "" && s.cfg.Token != ""
}

func (s *WhatsAppSender) Send(ctx context.Context, to, subject, body string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"from": s.cfg.Sender, "to": to, "body": body}).
		Post("/v1/messages")
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("whatsapp status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
