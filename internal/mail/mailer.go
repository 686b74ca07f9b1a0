package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
)

// Mailer sends transactional email. All sends in this codebase are
// best-effort side effects; callers log failures and move on.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, toEmail, orderNumber string, credits int) error
}

// SMTPMailer sends email via plain SMTP. Compatible with SES, Mailgun,
// Mailpit, or any other SMTP endpoint.
type SMTPMailer struct {
	config *config.MailConfig
	logger *logrus.Logger
}

func NewSMTPMailer(cfg *config.MailConfig, logger *logrus.Logger) *SMTPMailer {
	return &SMTPMailer{
		config: cfg,
		logger: logger,
	}
}

func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, toEmail, orderNumber string, credits int) error {
	subject := fmt.Sprintf("Your Pawtrait order %s", orderNumber)
	body := fmt.Sprintf(
		"Thanks for your order!\r\n\r\nOrder number: %s\r\nCredits added: %d\r\n",
		orderNumber, credits,
	)

	var msg strings.Builder
	msg.WriteString("From: " + m.config.From + "\r\n")
	msg.WriteString("To: " + toEmail + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := smtp.SendMail(addr, auth, m.config.From, []string{toEmail}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send order confirmation: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"order_number": orderNumber,
	}).Info("Order confirmation sent")

	return nil
}

// NopMailer discards outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (NopMailer) SendOrderConfirmation(context.Context, string, string, int) error {
	return nil
}
