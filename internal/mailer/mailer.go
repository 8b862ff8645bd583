package mailer

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"slimtax/internal/config"
)

// Mailer delivers account emails.
type Mailer interface {
	SendConfirmation(toEmail, link string) error
}

type smtpMailer struct {
	send   func(...*gomail.Message) error
	sender string
	log    *zap.Logger
}

// NewSMTPMailer sends mail through the configured SMTP relay.
func NewSMTPMailer(cfg config.SMTPConfig, log *zap.Logger) Mailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newMailer(d.DialAndSend, cfg.Sender, log)
}

func newMailer(send func(...*gomail.Message) error, sender string, log *zap.Logger) *smtpMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &smtpMailer{send: send, sender: sender, log: log}
}

func (m *smtpMailer) SendConfirmation(toEmail, link string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.sender)
	msg.SetHeader("To", toEmail)
	msg.SetHeader("Subject", "Confirm your Slim Tax account")
	msg.SetBody("text/plain", fmt.Sprintf("Welcome to Slim Tax!\n\nConfirm your email address by opening this link:\n\n%s\n\nIf you did not sign up, you can ignore this email.\n", link))
	msg.AddAlternative("text/html", fmt.Sprintf(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
	<h2>Welcome to Slim Tax!</h2>
	<p>Confirm your email address to start chatting with your AI tax strategist.</p>
	<a href="%s" style="background-color: #2563eb; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; display: inline-block;">Confirm email</a>
	<p>Or copy this link:</p>
	<p>%s</p>
	<p>If you did not sign up, you can ignore this email.</p>
</div>`, link, link))

	if err := m.send(msg); err != nil {
		m.log.Error("send confirmation email", zap.String("to", toEmail), zap.Error(err))
		return fmt.Errorf("send confirmation email: %w", err)
	}
	m.log.Info("confirmation email sent", zap.String("to", toEmail))
	return nil
}
