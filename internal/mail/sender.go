package mail

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sandeepkv93/reading-diary/internal/config"
)

var ErrInvalidMessage = errors.New("invalid mail message")

type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" {
		return ErrInvalidMessage
	}
	if strings.ContainsAny(m.To+m.From+m.Subject, "\r\n") {
		return ErrInvalidMessage
	}
	return nil
}

//go:generate mockgen -source=sender.go -destination=gomock/sender_mock.go -package=gomock

// Sender delivers one message. Implementations must honour ctx cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Driver() string
}

// NewSender picks the delivery driver once at startup. A driver without the
// credentials it needs degrades to the log driver instead of failing boot.
func NewSender(cfg *config.Config, logger *slog.Logger) Sender {
	switch cfg.MailDriver {
	case config.MailDriverSMTP:
		if strings.TrimSpace(cfg.SMTPHost) != "" {
			return NewSMTPSender(SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
			})
		}
		logger.Warn("smtp mail driver selected without SMTP_HOST, falling back to log driver")
	case config.MailDriverRelay:
		if strings.TrimSpace(cfg.MailRelayURL) != "" {
			return NewRelaySender(RelayConfig{
				URL:     cfg.MailRelayURL,
				APIKey:  cfg.MailRelayAPIKey,
				Timeout: cfg.MailDeliveryTimeout,
			})
		}
		logger.Warn("relay mail driver selected without MAIL_RELAY_URL, falling back to log driver")
	}
	return NewLogSender(logger)
}
