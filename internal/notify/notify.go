// AngelaMos | 2026
// notify.go

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

const (
	ModeConfigured = "configured"
	ModeMock       = "mock_mode"
	ModeDisabled   = "disabled"
)

type Notifier interface {
	SendVerification(ctx context.Context, email, token string) error
	Mode() string
}

func VerificationLink(frontendURL, token string) string {
	return fmt.Sprintf(
		"%s/verify-email?token=%s",
		strings.TrimSuffix(frontendURL, "/"),
		url.QueryEscape(token),
	)
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type SMTPNotifier struct {
	cfg    config.SMTPConfig
	client mailSender
	logger *slog.Logger
}

func NewSMTPNotifier(cfg config.SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
	}

	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}

	return &SMTPNotifier{cfg: cfg, client: client, logger: logger}, nil
}

func (n *SMTPNotifier) Mode() string {
	return ModeConfigured
}

func (n *SMTPNotifier) SendVerification(ctx context.Context, email, token string) error {
	msg, err := n.verificationMessage(email, token)
	if err != nil {
		return err
	}

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}

	n.logger.Info("verification email sent", "to", email)
	return nil
}

func (n *SMTPNotifier) verificationMessage(email, token string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if n.cfg.FromName != "" {
		if err := msg.FromFormat(n.cfg.FromName, n.cfg.From); err != nil {
			return nil, fmt.Errorf("set from address: %w", err)
		}
	} else if err := msg.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("set from address: %w", err)
	}

	if err := msg.To(email); err != nil {
		return nil, fmt.Errorf("set to address: %w", err)
	}

	link := VerificationLink(n.cfg.FrontendURL, token)

	msg.Subject("Verify your email address")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Welcome!\n\nConfirm your email address by opening the link below:\n\n%s\n\n"+
			"If you did not create an account you can ignore this message.\n",
		link,
	))

	return msg, nil
}

// ConsoleNotifier logs the verification link instead of sending mail.
type ConsoleNotifier struct {
	frontendURL string
	logger      *slog.Logger
}

func NewConsoleNotifier(frontendURL string, logger *slog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{frontendURL: frontendURL, logger: logger}
}

func (n *ConsoleNotifier) Mode() string {
	return ModeMock
}

func (n *ConsoleNotifier) SendVerification(_ context.Context, email, token string) error {
	n.logger.Info("verification link (smtp disabled)",
		"to", email,
		"link", VerificationLink(n.frontendURL, token),
	)
	return nil
}

func New(cfg config.SMTPConfig, logger *slog.Logger) (Notifier, error) {
	if !cfg.Enabled || cfg.Host == "" {
		return NewConsoleNotifier(cfg.FrontendURL, logger), nil
	}
	return NewSMTPNotifier(cfg, logger)
}

var (
	_ Notifier = (*SMTPNotifier)(nil)
	_ Notifier = (*ConsoleNotifier)(nil)
)
