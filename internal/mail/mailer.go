package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Config holds the SMTP settings for outgoing notifications.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	SMTPHost  string        `yaml:"smtp_host"`
	SMTPPort  int           `yaml:"smtp_port"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	From      string        `yaml:"from"`
	To        []string      `yaml:"to"`
	TLSPolicy string        `yaml:"tls_policy"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Message is a plain-text notification.
type Message struct {
	To      []string
	ReplyTo string
	Subject string
	Body    string
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPSender struct {
	client *gomail.Client
	from   string
	to     []string
	logger *zap.Logger
}

// NewSender returns an SMTP sender, or a logging no-op when mail is disabled.
func NewSender(cfg Config, logger *zap.Logger) (Sender, error) {
	if !cfg.Enabled {
		return &NoopSender{logger: logger}, nil
	}

	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	client, err := gomail.NewClient(cfg.SMTPHost,
		gomail.WithPort(port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(tlsPolicy(cfg.TLSPolicy)),
		gomail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &SMTPSender{
		client: client,
		from:   cfg.From,
		to:     cfg.To,
		logger: logger,
	}, nil
}

func tlsPolicy(name string) gomail.TLSPolicy {
	switch strings.ToLower(name) {
	case "opportunistic":
		return gomail.TLSOpportunistic
	case "none":
		return gomail.NoTLS
	default:
		return gomail.TLSMandatory
	}
}

// Send delivers msg. Without explicit recipients it goes to the configured
// school inbox.
func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if len(m.To) == 0 {
		m.To = s.to
	}
	msg, err := buildMsg(s.from, m)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Debug("Email sent", zap.String("subject", m.Subject), zap.Int("recipients", len(m.To)))
	return nil
}

func buildMsg(from string, m Message) (*gomail.Msg, error) {
	if len(m.To) == 0 {
		return nil, fmt.Errorf("no recipients configured")
	}

	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("failed to set From address: %w", err)
	}
	if err := msg.To(m.To...); err != nil {
		return nil, fmt.Errorf("failed to set To address: %w", err)
	}
	if m.ReplyTo != "" {
		if err := msg.ReplyTo(m.ReplyTo); err != nil {
			return nil, fmt.Errorf("failed to set Reply-To address: %w", err)
		}
	}

	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Body)
	return msg, nil
}

// NoopSender logs instead of sending.
type NoopSender struct {
	logger *zap.Logger
}

func (n *NoopSender) Send(_ context.Context, m Message) error {
	if n.logger != nil {
		n.logger.Info("Mail disabled, notification not sent", zap.String("subject", m.Subject))
	}
	return nil
}
