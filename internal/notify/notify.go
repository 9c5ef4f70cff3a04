// Package notify delivers confirmation links to deal principals. Delivery is
// fire-and-forget from the engine's point of view: callers log failures and
// carry on.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Message is one outbound notification.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Link      string
}

// Notifier sends a message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// ── Log notifier ─────────────────────────────────────────────────────────────

// LogNotifier writes messages to the logger instead of sending them. Used in
// development and whenever no SMTP host is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that only logs.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send implements Notifier.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification",
		"to", msg.Recipient,
		"subject", msg.Subject,
		"link", msg.Link,
	)
	return nil
}

// ── SMTP notifier ────────────────────────────────────────────────────────────

// SMTPConfig holds mail transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPNotifier sends plain-text mail with PLAIN auth.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier builds a notifier for cfg.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

// Send implements Notifier. net/smtp has no context support, so the call runs
// in a goroutine and Send returns early when ctx or the timeout fires.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	raw := buildMail(n.cfg.From, msg)

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.send(addr, auth, n.cfg.From, []string{msg.Recipient}, raw)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("notify.SMTP.Send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify.SMTP.Send: %w", ctx.Err())
	}
}

func buildMail(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	if msg.Link != "" {
		b.WriteString("\r\n\r\n")
		b.WriteString(msg.Link)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
