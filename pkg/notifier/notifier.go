// Package notifier announces a detected fault on the console, by mail and,
// when a broker is configured, as a RabbitMQ message.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/avihaie/bug-hunter/pkg/defaults"
	"github.com/avihaie/bug-hunter/pkg/models"
)

// Config holds the mail settings and test label.
type Config struct {
	TestLabel      string
	TargetAddress  string
	SenderAddress  string
	SenderPassword string
	// SMTPServer is host:port of the submission server.
	SMTPServer string
}

// Event is a detected fault.
type Event struct {
	RunID        string
	Name         string
	Details      string
	Host         string
	Pattern      string
	LogDirectory string
	At           time.Time
}

// Publisher broadcasts fault events.
type Publisher interface {
	Publish(ctx context.Context, event *models.FaultEvent) error
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends notifications. Failures are logged, never returned.
type Notifier struct {
	cfg       Config
	publisher Publisher
	sendMail  SendMailFunc
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPublisher also publishes every event.
func WithPublisher(p Publisher) Option {
	return func(n *Notifier) {
		n.publisher = p
	}
}

// WithSendMail replaces the SMTP submission function.
func WithSendMail(f SendMailFunc) Option {
	return func(n *Notifier) {
		n.sendMail = f
	}
}

// New creates a Notifier.
func New(cfg Config, opts ...Option) *Notifier {
	if cfg.SMTPServer == "" {
		cfg.SMTPServer = defaults.SMTPServer
	}
	n := &Notifier{cfg: cfg, sendMail: smtp.SendMail}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify writes the console entry, sends the mail and publishes the event.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if ev.RunID == "" {
		ev.RunID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	n.console(ev)
	n.mail(ev)
	n.publish(ctx, ev)
}

// ConsoleMessage is the headline logged for ev.
func (n *Notifier) ConsoleMessage(ev Event) string {
	return fmt.Sprintf("Test %s Event %s OCCURRED on host %s", n.cfg.TestLabel, capitalize(ev.Name), ev.Host)
}

// Subject is the mail subject for ev.
func (n *Notifier) Subject(ev Event) string {
	return fmt.Sprintf("Test %s %s on host %s", n.cfg.TestLabel, ev.Name, ev.Host)
}

// Message renders the mail for ev.
func (n *Notifier) Message(ev Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.SenderAddress)
	fmt.Fprintf(&b, "To: %s\r\n", n.cfg.TargetAddress)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject(ev))
	b.WriteString("\r\n")
	b.WriteString(ev.Details)
	if ev.LogDirectory != "" {
		fmt.Fprintf(&b, "\r\n\r\nLogs: %s", ev.LogDirectory)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (n *Notifier) console(ev Event) {
	slog.Error(n.ConsoleMessage(ev),
		slog.String("event", ev.Name),
		slog.String("details", ev.Details),
		slog.String("host", ev.Host),
		slog.String("mail_to", n.cfg.TargetAddress),
		slog.String("log_directory", ev.LogDirectory))
}

func (n *Notifier) mail(ev Event) {
	if n.cfg.TargetAddress == "" || n.cfg.SenderAddress == "" {
		slog.Info("mail notification not configured, skipping")
		return
	}

	host, _, err := net.SplitHostPort(n.cfg.SMTPServer)
	if err != nil {
		slog.Error("invalid SMTP server address",
			slog.String("server", n.cfg.SMTPServer),
			slog.String("error", err.Error()))
		return
	}
	auth := smtp.PlainAuth("", n.cfg.SenderAddress, n.cfg.SenderPassword, host)

	done := make(chan error, 1)
	go func() {
		done <- n.sendMail(n.cfg.SMTPServer, auth, n.cfg.SenderAddress, []string{n.cfg.TargetAddress}, n.Message(ev))
	}()

	select {
	case err = <-done:
	case <-time.After(defaults.NotifyTimeout):
		err = fmt.Errorf("mail submission timed out after %s", defaults.NotifyTimeout)
	}
	if err != nil {
		slog.Error("sending mail failed",
			slog.String("server", n.cfg.SMTPServer),
			slog.String("to", n.cfg.TargetAddress),
			slog.String("error", err.Error()))
		return
	}
	slog.Info("mail sent", slog.String("to", n.cfg.TargetAddress))
}

func (n *Notifier) publish(ctx context.Context, ev Event) {
	if n.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, defaults.NotifyTimeout)
	defer cancel()

	fe := &models.FaultEvent{
		RunID:        ev.RunID,
		TestLabel:    n.cfg.TestLabel,
		SourceID:     ev.Host,
		Timestamp:    ev.At,
		Pattern:      ev.Pattern,
		Payload:      ev.Details,
		LogDirectory: ev.LogDirectory,
	}
	if err := n.publisher.Publish(pctx, fe); err != nil {
		slog.Error("failed to publish fault event",
			slog.String("run_id", ev.RunID),
			slog.String("error", err.Error()))
		return
	}
	slog.Info("fault event published", slog.String("run_id", ev.RunID))
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return cases.Upper(language.Und).String(string(r)) + cases.Lower(language.Und).String(s[size:])
}
