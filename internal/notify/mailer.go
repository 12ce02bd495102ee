// Package notify is the delivery boundary of the checkout core: e-mail
// senders and the user directory that resolves a recipient address.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer writes messages to the log instead of sending them. Used when
// no SMTP host is configured.
type LogMailer struct{ Log *zap.Logger }

func (l LogMailer) Send(_ context.Context, m Message) error {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("mail_logged", zap.String("to", m.To), zap.String("subject", m.Subject), zap.String("body", m.Body))
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends plain-text mail. Calls go through a circuit breaker so a
// dead relay fails fast instead of tying up notifier workers.
type SMTPMailer struct {
	cfg  SMTPConfig
	cb   *gobreaker.CircuitBreaker[struct{}]
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig, log *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:  cfg,
		cb:   gobreaker.NewCircuitBreaker[struct{}](breakerSettings("smtp", log)),
		send: smtp.SendMail,
	}
}

func (s *SMTPMailer) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.cb.Execute(func() (struct{}, error) {
		var auth smtp.Auth
		if s.cfg.Username != "" {
			auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		}
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
		return struct{}{}, s.send(addr, auth, s.cfg.From, []string{m.To}, buildMIME(s.cfg.From, m))
	})
	if err != nil {
		return fmt.Errorf("send mail to %s: %w", m.To, err)
	}
	return nil
}

func buildMIME(from string, m Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// breakerSettings trips after five consecutive failures and probes again after 30s.
func breakerSettings(name string, log *zap.Logger) gobreaker.Settings {
	if log == nil {
		log = zap.NewNop()
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit_breaker_state_change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
}
