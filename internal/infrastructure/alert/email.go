package alert

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends alerts through an SMTP relay.
type Email struct {
	name     string
	addr     string
	auth     smtp.Auth
	from     string
	to       []string
	sendMail sendMailFunc
}

// NewEmail creates an email sender. password authenticates cfg.SMTPUser with PLAIN auth
// when both are set.
func NewEmail(cfg config.AlertChannelConfig, password string) *Email {
	var auth smtp.Auth
	if cfg.SMTPUser != "" && password != "" {
		host, _, err := net.SplitHostPort(cfg.SMTPAddr)
		if err != nil {
			host = cfg.SMTPAddr
		}
		auth = smtp.PlainAuth("", cfg.SMTPUser, password, host)
	}
	var to []string
	for _, r := range strings.Split(cfg.To, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &Email{name: cfg.Name, addr: cfg.SMTPAddr, auth: auth, from: cfg.From, to: to, sendMail: smtp.SendMail}
}

func (e *Email) Name() string { return e.name }

func (e *Email) Send(ctx context.Context, a domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sendMail(e.addr, e.auth, e.from, e.to, e.message(a))
}

func (e *Email) message(a domain.Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: [queuepilot] dead-letter queue %s over threshold\r\n", a.Queue)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(summary(a), "\n", "\r\n"))
	return []byte(b.String())
}
