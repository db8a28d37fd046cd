package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

// Email sends toasts via SMTP.
type Email struct {
	Host, User, Pass string
	Port             int
	To               []string
}

// Name returns the provider name.
func (e *Email) Name() string { return "Email" }

// Send mails the toast. SMTP has no context support; ctx is only checked up front.
func (e *Email) Send(ctx context.Context, t Toast) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	var auth smtp.Auth
	if e.User != "" {
		auth = smtp.PlainAuth("", e.User, e.Pass, e.Host)
	}
	header := fmt.Sprintf(
		"To: %s\r\nSubject: [deskwatch] %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		strings.Join(e.To, ","),
		t.Title,
	)
	return sendMailHook(addr, auth, e.User, e.To, []byte(header+t.Text()))
}
