package identity

import (
	"context"
	"fmt"
	"net/smtp"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mailer delivers verification and password reset messages.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes messages to the log instead of sending them. Used when no SMTP relay is configured.
type LogMailer struct {
	Log logrus.FieldLogger
}

var codeParam = regexp.MustCompile(`code=[^\s&]+`)

// Send logs the message with its action codes redacted. The full body is only logged at
// debug level.
func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	entry := m.Log.WithFields(logrus.Fields{"to": to, "subject": subject})
	entry.WithField("body", codeParam.ReplaceAllString(body, "code=REDACTED")).Info("mail: not sent, no relay configured")
	entry.WithField("body", body).Debug("mail: unredacted body")
	return nil
}

// SMTPMailer sends plain-text mail through an unauthenticated relay such as a local MTA.
type SMTPMailer struct {
	Addr string
	From string
}

func (m SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	if err := smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
