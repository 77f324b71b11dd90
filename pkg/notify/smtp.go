package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
)

// SMTPNotifier sends mail through an SMTP relay using STARTTLS.
type SMTPNotifier struct {
	host      string
	port      string
	username  string
	password  string
	fromEmail string
	fromName  string
}

func NewSMTPNotifier(host, port, username, password, fromEmail, fromName string) *SMTPNotifier {
	return &SMTPNotifier{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sendEmail(msg.To, s.buildEmailMessage(msg.To, subject, body))
}

func (s *SMTPNotifier) buildEmailMessage(to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", s.fromName, s.fromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

func (s *SMTPNotifier) sendEmail(to string, message []byte) error {
	conn, err := smtp.Dial(s.host + ":" + s.port)
	if err != nil {
		return errors.Wrap(err, "failed to connect to SMTP server")
	}
	defer conn.Close()

	if err = conn.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
		return errors.Wrap(err, "failed to start TLS")
	}
	if s.username != "" {
		if err = conn.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return errors.Wrap(err, "failed to authenticate")
		}
	}
	if err = conn.Mail(s.fromEmail); err != nil {
		return errors.Wrap(err, "failed to set sender")
	}
	if err = conn.Rcpt(to); err != nil {
		return errors.Wrap(err, "failed to set recipient")
	}

	w, err := conn.Data()
	if err != nil {
		return errors.Wrap(err, "failed to get data writer")
	}
	if _, err = w.Write(message); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "failed to close writer")
	}
	return conn.Quit()
}
