package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPSender delivers mail over a plain SMTP relay.
type SMTPSender struct {
	host     string
	port     int
	userName string
	password string
	from     string

	// send is a seam for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host string, port int, userName, password, from string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		userName: userName,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.userName != "" {
		auth = smtp.PlainAuth("", s.userName, s.password, s.host)
	}

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	if err := s.send(addr, auth, s.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
