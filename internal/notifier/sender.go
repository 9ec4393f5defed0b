package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
)

// Message is a single outbound notification.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Sender delivers a Message. Named after the kopia notification/sender
// package shape found in the retrieval pack: a narrow interface with
// one concrete transport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers messages via net/smtp. The retrieval pack has no
// concrete SMTP-sending library in active use (kopia's notification
// package only exercises a sender in tests), so this is one of the few
// components built on the standard library rather than an ecosystem
// dependency.
type SMTPSender struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

// Send implements Sender. ctx is accepted for interface symmetry with
// other async collaborators; net/smtp has no context-aware dial, so
// cancellation is not honored mid-send.
func (s SMTPSender) Send(_ context.Context, msg Message) error {
	addr := fmt.Sprintf("%s:%d", s.Server, s.Port)
	body := []byte(fmt.Sprintf("Subject: %s\r\nFrom: %s\r\nTo: %s\r\n\r\n%s", msg.Subject, s.From, joinAddrs(msg.To), msg.Body))

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Server)
	}

	if !s.UseTLS {
		if err := smtp.SendMail(addr, auth, s.From, msg.To, body); err != nil {
			return fmt.Errorf("send mail via %s: %w", addr, err)
		}
		return nil
	}

	return s.sendWithImplicitTLS(addr, auth, msg.To, body)
}

// sendWithImplicitTLS dials addr over TLS directly, for servers (like
// port 465) that expect TLS from the first byte rather than a STARTTLS
// upgrade.
func (s SMTPSender) sendWithImplicitTLS(addr string, auth smtp.Auth, to []string, body []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.Server, MinVersion: tls.VersionTLS12})
	if err != nil {
		return fmt.Errorf("tls dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.Server)
	if err != nil {
		return fmt.Errorf("smtp client for %s: %w", addr, err)
	}
	defer func() { _ = client.Quit() }()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", addr, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	return w.Close()
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
