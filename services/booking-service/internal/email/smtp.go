package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// SMTPSender sends HTML mail over SMTP. Auth is used only when a username is set.
type SMTPSender struct {
	addr     string
	host     string
	username string
	password string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host, port, username, password string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	return &SMTPSender{
		addr:     net.JoinHostPort(host, port),
		host:     host,
		username: strings.TrimSpace(username),
		password: password,
		send:     smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(msg.From))
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if err := s.send(s.addr, auth, addressOf(msg.From), []string{msg.To}, buildMessage(id, msg)); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}

func buildMessage(id string, msg Message) []byte {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return []byte(fmt.Sprintf(
		"Message-ID: %s\r\nFrom: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		id,
		msg.From,
		msg.To,
		sanitizeHeader(msg.Subject),
		msg.HTML,
	))
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// addressOf extracts the bare address from "Name <addr>".
func addressOf(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return strings.TrimSpace(from)
}

func domainOf(from string) string {
	addr := addressOf(from)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "voicebook.local"
}
