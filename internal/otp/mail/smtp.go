// Package mail delivers one-time codes over SMTP.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends codes as plain-text mail. STARTTLS is negotiated by net/smtp when offered.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	send sendFunc
}

// NewSMTPSender returns a sender for host:port. Auth is used only when username is set.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	if port == 0 {
		port = 587
	}
	if from == "" {
		from = username
	}
	return &SMTPSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		send:     smtp.SendMail,
	}
}

// Send mails code to email. The code appears only in the message body, never in errors.
func (s *SMTPSender) Send(ctx context.Context, email, code string, expiresAt time.Time) error {
	if s.Host == "" {
		return fmt.Errorf("mail: SMTP host not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	msg := buildMessage(s.From, email, "[SDU SHARE] Verification code",
		fmt.Sprintf("Your verification code is %s. It is valid for %d minutes. Do not share it with anyone.\r\n", code, minutes))
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := s.send(addr, auth, s.From, []string{email}, msg); err != nil {
		return fmt.Errorf("mail: send to %s: %w", email, err)
	}
	return nil
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
