package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestNewSMTPSender_Defaults(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 0, "noreply@example.com", "pw", "")
	if s.Port != 587 {
		t.Errorf("Port = %d, want 587", s.Port)
	}
	if s.From != "noreply@example.com" {
		t.Errorf("From = %q, want username", s.From)
	}
}

func TestSend_BuildsMessage(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 2525, "user", "pw", "noreply@example.com")
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg, gotAuth = addr, to, string(msg), a
		return nil
	}

	err := s.Send(context.Background(), "alice@mail.sdu.edu.cn", "123456", time.Now().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:2525" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "alice@mail.sdu.edu.cn" {
		t.Errorf("to = %v", gotTo)
	}
	if gotAuth == nil {
		t.Error("auth should be set when username is configured")
	}
	for _, want := range []string{"To: alice@mail.sdu.edu.cn", "Subject: [SDU SHARE]", "123456", "10 minutes"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestSend_ErrorDoesNotLeakCode(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 25, "", "", "noreply@example.com")
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	err := s.Send(context.Background(), "bob@example.com", "654321", time.Now().Add(time.Minute))
	if err == nil {
		t.Fatal("want error")
	}
	if strings.Contains(err.Error(), "654321") {
		t.Errorf("error leaks code: %v", err)
	}
}

func TestSend_NoHost(t *testing.T) {
	s := NewSMTPSender("", 25, "", "", "x@example.com")
	if err := s.Send(context.Background(), "bob@example.com", "1", time.Now()); err == nil {
		t.Fatal("want error when host is empty")
	}
}
