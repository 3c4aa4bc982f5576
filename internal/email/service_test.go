package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"canvas/api/internal/store"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "canvas@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "canvas@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "canvas@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config, nil)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderInviteTemplate(t *testing.T) {
	data := InviteData{
		AppName:       "Canvas",
		WorkspaceName: "Launch <plan>",
		InviterEmail:  "alex@example.com",
		Role:          store.RoleEditor,
		InviteURL:     "https://canvas.demo/invite/abc123",
	}

	html, err := renderTemplate(inviteEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Launch &lt;plan&gt;") {
		t.Error("template should contain escaped workspace name")
	}
	if !strings.Contains(html, "alex@example.com added you as editor") {
		t.Error("template should name the inviter and role")
	}
	if !strings.Contains(html, "https://canvas.demo/invite/abc123") {
		t.Error("template should contain invite URL")
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func TestNotifyInviteSendsMail(t *testing.T) {
	var sent []capturedMail
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "canvas@example.com", FromName: "Canvas"}, nil).
		WithSender(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			sent = append(sent, capturedMail{addr: addr, from: from, to: to, msg: string(msg)})
			return nil
		})

	ws := store.Workspace{ID: "ws-1", Name: "Launch", InviteLink: "https://canvas.demo/invite/abc123"}
	member := store.Member{ID: "m-1", Email: "sam@example.com", Role: store.RoleViewer}
	if err := svc.NotifyInvite(context.Background(), ws, member, "alex@example.com"); err != nil {
		t.Fatalf("NotifyInvite failed: %v", err)
	}

	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	mail := sent[0]
	if mail.addr != "smtp.example.com:587" || mail.from != "canvas@example.com" {
		t.Errorf("unexpected envelope %q from %q", mail.addr, mail.from)
	}
	if len(mail.to) != 1 || mail.to[0] != "sam@example.com" {
		t.Errorf("unexpected recipients %v", mail.to)
	}
	for _, want := range []string{
		"From: Canvas <canvas@example.com>",
		"Subject: You're invited to Launch on Canvas",
		"alex@example.com invited you to Launch as viewer.",
		"--boundary-canvas--",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestNotifyInviteSkipsWhenUnconfigured(t *testing.T) {
	called := false
	svc := NewService(Config{}, nil).WithSender(func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	})

	if err := svc.NotifyInvite(context.Background(), store.Workspace{ID: "ws-1"}, store.Member{Email: "sam@example.com"}, "alex@example.com"); err != nil {
		t.Fatalf("NotifyInvite failed: %v", err)
	}
	if called {
		t.Error("unconfigured service should not send")
	}
	if err := svc.SendHTMLEmail([]string{"sam@example.com"}, "s", "t", "h"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SendHTMLEmail error = %v, want ErrNotConfigured", err)
	}
}

func TestNotifyInviteWrapsTransportErrors(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "canvas@example.com"}, nil).
		WithSender(func(string, smtp.Auth, string, []string, []byte) error { return boom })

	err := svc.NotifyInvite(context.Background(), store.Workspace{ID: "ws-1", Name: "Launch"}, store.Member{Email: "sam@example.com"}, "alex@example.com")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped transport error", err)
	}
}
