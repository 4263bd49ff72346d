package notify

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

type captured struct {
	from string
	to   []string
	data string
	user string
}

type captureBackend struct {
	mu       sync.Mutex
	messages []captured
	rejectTo string
}

func (b *captureBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &captureSession{backend: b}, nil
}

func (b *captureBackend) received() []captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]captured(nil), b.messages...)
}

type captureSession struct {
	backend *captureBackend
	msg     captured
}

func (s *captureSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *captureSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != "flint" || password != "secret" {
			return errors.New("invalid credentials")
		}
		s.msg.user = username
		return nil
	}), nil
}

func (s *captureSession) Mail(from string, opts *smtp.MailOptions) error {
	s.msg.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if to == s.backend.rejectTo {
		return &smtp.SMTPError{Code: 550, Message: "mailbox unavailable"}
	}
	s.msg.to = append(s.msg.to, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.data = string(b)
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.msg)
	s.backend.mu.Unlock()
	return nil
}

func (s *captureSession) Reset() {
	s.msg = captured{user: s.msg.user}
}

func (s *captureSession) Logout() error {
	return nil
}

func startServer(t *testing.T, be *captureBackend) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().(*net.TCPAddr).Port
}

func testNotice() LeadNotice {
	return LeadNotice{
		OwnerEmail:   "owner@example.com",
		CampaignName: "Greeting",
		LeadEmail:    "ada@example.com",
		LeadName:     "Ada",
		CompletedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Answers:      []Answer{{Question: "What is your name?", Value: "Ada"}},
		Outputs:      map[string]string{"greeting": "Hello Ada!"},
		DashboardURL: "https://flint.example.com/campaigns/1/leads",
	}
}

func newTestNotifier(port int, signer *Signer) *SMTPNotifier {
	return NewSMTPNotifier(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "flint",
		Password: "secret",
		From:     "noreply@flint.example.com",
		Timeout:  5 * time.Second,
	}, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRender(t *testing.T) {
	r, err := Render(testNotice())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if r.Subject != "New lead for Greeting: Ada" {
		t.Errorf("Subject = %q", r.Subject)
	}
	for _, want := range []string{"Email: ada@example.com", "- What is your name?: Ada", "- greeting: Hello Ada!", "View all leads"} {
		if !strings.Contains(r.Text, want) {
			t.Errorf("Text missing %q:\n%s", want, r.Text)
		}
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	n := testNotice()
	n.Answers = []Answer{{Question: "Bio", Value: "<script>alert(1)</script>"}}

	r, err := Render(n)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(r.HTML, "<script>") {
		t.Errorf("HTML contains unescaped answer:\n%s", r.HTML)
	}
	if !strings.Contains(r.Text, "<script>") {
		t.Errorf("Text should keep the raw answer")
	}
}

func TestSMTPNotifierDelivers(t *testing.T) {
	be := &captureBackend{}
	port := startServer(t, be)

	n := newTestNotifier(port, nil)
	if err := n.NotifyLead(context.Background(), testNotice()); err != nil {
		t.Fatalf("NotifyLead: %v", err)
	}

	msgs := be.received()
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.user != "flint" {
		t.Errorf("user = %q, want flint", m.user)
	}
	if m.from != "noreply@flint.example.com" {
		t.Errorf("from = %q", m.from)
	}
	if len(m.to) != 1 || m.to[0] != "owner@example.com" {
		t.Errorf("to = %v", m.to)
	}
	if !strings.Contains(m.data, "multipart/alternative") {
		t.Errorf("message is not multipart/alternative:\n%s", m.data)
	}
	if !strings.Contains(m.data, "Subject: New lead for Greeting: Ada") {
		t.Errorf("message missing subject:\n%s", m.data)
	}
}

func TestSMTPNotifierSignsWithDKIM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	be := &captureBackend{}
	port := startServer(t, be)

	n := newTestNotifier(port, NewSigner(key, "flint.example.com", "flint"))
	if err := n.NotifyLead(context.Background(), testNotice()); err != nil {
		t.Fatalf("NotifyLead: %v", err)
	}

	msgs := be.received()
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].data, "DKIM-Signature:") {
		t.Errorf("message is not signed:\n%s", msgs[0].data[:200])
	}
	if !strings.Contains(msgs[0].data, "d=flint.example.com") {
		t.Errorf("signature missing domain")
	}
}

func TestSMTPNotifierPermanentFailure(t *testing.T) {
	be := &captureBackend{rejectTo: "owner@example.com"}
	port := startServer(t, be)

	err := newTestNotifier(port, nil).NotifyLead(context.Background(), testNotice())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTemporaryError(err) {
		t.Errorf("550 should be permanent: %v", err)
	}
}

func TestSMTPNotifierConnectionFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	err = newTestNotifier(port, nil).NotifyLead(context.Background(), testNotice())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTemporaryError(err) {
		t.Errorf("connection failure should be temporary: %v", err)
	}
}

func TestSMTPNotifierSkipsMissingOwner(t *testing.T) {
	n := newTestNotifier(1, nil)
	notice := testNotice()
	notice.OwnerEmail = ""
	if err := n.NotifyLead(context.Background(), notice); err != nil {
		t.Errorf("NotifyLead = %v, want nil", err)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err       error
		temporary bool
	}{
		{errors.New("550 5.1.1 user unknown"), false},
		{errors.New("451 4.7.1 try again later"), true},
		{errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		if got := categorizeError(tt.err, "RCPT").Temporary; got != tt.temporary {
			t.Errorf("categorizeError(%q).Temporary = %v, want %v", tt.err, got, tt.temporary)
		}
	}
}
