package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeMailSender struct {
	messages []MailMessage
	err      error
}

func (f *fakeMailSender) Send(_ context.Context, msg MailMessage) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func TestEmailRendersHTMLAlert(t *testing.T) {
	sender := &fakeMailSender{}
	e, err := NewEmail(sender, "watch@example.com", []string{"me@example.com"}, "")
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}

	if err := e.Notify(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.messages))
	}

	msg := sender.messages[0]
	if msg.From != "watch@example.com" || len(msg.To) != 1 || msg.To[0] != "me@example.com" {
		t.Fatalf("unexpected addressing: %+v", msg)
	}
	if msg.Subject != "grailwatch match: Vintage bomber on Grailed" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "<strong>Site:</strong>") {
		t.Fatalf("expected markdown rendered to HTML, got %q", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "https://www.grailed.com/listing/1") {
		t.Fatalf("expected listing URL in body, got %q", msg.HTML)
	}
}

func TestEmailCustomSubjectPrefix(t *testing.T) {
	sender := &fakeMailSender{}
	e, err := NewEmail(sender, "", []string{"me@example.com"}, "Grail alert")
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}
	if err := e.Notify(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.messages[0].Subject; got != "Grail alert: Vintage bomber on Grailed" {
		t.Fatalf("unexpected subject: %q", got)
	}
}

func TestEmailSenderFailureWrapped(t *testing.T) {
	sender := &fakeMailSender{err: errors.New("smtp: 550 relay denied")}
	e, err := NewEmail(sender, "", []string{"me@example.com"}, "")
	if err != nil {
		t.Fatalf("NewEmail: %v", err)
	}
	err = e.Notify(context.Background(), sampleMatch())
	if err == nil || !strings.Contains(err.Error(), "relay denied") {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}
}

func TestNewEmailValidation(t *testing.T) {
	if _, err := NewEmail(nil, "", []string{"me@example.com"}, ""); err == nil {
		t.Fatal("expected error for nil sender")
	}
	if _, err := NewEmail(&fakeMailSender{}, "", nil, ""); err == nil {
		t.Fatal("expected error for missing recipients")
	}
}
