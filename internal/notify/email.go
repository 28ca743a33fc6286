package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"github.com/bakkerme/grailwatch/internal/match"
)

// MailMessage is a fully addressed HTML email ready to hand to a sender.
type MailMessage struct {
	From    string
	To      []string
	Subject string
	HTML    string
}

// MailSender delivers mail. The SMTP implementation lives in notify/smtp.
type MailSender interface {
	Send(ctx context.Context, msg MailMessage) error
}

// Email renders alerts as HTML mail and hands them to a MailSender.
type Email struct {
	sender    MailSender
	from      string
	to        []string
	subject   string
	converter goldmark.Markdown
}

// defaultEmailSubject prefixes alert subjects when none is configured.
const defaultEmailSubject = "grailwatch match"

func NewEmail(sender MailSender, from string, to []string, subject string) (*Email, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if strings.TrimSpace(subject) == "" {
		subject = defaultEmailSubject
	}
	return &Email{
		sender:  sender,
		from:    from,
		to:      to,
		subject: subject,
		// Hard wraps keep the one-line-per-field alert layout in HTML.
		converter: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(htmlrenderer.WithHardWraps()),
		),
	}, nil
}

func (e *Email) Name() string {
	return "email"
}

func (e *Email) Notify(ctx context.Context, m match.Match) error {
	var buf bytes.Buffer
	if err := e.converter.Convert([]byte(Message(m)), &buf); err != nil {
		return fmt.Errorf("render alert markdown: %w", err)
	}

	msg := MailMessage{
		From:    e.from,
		To:      e.to,
		Subject: fmt.Sprintf("%s: %s on %s", e.subject, m.Listing.Title, m.Listing.Site),
		HTML:    buf.String(),
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	return nil
}
