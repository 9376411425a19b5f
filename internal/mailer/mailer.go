// Package mailer builds the report email and delivers it through one of the
// supported providers.
package mailer

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

type Provider string

const (
	ProviderNone     Provider = "none"
	ProviderMailgun  Provider = "mailgun"
	ProviderSendGrid Provider = "sendgrid"
	ProviderSES      Provider = "ses"
	ProviderSMTP     Provider = "smtp"
)

// XLSXContentType is the MIME type of the report attachment.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type MailgunSettings struct {
	Domain  string
	APIKey  string
	APIBase string
}

type SendGridSettings struct {
	APIKey string
	Host   string
}

type SESSettings struct {
	Region string
}

type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Settings is everything needed to compose and send the report email.
type Settings struct {
	Provider      Provider
	From          string
	Recipients    []string
	SubjectPrefix string
	Greeting      string
	Signature     string

	Mailgun  MailgunSettings
	SendGrid SendGridSettings
	SES      SESSettings
	SMTP     SMTPSettings
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) *xerr.Error
}

// ParseRecipients splits a semicolon-delimited address list, trimming
// whitespace and dropping empty entries.
func ParseRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Subject formats "<prefix> - January 02, 2006" for the given day.
func Subject(prefix string, now time.Time) string {
	return fmt.Sprintf("%s - %s", prefix, now.Format("January 02, 2006"))
}

func renderHTML(greeting, signature string, now time.Time) string {
	var b strings.Builder
	b.WriteString("<html>\n<body>\n")
	fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(greeting))
	fmt.Fprintf(&b, "<p>This report was generated on: %s</p>\n", now.Format("2006-01-02 15:04:05"))
	b.WriteString("<br>\n")
	sig := html.EscapeString(strings.ReplaceAll(signature, "\r\n", "\n"))
	fmt.Fprintf(&b, "<p>%s</p>\n", strings.ReplaceAll(sig, "\n", "<br>"))
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func renderText(greeting, signature string, now time.Time) string {
	return fmt.Sprintf("%s\n\nThis report was generated on: %s\n\n%s\n", greeting, now.Format("2006-01-02 15:04:05"), signature)
}

// BuildReportMessage composes the report email with the workbook at
// attachmentPath attached.
func BuildReportMessage(s Settings, attachmentPath string, now time.Time) (msg Message, e *xerr.Error) {
	data, err := os.ReadFile(attachmentPath)
	if err != nil {
		return msg, xerr.NewError(err, "read report attachment", attachmentPath)
	}
	msg = Message{
		From:    s.From,
		To:      s.Recipients,
		Subject: Subject(s.SubjectPrefix, now),
		Text:    renderText(s.Greeting, s.Signature, now),
		HTML:    renderHTML(s.Greeting, s.Signature, now),
		Attachments: []Attachment{{
			Filename:    filepath.Base(attachmentPath),
			ContentType: XLSXContentType,
			Data:        data,
		}},
	}
	return msg, nil
}

// NewSender returns the Sender for s.Provider.
func NewSender(ctx context.Context, s Settings) (sender Sender, e *xerr.Error) {
	switch s.Provider {
	case ProviderMailgun:
		return newMailgunSender(s.Mailgun)
	case ProviderSendGrid:
		return newSendGridSender(s.SendGrid)
	case ProviderSES:
		return newSESSender(ctx, s.SES)
	case ProviderSMTP:
		return newSMTPSender(s.SMTP)
	default:
		return nil, xerr.NewError(fmt.Errorf("unknown email provider '%s'", s.Provider), "select email provider", nil)
	}
}

// SendReport emails the workbook at attachmentPath to the configured
// recipients. No recipients or the "none" provider skip sending.
func SendReport(ctx context.Context, s Settings, attachmentPath string, now time.Time) *xerr.Error {
	if len(s.Recipients) == 0 {
		tl.Log(tl.Info, palette.Blue, "%s", "No email recipients configured, skipping email")
		return nil
	}
	if s.Provider == "" || s.Provider == ProviderNone {
		tl.Log(tl.Info, palette.Blue, "Email provider is '%s', skipping email to %s", ProviderNone, strings.Join(s.Recipients, ", "))
		return nil
	}
	if strings.TrimSpace(s.From) == "" {
		return xerr.NewError(fmt.Errorf("sender address is empty"), "prepare report email", nil)
	}

	msg, e := BuildReportMessage(s, attachmentPath, now)
	if e != nil {
		return e
	}
	sender, e := NewSender(ctx, s)
	if e != nil {
		return e
	}
	tl.Log(tl.Info, palette.Cyan, "Sending '%s' via %s to %s", msg.Subject, s.Provider, strings.Join(msg.To, ", "))
	if e := sender.Send(ctx, msg); e != nil {
		return e
	}
	tl.Log(tl.Info1, palette.Green, "Report email sent to %d recipient(s)", len(msg.To))
	return nil
}
