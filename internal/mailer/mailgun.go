package mailer

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

type mailgunSender struct {
	mg *mailgun.MailgunImpl
}

func newMailgunSender(s MailgunSettings) (*mailgunSender, *xerr.Error) {
	if s.Domain == "" || s.APIKey == "" {
		return nil, xerr.NewError(fmt.Errorf("mailgun domain and api key are required"), "configure mailgun", nil)
	}
	mg := mailgun.NewMailgun(s.Domain, s.APIKey)
	if s.APIBase != "" {
		mg.SetAPIBase(s.APIBase)
	}
	return &mailgunSender{mg: mg}, nil
}

func (m *mailgunSender) Send(ctx context.Context, msg Message) *xerr.Error {
	message := m.mg.NewMessage(msg.From, msg.Subject, msg.Text, msg.To...)
	message.SetHtml(msg.HTML)
	for _, a := range msg.Attachments {
		message.AddBufferAttachment(a.Filename, a.Data)
	}
	status, id, err := m.mg.Send(ctx, message)
	if err != nil {
		return xerr.NewError(err, "send email via mailgun", map[string]any{"domain": m.mg.Domain()})
	}
	tl.Log(tl.Verbose, palette.BlueDim, "Mailgun accepted message '%s': %s", id, status)
	return nil
}
