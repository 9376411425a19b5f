package mailer

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

type sendGridSender struct {
	apiKey string
	host   string
}

func newSendGridSender(s SendGridSettings) (*sendGridSender, *xerr.Error) {
	if s.APIKey == "" {
		return nil, xerr.NewError(fmt.Errorf("sendgrid api key is required"), "configure sendgrid", nil)
	}
	host := s.Host
	if host == "" {
		host = sendGridHost
	}
	return &sendGridSender{apiKey: s.APIKey, host: host}, nil
}

func sendGridMail(msg Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", msg.From))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Text), mail.NewContent("text/html", msg.HTML))

	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m
}

func (s *sendGridSender) Send(ctx context.Context, msg Message) *xerr.Error {
	request := sendgrid.GetRequest(s.apiKey, sendGridEndpoint, s.host)
	request.Method = rest.Post
	request.Body = mail.GetRequestBody(sendGridMail(msg))

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return xerr.NewError(err, "send email via sendgrid", nil)
	}
	if response.StatusCode >= 300 {
		return xerr.NewError(fmt.Errorf("status is '%d'", response.StatusCode), "send email via sendgrid", response.Body)
	}
	tl.Log(tl.Verbose, palette.BlueDim, "SendGrid accepted message (status %d)", response.StatusCode)
	return nil
}
