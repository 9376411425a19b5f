package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

const defaultSMTPPort = 587

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpSender struct {
	addr     string
	auth     smtp.Auth
	sendMail sendMailFunc
	now      func() time.Time
}

func newSMTPSender(s SMTPSettings) (*smtpSender, *xerr.Error) {
	if s.Host == "" {
		return nil, xerr.NewError(fmt.Errorf("smtp host is required"), "configure smtp", nil)
	}
	port := s.Port
	if port == 0 {
		port = defaultSMTPPort
	}
	sender := &smtpSender{
		addr:     net.JoinHostPort(s.Host, strconv.Itoa(port)),
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
	if s.Username != "" {
		sender.auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return sender, nil
}

// Send ignores ctx cancellation once the SMTP exchange has started.
func (s *smtpSender) Send(ctx context.Context, msg Message) *xerr.Error {
	if err := ctx.Err(); err != nil {
		return xerr.NewError(err, "send email via smtp", s.addr)
	}
	raw, err := BuildMIME(msg, s.now())
	if err != nil {
		return xerr.NewError(err, "build raw email", nil)
	}
	if err := s.sendMail(s.addr, s.auth, msg.From, msg.To, raw); err != nil {
		return xerr.NewError(err, "send email via smtp", s.addr)
	}
	tl.Log(tl.Verbose, palette.BlueDim, "SMTP server %s accepted the message", s.addr)
	return nil
}
