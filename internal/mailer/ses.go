package mailer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type sesSender struct {
	client sesAPI
	now    func() time.Time
}

// newSESSender uses the AWS default credential chain.
func newSESSender(ctx context.Context, s SESSettings) (*sesSender, *xerr.Error) {
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, xerr.NewError(err, "load aws config", s.Region)
	}
	return &sesSender{client: sesv2.NewFromConfig(cfg), now: time.Now}, nil
}

func (s *sesSender) Send(ctx context.Context, msg Message) *xerr.Error {
	raw, err := BuildMIME(msg, s.now())
	if err != nil {
		return xerr.NewError(err, "build raw email", nil)
	}
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	})
	if err != nil {
		return xerr.NewError(err, "send email via ses", nil)
	}
	tl.Log(tl.Verbose, palette.BlueDim, "SES accepted message '%s'", aws.ToString(out.MessageId))
	return nil
}
