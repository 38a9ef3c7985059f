package notification

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/config"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/tracing"
)

type smtpTransport struct {
	sender enmime.Sender
}

// NewSMTPTransport delivers through an SMTP relay using enmime's sender.
func NewSMTPTransport(cfg *config.SMTPConfig) Transport {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &smtpTransport{sender: enmime.NewSMTP(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), auth)}
}

// NewSenderTransport wraps any enmime.Sender.
func NewSenderTransport(sender enmime.Sender) Transport {
	return &smtpTransport{sender: sender}
}

func (t *smtpTransport) Deliver(ctx context.Context, from string, recipients []string, raw []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "smtpTransport.Deliver")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	errCh := make(chan error, 1)
	go func() {
		errCh <- t.sender.Send(from, recipients, raw)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			err = imagestack_errors.Transient("smtpTransport.Deliver", err)
			tracing.TraceErr(span, err)
			return err
		}
		return nil
	case <-ctx.Done():
		err := imagestack_errors.Transient("smtpTransport.Deliver", ctx.Err())
		tracing.TraceErr(span, err)
		return err
	}
}
