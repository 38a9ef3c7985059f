package notification

import (
	"bytes"
	"context"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

var (
	ErrNoRecipients     = errors.New("notification has no recipients")
	ErrInvalidSender    = errors.New("notification sender is not a valid address")
	ErrInvalidAddress   = errors.New("notification recipient is not a valid address")
	ErrEmptyBody        = errors.New("notification must have either text or HTML content")
	ErrMissingTransport = errors.New("notification transport is not configured")
)

// Transport delivers an encoded RFC 5322 message.
type Transport interface {
	Deliver(ctx context.Context, from string, recipients []string, raw []byte) error
}

type mailRelay struct {
	transport Transport
}

// NewMailRelay builds MIME messages with enmime and hands them to transport.
func NewMailRelay(transport Transport) interfaces.NotificationRelay {
	return &mailRelay{transport: transport}
}

func (r *mailRelay) Send(ctx context.Context, notification *models.Notification) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRelay.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if r.transport == nil {
		return ErrMissingTransport
	}
	if err := validateNotification(notification); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	raw, err := BuildMessage(notification)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("bytes", len(raw), "inlines", len(notification.Inlines))

	recipients := utils.UniqueEmails(notification.To)
	if err := r.transport.Deliver(ctx, notification.From, recipients, raw); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func validateNotification(n *models.Notification) error {
	if n == nil || len(n.To) == 0 {
		return ErrNoRecipients
	}
	if !mailvalidate.ValidateEmailSyntax(n.From).IsValid {
		return ErrInvalidSender
	}
	for _, to := range n.To {
		if !mailvalidate.ValidateEmailSyntax(to).IsValid {
			return errors.Wrap(ErrInvalidAddress, to)
		}
	}
	if n.HTMLBody == "" && n.TextBody == "" {
		return ErrEmptyBody
	}
	return nil
}

// BuildMessage encodes a notification as a MIME message.
func BuildMessage(n *models.Notification) ([]byte, error) {
	builder := enmime.Builder().
		From("", n.From).
		Subject(n.Subject).
		Date(utils.Now())
	for _, to := range n.To {
		builder = builder.To("", to)
	}
	if n.MessageID != "" {
		builder = builder.Header("Message-ID", n.MessageID)
	}
	if n.TextBody != "" {
		builder = builder.Text([]byte(n.TextBody))
	}
	if n.HTMLBody != "" {
		builder = builder.HTML([]byte(n.HTMLBody))
	}
	for _, inline := range n.Inlines {
		builder = builder.AddInline(inline.Data, inline.ContentType, inline.FileName, inline.ContentID)
	}

	root, err := builder.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build notification message")
	}
	buf := &bytes.Buffer{}
	if err := root.Encode(buf); err != nil {
		return nil, errors.Wrap(err, "failed to encode notification message")
	}
	return buf.Bytes(), nil
}

type noopRelay struct{}

// NewNoopRelay accepts every notification and delivers nothing.
func NewNoopRelay() interfaces.NotificationRelay {
	return noopRelay{}
}

func (noopRelay) Send(context.Context, *models.Notification) error {
	return nil
}
