package notification

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sesv2"
	"github.com/aws/aws-sdk-go/service/sesv2/sesv2iface"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/imagestack/internal/awsutil"
	"github.com/customeros/imagestack/internal/tracing"
)

type sesTransport struct {
	client sesv2iface.SESV2API
}

// NewSESTransport delivers raw messages through the SES v2 SendEmail API.
func NewSESTransport(client sesv2iface.SESV2API) Transport {
	return &sesTransport{client: client}
}

func (t *sesTransport) Deliver(ctx context.Context, from string, recipients []string, raw []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sesTransport.Deliver")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	out, err := t.client.SendEmailWithContext(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &sesv2.Destination{
			ToAddresses: aws.StringSlice(recipients),
		},
		Content: &sesv2.EmailContent{
			Raw: &sesv2.RawMessage{Data: raw},
		},
	})
	if err != nil {
		err = awsutil.ClassifyError("sesTransport.Deliver", err)
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("messageId", aws.StringValue(out.MessageId))
	return nil
}
