package notification

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sesv2"
	"github.com/aws/aws-sdk-go/service/sesv2/sesv2iface"
	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
)

type captureTransport struct {
	from       string
	recipients []string
	raw        []byte
	err        error
}

func (c *captureTransport) Deliver(_ context.Context, from string, recipients []string, raw []byte) error {
	c.from, c.recipients, c.raw = from, recipients, raw
	return c.err
}

func testNotification() *models.Notification {
	return &models.Notification{
		From:     "images@example.com",
		To:       []string{"agent@example.com", "agent@example.com"},
		Subject:  "Villa 12345",
		HTMLBody: `<p>hello</p><img src="cid:image1.jpg">`,
		TextBody: "hello",
		Inlines: []models.InlineImage{
			{Data: []byte{0xff, 0xd8, 0xff, 0xe0}, ContentType: "image/jpeg", FileName: "image1.jpg", ContentID: "image1.jpg"},
		},
	}
}

func TestMailRelay_SendBuildsInlineMessage(t *testing.T) {
	transport := &captureTransport{}
	relay := NewMailRelay(transport)

	require.NoError(t, relay.Send(context.Background(), testNotification()))
	assert.Equal(t, "images@example.com", transport.from)
	assert.Equal(t, []string{"agent@example.com"}, transport.recipients)

	env, err := enmime.ReadEnvelope(bytes.NewReader(transport.raw))
	require.NoError(t, err)
	assert.Equal(t, "Villa 12345", env.GetHeader("Subject"))
	assert.Contains(t, env.HTML, "cid:image1.jpg")
	require.Len(t, env.Inlines, 1)
	assert.Equal(t, "image1.jpg", env.Inlines[0].FileName)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, env.Inlines[0].Content)
}

func TestMailRelay_Validation(t *testing.T) {
	relay := NewMailRelay(&captureTransport{})
	ctx := context.Background()

	n := testNotification()
	n.To = nil
	assert.ErrorIs(t, relay.Send(ctx, n), ErrNoRecipients)

	n = testNotification()
	n.From = "not-an-address"
	assert.ErrorIs(t, relay.Send(ctx, n), ErrInvalidSender)

	n = testNotification()
	n.HTMLBody, n.TextBody = "", ""
	assert.ErrorIs(t, relay.Send(ctx, n), ErrEmptyBody)
}

func TestMailRelay_TransportError(t *testing.T) {
	boom := errors.New("relay down")
	relay := NewMailRelay(&captureTransport{err: boom})

	assert.ErrorIs(t, relay.Send(context.Background(), testNotification()), boom)
}

type fakeSES struct {
	sesv2iface.SESV2API
	input *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmailWithContext(_ aws.Context, in *sesv2.SendEmailInput, _ ...request.Option) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESTransport_SendsRawContent(t *testing.T) {
	client := &fakeSES{}
	transport := NewSESTransport(client)

	require.NoError(t, transport.Deliver(context.Background(), "images@example.com", []string{"agent@example.com"}, []byte("raw")))
	require.NotNil(t, client.input)
	assert.Equal(t, "images@example.com", aws.StringValue(client.input.FromEmailAddress))
	assert.Equal(t, []string{"agent@example.com"}, aws.StringValueSlice(client.input.Destination.ToAddresses))
	assert.Equal(t, []byte("raw"), client.input.Content.Raw.Data)
}

type blockingSender struct {
	release chan struct{}
}

func (b *blockingSender) Send(string, []string, []byte) error {
	<-b.release
	return nil
}

func TestSMTPTransport_HonoursContext(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	defer close(sender.release)
	transport := NewSenderTransport(sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := transport.Deliver(ctx, "a@example.com", []string{"b@example.com"}, []byte("raw"))
	require.Error(t, err)
	assert.True(t, imagestack_errors.IsTransient(err))
}
