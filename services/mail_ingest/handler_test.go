package mail_ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/repository"
	"github.com/customeros/imagestack/internal/retry"
	"github.com/customeros/imagestack/services/fetcher"
	"github.com/customeros/imagestack/services/images"
	"github.com/customeros/imagestack/services/notification"
	"github.com/customeros/imagestack/services/storage"
)

var testPolicy = retry.Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Factor: 2}

type countingArchive struct {
	interfaces.BlobArchive
	puts int
}

func (c *countingArchive) Put(ctx context.Context, data []byte, contentType string) (*models.BlobPutResult, error) {
	c.puts++
	return c.BlobArchive.Put(ctx, data, contentType)
}

type recordingPublisher struct {
	events []dto.PropertyImagesUpdated
}

func (r *recordingPublisher) PublishPropertyImagesUpdated(_ context.Context, message dto.PropertyImagesUpdated) error {
	r.events = append(r.events, message)
	return nil
}

type recordingRelay struct {
	sent []*models.Notification
	err  error
}

func (r *recordingRelay) Send(_ context.Context, n *models.Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type fixture struct {
	handler   *Handler
	store     interfaces.PropertyImageStore
	archive   *countingArchive
	publisher *recordingPublisher
	relay     *recordingRelay
}

func ingestConfig(rule enum.PropertyIDRule) *config.MailIngestConfig {
	return &config.MailIngestConfig{
		PropertyIDRule:         rule,
		PropertyIDPattern:      `https://bilder.hemnet.se/images/itemgallery.+?([a-z0-9]+).jpg`,
		PropertyIDValidPattern: `^[A-Za-z0-9_-]{1,100}$`,
		MaxMessageBytes:        1 << 20,
	}
}

func newFixture(t *testing.T, cfg *config.MailIngestConfig, opts ...HandlerOption) *fixture {
	t.Helper()
	resolver, err := NewResolverFromConfig(cfg)
	require.NoError(t, err)

	store := repository.NewMemoryPropertyRepository(0)
	archive := &countingArchive{BlobArchive: storage.NewMemoryBlobArchive(0)}
	publisher := &recordingPublisher{}
	relay := &recordingRelay{}
	notifier := notification.NewNotifier(relay, archive, &config.NotificationConfig{
		Enabled:         true,
		FromAddress:     "images@example.com",
		ToAddresses:     []string{"agent@example.com"},
		SubjectFallback: "Property images",
		AttachImages:    true,
		MaxInline:       10,
		Timeout:         time.Second,
	}, logger.NewNopLogger())

	opts = append([]HandlerOption{WithNotifier(notifier), WithPublisher(publisher), WithRetryPolicy(testPolicy)}, opts...)
	writer := images.NewWriter(store, archive, testPolicy, true)
	return &fixture{
		handler:   NewHandler(cfg, resolver, writer, logger.NewNopLogger(), opts...),
		store:     store,
		archive:   archive,
		publisher: publisher,
		relay:     relay,
	}
}

type attachment struct {
	name string
	data string
}

func buildMessage(t *testing.T, to, subject, html string, attachments ...attachment) []byte {
	t.Helper()
	b := enmime.Builder().
		From("Listing Agent", "agent@broker.example").
		To("", to).
		Subject(subject).
		Date(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)).
		Header("Message-ID", "<"+subject+"@broker.example>").
		Text([]byte("see attached"))
	if html != "" {
		b = b.HTML([]byte(html))
	}
	for _, a := range attachments {
		b = b.AddAttachment([]byte(a.data), "image/jpeg", a.name)
	}
	root, err := b.Build()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, root.Encode(&buf))
	return buf.Bytes()
}

func ingestEvent(raw []byte, recipient string) models.IngestEvent {
	return models.IngestEvent{
		SenderAddress:    "agent@broker.example",
		RecipientAddress: recipient,
		RawMessage:       raw,
		ReceivedAt:       time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
		Transport:        enum.IngestTransportHTTP,
	}
}

func hashesOf(record *models.PropertyRecord) []string {
	out := make([]string, 0, len(record.Images))
	for _, img := range record.Images {
		out = append(out, img.ContentHash)
	}
	return out
}

func TestHandle_StoresAttachmentsAndIsIdempotent(t *testing.T) {
	f := newFixture(t, ingestConfig(enum.PropertyIDRuleRecipient))
	ctx := context.Background()
	raw := buildMessage(t, "images+12345@inbound.example", "Villa", "",
		attachment{"a.jpg", "image-A"}, attachment{"b.jpg", "image-B"})
	event := ingestEvent(raw, "images+12345@inbound.example")

	first, err := f.handler.Handle(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, enum.IngestStored, first.Outcome)
	assert.Equal(t, "12345", first.PropertyID)
	assert.Equal(t, 2, first.NewImages)
	assert.Equal(t, 2, f.archive.puts)

	second, err := f.handler.Handle(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, enum.IngestStored, second.Outcome)
	assert.Equal(t, 0, second.NewImages)
	assert.Equal(t, 2, second.DuplicateImages)
	assert.Equal(t, 2, f.archive.puts)

	record, err := f.store.Get(ctx, "12345")
	require.NoError(t, err)
	assert.Len(t, record.Images, 2)

	assert.Len(t, f.publisher.events, 1, "only the first delivery adds images")
	assert.Len(t, f.relay.sent, 2)
	assert.Equal(t, "Villa", f.relay.sent[0].Subject)
}

func TestHandle_SecondMailAppendsOnlyNewImages(t *testing.T) {
	f := newFixture(t, ingestConfig(enum.PropertyIDRuleRecipient))
	ctx := context.Background()
	recipient := "images+12345@inbound.example"

	_, err := f.handler.Handle(ctx, ingestEvent(buildMessage(t, recipient, "first", "",
		attachment{"a.jpg", "image-A"}, attachment{"b.jpg", "image-B"}), recipient))
	require.NoError(t, err)
	first, err := f.store.Get(ctx, "12345")
	require.NoError(t, err)

	result, err := f.handler.Handle(ctx, ingestEvent(buildMessage(t, recipient, "second", "",
		attachment{"b.jpg", "image-B"}, attachment{"c.jpg", "image-C"}), recipient))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewImages)
	assert.Equal(t, 1, result.DuplicateImages)

	record, err := f.store.Get(ctx, "12345")
	require.NoError(t, err)
	require.Len(t, record.Images, 3)
	assert.Equal(t, hashesOf(first), hashesOf(record)[:2])
	assert.False(t, record.LastUpdated.Before(first.LastUpdated))
}

func TestHandle_ResolvesPropertyFromGalleryURLInBody(t *testing.T) {
	f := newFixture(t, ingestConfig(enum.PropertyIDRuleBody))
	html := `<p>New listing</p><img src="https://bilder.hemnet.se/images/itemgallery_L/ab/cd/abc123.jpg">`
	raw := buildMessage(t, "images@inbound.example", "listing", html, attachment{"a.jpg", "image-A"})

	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images@inbound.example"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", result.PropertyID)
	assert.Contains(t, f.relay.sent[0].HTMLBody, "abc123.jpg")
}

func TestHandle_MalformedMessageHasNoSideEffects(t *testing.T) {
	f := newFixture(t, ingestConfig(enum.PropertyIDRuleRecipient))

	result, err := f.handler.Handle(context.Background(), ingestEvent([]byte("\x00\x01 not a mail"), "images+12345@inbound.example"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, imagestack_errors.ErrMalformedMessage))
	assert.Equal(t, imagestack_errors.KindParse, imagestack_errors.KindOf(err))
	assert.Equal(t, enum.IngestRejected, result.Outcome)
	assert.Equal(t, enum.RejectMalformedMessage, result.RejectReason)

	assert.Zero(t, f.archive.puts)
	assert.Empty(t, f.relay.sent)
	_, err = f.store.Get(context.Background(), "12345")
	assert.True(t, imagestack_errors.IsNotFound(err))
}

func TestHandle_OversizedMessageIsMalformed(t *testing.T) {
	cfg := ingestConfig(enum.PropertyIDRuleRecipient)
	cfg.MaxMessageBytes = 16
	f := newFixture(t, cfg)
	raw := buildMessage(t, "images+12345@inbound.example", "Villa", "", attachment{"a.jpg", "image-A"})

	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images+12345@inbound.example"))
	require.Error(t, err)
	assert.Equal(t, enum.RejectMalformedMessage, result.RejectReason)
	assert.Zero(t, f.archive.puts)
}

func TestHandle_UnknownProperty(t *testing.T) {
	f := newFixture(t, ingestConfig(enum.PropertyIDRuleSubject))
	raw := buildMessage(t, "images@inbound.example", "no id here", "", attachment{"a.jpg", "image-A"})

	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images@inbound.example"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, imagestack_errors.ErrUnknownProperty))
	assert.Equal(t, enum.RejectUnknownProperty, result.RejectReason)
	assert.Zero(t, f.archive.puts)
	assert.Empty(t, f.publisher.events)
}

func TestHandle_RequireExistingProperty(t *testing.T) {
	cfg := ingestConfig(enum.PropertyIDRuleRecipient)
	cfg.RequireExistingProperty = true
	f := newFixture(t, cfg)
	raw := buildMessage(t, "images+999@inbound.example", "Villa", "", attachment{"a.jpg", "image-A"})

	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images+999@inbound.example"))
	require.Error(t, err)
	assert.True(t, imagestack_errors.IsNotFound(err))
	assert.Equal(t, enum.RejectUnknownProperty, result.RejectReason)
	assert.Zero(t, f.archive.puts)
}

func TestHandle_NoImagesFound(t *testing.T) {
	f := newFixture(t, ingestConfig(enum.PropertyIDRuleRecipient))
	raw := buildMessage(t, "images+12345@inbound.example", "Villa", "")

	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images+12345@inbound.example"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, imagestack_errors.ErrNoImagesFound))
	assert.Equal(t, enum.IngestRejected, result.Outcome)
	assert.Equal(t, enum.RejectNoImagesFound, result.RejectReason)
	_, err = f.store.Get(context.Background(), "12345")
	assert.True(t, imagestack_errors.IsNotFound(err))
}

func TestHandle_NotificationFailureDoesNotFailIngest(t *testing.T) {
	f := newFixture(t, ingestConfig(enum.PropertyIDRuleRecipient))
	f.relay.err = imagestack_errors.Transient("relay", errors.New("smtp down"))
	raw := buildMessage(t, "images+12345@inbound.example", "Villa", "", attachment{"a.jpg", "image-A"})

	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images+12345@inbound.example"))
	require.NoError(t, err)
	assert.Equal(t, enum.IngestStored, result.Outcome)
	assert.Len(t, f.relay.sent, 1)
}

func TestHandle_FetchesLinkedImages(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpeg)
		case "/down.jpg":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	imageFetcher, err := fetcher.NewImageFetcher(&config.FetchConfig{Timeout: time.Second, MaxBytes: 1 << 20})
	require.NoError(t, err)

	cfg := ingestConfig(enum.PropertyIDRuleRecipient)
	cfg.FetchLinkedImages = true
	f := newFixture(t, cfg, WithLinkedImages(imageFetcher, nil))

	html := `<img src="` + srv.URL + `/photo.jpg"><img src="` + srv.URL + `/missing.jpg">`
	raw := buildMessage(t, "images+12345@inbound.example", "Villa", html)
	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images+12345@inbound.example"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewImages)
	require.Len(t, result.Record.Images, 1)
	assert.Equal(t, srv.URL+"/photo.jpg", result.Record.Images[0].Origin)

	html = `<img src="` + srv.URL + `/down.jpg">`
	raw = buildMessage(t, "images+12345@inbound.example", "Villa", html)
	result, err = f.handler.Handle(context.Background(), ingestEvent(raw, "images+12345@inbound.example"))
	require.Error(t, err)
	assert.True(t, imagestack_errors.IsTransient(err))
	assert.Equal(t, enum.IngestFailed, result.Outcome)
}

// galleryFetcher serves a distinct image for any URL.
type galleryFetcher struct {
	fetched []string
}

func (g *galleryFetcher) Fetch(_ context.Context, url string) (*models.FetchedImage, error) {
	g.fetched = append(g.fetched, url)
	return &models.FetchedImage{URL: url, Data: []byte("jpeg " + url), ContentType: "image/jpeg"}, nil
}

func (g *galleryFetcher) ExtractImageURLs(context.Context, string) ([]string, error) {
	return nil, nil
}

func TestHandle_DefaultConfigStoresLinkedGalleryImages(t *testing.T) {
	cfg, err := config.Load(map[string]string{
		"NOTIFY_FROM_ADDRESS":    "images@example.com",
		"NOTIFY_TO_ADDRESSES":    "agent@example.com",
		"FEED_SUBSCRIPTION_ID":   "sub-1",
		"PROPERTY_STORE_BACKEND": "memory",
		"BLOB_ARCHIVE_BACKEND":   "memory",
		"NOTIFY_BACKEND":         "none",
	})
	require.NoError(t, err)

	gallery := &galleryFetcher{}
	f := newFixture(t, cfg.MailIngestConfig, WithLinkedImages(gallery, regexp.MustCompile(cfg.FetchConfig.ImageURLPattern)))

	html := `<img src="https://www.hemnet.se/assets/logo.png">` +
		`<img src="https://bilder.hemnet.se/images/itemgallery_cut/4e/1a/4e1a9c0b2d.jpg">` +
		`<img src="https://bilder.hemnet.se/images/itemgallery_cut/77/02/4e1a9c0b2d.jpg">`
	raw := buildMessage(t, "images@inbound.example", "Villa Ekbacken", html)

	result, err := f.handler.Handle(context.Background(), ingestEvent(raw, "images@inbound.example"))
	require.NoError(t, err)
	assert.Equal(t, enum.IngestStored, result.Outcome)
	assert.Equal(t, "4e1a9c0b2d", result.PropertyID)
	assert.Equal(t, 2, result.NewImages)
	assert.Len(t, gallery.fetched, 2)
	assert.NotContains(t, gallery.fetched, "https://www.hemnet.se/assets/logo.png")
	assert.Len(t, f.relay.sent, 1)
}
