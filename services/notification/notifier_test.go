package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/internal/enum"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/services/storage"
)

type recordingRelay struct {
	sent []*models.Notification
	err  error
}

func (r *recordingRelay) Send(_ context.Context, n *models.Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

func notifyConfig() *config.NotificationConfig {
	return &config.NotificationConfig{
		Enabled:         true,
		FromAddress:     "images@example.com",
		ToAddresses:     []string{"agent@example.com"},
		SubjectFallback: "Property images",
		AttachImages:    true,
		MaxInline:       10,
		Timeout:         time.Second,
	}
}

func TestNotifier_InlinesArchivedImagesAndSkipsExpired(t *testing.T) {
	ctx := context.Background()
	archive := storage.NewMemoryBlobArchive(0)
	kept, err := archive.Put(ctx, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, "image/png")
	require.NoError(t, err)

	record := &models.PropertyRecord{ID: "12345", Images: []models.ImageRef{
		{Key: "sha256/00/00/expired", ContentHash: "expired", ContentType: "image/jpeg", Source: enum.ImageSourceEmail},
		{Key: kept.Key, ContentHash: kept.ContentHash, ContentType: "image/png", Source: enum.ImageSourceEmail},
	}}

	relay := &recordingRelay{}
	notifier := NewNotifier(relay, archive, notifyConfig(), logger.NewNopLogger())
	notifier.NotifyIngested(ctx, &models.ParsedMessage{Subject: ""}, &models.IngestResult{
		PropertyID: "12345",
		Outcome:    enum.IngestStored,
		NewImages:  1,
		Record:     record,
	})

	require.Len(t, relay.sent, 1)
	sent := relay.sent[0]
	assert.Equal(t, "Property images", sent.Subject)
	require.Len(t, sent.Inlines, 1)
	assert.Equal(t, "image1.png", sent.Inlines[0].FileName)
	assert.Contains(t, sent.HTMLBody, "cid:image1.png")
	assert.Contains(t, sent.TextBody, "Property 12345")
}

func TestNotifier_UsesInboundSubjectAndHTML(t *testing.T) {
	relay := &recordingRelay{}
	notifier := NewNotifier(relay, storage.NewMemoryBlobArchive(0), notifyConfig(), logger.NewNopLogger())

	notifier.NotifyIngested(context.Background(),
		&models.ParsedMessage{Subject: "Villa Solbacken", HTML: "<p>original</p>"},
		&models.IngestResult{PropertyID: "p1", Record: models.NewPropertyRecord("p1")})

	require.Len(t, relay.sent, 1)
	assert.Equal(t, "Villa Solbacken", relay.sent[0].Subject)
	assert.Equal(t, "<p>original</p>", relay.sent[0].HTMLBody)
}

func TestNotifier_SwallowsRelayErrors(t *testing.T) {
	relay := &recordingRelay{err: errors.New("ses down")}
	notifier := NewNotifier(relay, nil, notifyConfig(), logger.NewNopLogger())

	assert.NotPanics(t, func() {
		notifier.NotifyIngested(context.Background(), nil, &models.IngestResult{PropertyID: "p1"})
	})
	assert.Len(t, relay.sent, 1)
}

func TestNotifier_Disabled(t *testing.T) {
	cfg := notifyConfig()
	cfg.Enabled = false
	relay := &recordingRelay{}
	NewNotifier(relay, nil, cfg, logger.NewNopLogger()).
		NotifyIngested(context.Background(), nil, &models.IngestResult{PropertyID: "p1"})
	assert.Empty(t, relay.sent)
}
