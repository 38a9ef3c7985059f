package notification

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

// Notifier sends the ingestion confirmation mail. Failures are logged, never returned.
type Notifier struct {
	relay   interfaces.NotificationRelay
	archive interfaces.BlobArchive
	cfg     *config.NotificationConfig
	log     logger.Logger
}

func NewNotifier(relay interfaces.NotificationRelay, archive interfaces.BlobArchive, cfg *config.NotificationConfig, log logger.Logger) *Notifier {
	return &Notifier{relay: relay, archive: archive, cfg: cfg, log: log}
}

// Enabled reports whether confirmations are configured to be sent.
func (n *Notifier) Enabled() bool {
	return n != nil && n.cfg != nil && n.cfg.Enabled && n.relay != nil
}

// NotifyIngested mails the outcome of an ingested message to the configured recipients.
func (n *Notifier) NotifyIngested(ctx context.Context, parsed *models.ParsedMessage, result *models.IngestResult) {
	if !n.Enabled() || result == nil {
		return
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "Notifier.NotifyIngested")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProperty(span, result.PropertyID)

	timeout := n.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	notification := n.compose(ctx, parsed, result)
	if err := n.relay.Send(ctx, notification); err != nil {
		tracing.TraceErr(span, err)
		n.log.With(
			zap.String("propertyId", result.PropertyID),
			zap.String("kind", imagestack_errors.KindOf(err).String()),
		).Warnf("confirmation mail not sent: %v", err)
		return
	}
	span.LogKV("inlines", len(notification.Inlines))
}

func (n *Notifier) compose(ctx context.Context, parsed *models.ParsedMessage, result *models.IngestResult) *models.Notification {
	subject := n.cfg.SubjectFallback
	if parsed != nil && strings.TrimSpace(parsed.Subject) != "" {
		subject = parsed.Subject
	}

	notification := &models.Notification{
		From:      n.cfg.FromAddress,
		To:        n.cfg.ToAddresses,
		Subject:   subject,
		TextBody:  summaryText(result),
		MessageID: utils.GenerateMessageID(utils.ExtractDomainFromEmail(n.cfg.FromAddress), result.PropertyID),
	}
	if n.cfg.AttachImages {
		notification.Inlines = n.collectInlines(ctx, result.Record)
	}

	if parsed != nil && parsed.HTML != "" {
		notification.HTMLBody = parsed.HTML
	} else {
		notification.HTMLBody = summaryHTML(result, notification.Inlines)
	}
	return notification
}

// collectInlines loads archived blobs for the record; expired blobs are skipped.
func (n *Notifier) collectInlines(ctx context.Context, record *models.PropertyRecord) []models.InlineImage {
	if record == nil || n.archive == nil {
		return nil
	}
	inlines := make([]models.InlineImage, 0, len(record.Images))
	for _, ref := range record.Images {
		if n.cfg.MaxInline > 0 && len(inlines) >= n.cfg.MaxInline {
			break
		}
		data, err := n.archive.Get(ctx, ref.Key)
		if err != nil {
			if !imagestack_errors.IsNotFound(err) {
				n.log.Warnf("failed to load blob %s for property %s: %v", ref.Key, record.ID, err)
			}
			continue
		}
		contentType := utils.DetectImageContentType(ref.ContentType, data)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		name := fmt.Sprintf("image%d.%s", len(inlines)+1, utils.GetFileExtensionFromContentType(contentType))
		inlines = append(inlines, models.InlineImage{
			Data:        data,
			ContentType: contentType,
			FileName:    name,
			ContentID:   name,
		})
	}
	return inlines
}

func summaryText(result *models.IngestResult) string {
	total := 0
	if result.Record != nil {
		total = len(result.Record.Images)
	}
	return fmt.Sprintf("Property %s: %d new image(s), %d duplicate(s), %d image(s) archived in total.",
		result.PropertyID, result.NewImages, result.DuplicateImages, total)
}

func summaryHTML(result *models.IngestResult, inlines []models.InlineImage) string {
	var b strings.Builder
	b.WriteString("<html><body><p>")
	b.WriteString(html.EscapeString(summaryText(result)))
	b.WriteString("</p>")
	for _, inline := range inlines {
		fmt.Fprintf(&b, `<img src="cid:%s" alt="%s"><br>`, inline.ContentID, inline.FileName)
	}
	b.WriteString("</body></html>")
	return b.String()
}
