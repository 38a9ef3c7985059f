package mail_ingest

import (
	"context"
	"regexp"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/dto"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/retry"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/services/fetcher"
	"github.com/customeros/imagestack/services/images"
	"github.com/customeros/imagestack/services/notification"
)

type Handler struct {
	cfg        *config.MailIngestConfig
	resolver   PropertyIDResolver
	writer     *images.Writer
	fetcher    interfaces.ImageFetcher
	linkFilter *regexp.Regexp
	policy     retry.Policy
	notifier   *notification.Notifier
	publisher  interfaces.PropertyUpdatePublisher
	log        logger.Logger
}

type HandlerOption func(*Handler)

// WithLinkedImages enables fetching <img> references of the HTML body.
func WithLinkedImages(f interfaces.ImageFetcher, filter *regexp.Regexp) HandlerOption {
	return func(h *Handler) {
		h.fetcher = f
		h.linkFilter = filter
	}
}

func WithNotifier(n *notification.Notifier) HandlerOption {
	return func(h *Handler) {
		h.notifier = n
	}
}

func WithPublisher(p interfaces.PropertyUpdatePublisher) HandlerOption {
	return func(h *Handler) {
		h.publisher = p
	}
}

func WithRetryPolicy(p retry.Policy) HandlerOption {
	return func(h *Handler) {
		h.policy = p
	}
}

func NewHandler(cfg *config.MailIngestConfig, resolver PropertyIDResolver, writer *images.Writer, log logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		cfg:      cfg,
		resolver: resolver,
		writer:   writer,
		policy:   retry.DefaultPolicy(),
		log:      log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle ingests one inbound mail. Rejections return a result with outcome rejected together
// with a Parse, NotFound or Permanent error; nothing is written for them. Transient errors
// return outcome failed and are safe to redeliver.
func (h *Handler) Handle(ctx context.Context, event models.IngestEvent) (*models.IngestResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailIngestHandler.Handle")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("transport", string(event.Transport), "recipient", event.RecipientAddress, "size", len(event.RawMessage))

	log := h.log.With(
		zap.String("recipient", event.RecipientAddress),
		zap.String("transport", string(event.Transport)),
	)

	if h.cfg.MaxMessageBytes > 0 && len(event.RawMessage) > h.cfg.MaxMessageBytes {
		err := imagestack_errors.Parse("MailIngestHandler.Handle", errors.Wrapf(imagestack_errors.ErrMalformedMessage, "message of %d bytes exceeds limit", len(event.RawMessage)))
		return h.reject(span, log, "", enum.RejectMalformedMessage, err)
	}

	parsed, err := ParseMessage(event.RawMessage)
	if err != nil {
		return h.reject(span, log, "", enum.RejectMalformedMessage, err)
	}
	if parsed.MessageID != "" {
		log = log.With(zap.String("messageId", parsed.MessageID))
	}
	for _, warning := range parsed.Warnings {
		log.Debugf("mime warning: %s", warning)
	}

	propertyID, err := h.resolver.Resolve(event, parsed)
	if err != nil {
		return h.reject(span, log, "", enum.RejectUnknownProperty, err)
	}
	tracing.TagProperty(span, propertyID)
	log = log.With(zap.String("propertyId", propertyID))

	candidates := parsed.Images
	if h.cfg.FetchLinkedImages && h.fetcher != nil && parsed.HTML != "" {
		linked, err := h.fetchLinked(ctx, log, parsed.HTML)
		if err != nil {
			return h.fail(span, log, propertyID, err)
		}
		candidates = append(candidates, linked...)
	}
	if len(candidates) == 0 {
		err := imagestack_errors.Permanent("MailIngestHandler.Handle", errors.Wrapf(imagestack_errors.ErrNoImagesFound, "property %s", propertyID))
		return h.reject(span, log, propertyID, enum.RejectNoImagesFound, err)
	}

	if h.cfg.RequireExistingProperty {
		_, exists, err := h.writer.Load(ctx, propertyID)
		if err != nil {
			return h.fail(span, log, propertyID, err)
		}
		if !exists {
			err := imagestack_errors.NotFound("MailIngestHandler.Handle", errors.Wrapf(imagestack_errors.ErrUnknownProperty, "no record for property %s", propertyID))
			return h.reject(span, log, propertyID, enum.RejectUnknownProperty, err)
		}
	}

	written, err := h.writer.Write(ctx, propertyID, enum.ImageSourceEmail, candidates)
	if err != nil {
		return h.fail(span, log, propertyID, err)
	}

	result := &models.IngestResult{
		PropertyID:      propertyID,
		Outcome:         enum.IngestStored,
		NewImages:       len(written.Added),
		DuplicateImages: written.DuplicateImages,
		Record:          written.Record,
	}
	log.Infof("stored %d new images, %d duplicates, %d healed", result.NewImages, result.DuplicateImages, written.HealedBlobs)

	if h.publisher != nil && len(written.Added) > 0 {
		if err := h.publisher.PublishPropertyImagesUpdated(ctx, dto.NewPropertyImagesUpdated(enum.ImageSourceEmail, written)); err != nil {
			tracing.TraceErr(span, err)
			log.Warnf("images updated event not published: %v", err)
		}
	}
	h.notifier.NotifyIngested(ctx, parsed, result)

	return result, nil
}

// fetchLinked downloads images referenced by the HTML body. Permanent failures are skipped.
func (h *Handler) fetchLinked(ctx context.Context, log logger.Logger, html string) ([]models.CandidateImage, error) {
	urls, err := fetcher.ExtractImageURLsFromHTML("", html, h.linkFilter)
	if err != nil {
		log.Warnf("linked images not extracted: %v", err)
		return nil, nil
	}

	candidates := make([]models.CandidateImage, 0, len(urls))
	for _, url := range urls {
		img, err := retry.DoValue(ctx, h.policy, func(ctx context.Context) (*models.FetchedImage, error) {
			return h.fetcher.Fetch(ctx, url)
		})
		if err != nil {
			if imagestack_errors.IsTransient(err) {
				return nil, err
			}
			log.Infof("skipping linked image %s: %v", url, err)
			continue
		}
		candidates = append(candidates, models.CandidateImage{
			Data:        img.Data,
			ContentType: img.ContentType,
			SourceURL:   img.URL,
		})
	}
	return candidates, nil
}

func (h *Handler) reject(span opentracing.Span, log logger.Logger, propertyID string, reason enum.RejectReason, err error) (*models.IngestResult, error) {
	tracing.TraceErr(span, err)
	log.With(zap.String("kind", imagestack_errors.KindOf(err).String())).Warnf("message rejected (%s): %v", reason, err)
	return &models.IngestResult{
		PropertyID:   propertyID,
		Outcome:      enum.IngestRejected,
		RejectReason: reason,
	}, err
}

func (h *Handler) fail(span opentracing.Span, log logger.Logger, propertyID string, err error) (*models.IngestResult, error) {
	tracing.TraceErr(span, err)
	log.With(zap.String("kind", imagestack_errors.KindOf(err).String())).Errorf("ingestion failed: %v", err)
	return &models.IngestResult{
		PropertyID: propertyID,
		Outcome:    enum.IngestFailed,
	}, err
}
