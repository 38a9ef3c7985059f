package services

import (
	"context"
	"regexp"

	"github.com/pkg/errors"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/repository"
	"github.com/customeros/imagestack/internal/retry"
	"github.com/customeros/imagestack/services/archiver"
	"github.com/customeros/imagestack/services/events"
	"github.com/customeros/imagestack/services/feed"
	"github.com/customeros/imagestack/services/fetcher"
	"github.com/customeros/imagestack/services/images"
	"github.com/customeros/imagestack/services/inbox"
	"github.com/customeros/imagestack/services/mail_ingest"
	"github.com/customeros/imagestack/services/notification"
	"github.com/customeros/imagestack/services/storage"
)

type Services struct {
	Repositories  *repository.Repositories
	BlobArchive   interfaces.BlobArchive
	ImageFetcher  interfaces.ImageFetcher
	Writer        *images.Writer
	Notifier      *notification.Notifier
	MailIngest    interfaces.MailIngestHandler
	Archiver      interfaces.Archiver    // nil when no feed is configured
	Inbox         interfaces.InboxPoller // nil when no IMAP host is configured
	EventsService *events.EventsService
}

type Options struct {
	// WithEvents connects to RabbitMQ when RABBITMQ_URL is set.
	WithEvents bool
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, opts Options) (*Services, error) {
	if repos == nil {
		return nil, imagestack_errors.Config("services.InitServices", errors.New("repositories not initialized"))
	}

	archive, err := storage.NewBlobArchive(cfg)
	if err != nil {
		return nil, err
	}

	imageFetcher, err := fetcher.NewImageFetcher(cfg.FetchConfig)
	if err != nil {
		return nil, err
	}

	relay, err := notification.NewRelayFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	svcs := &Services{
		Repositories: repos,
		BlobArchive:  archive,
		ImageFetcher: imageFetcher,
	}

	if opts.WithEvents && cfg.AppConfig.RabbitMQURL != "" {
		svcs.EventsService, err = events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, events.DefaultPublisherConfig(), nil)
		if err != nil {
			return nil, err
		}
	}

	storePolicy := retry.PolicyFromConfig(cfg.RetryConfig, cfg.StoreConfig.CallTimeout)
	fetchPolicy := retry.PolicyFromConfig(cfg.RetryConfig, cfg.FetchConfig.Timeout)

	svcs.Writer = images.NewWriter(repos.PropertyImageStore, archive, storePolicy, cfg.BlobArchiveConfig.HealDangling)
	svcs.Notifier = notification.NewNotifier(relay, archive, cfg.NotificationConfig, log)

	resolver, err := mail_ingest.NewResolverFromConfig(cfg.MailIngestConfig)
	if err != nil {
		return nil, err
	}
	var linkFilter *regexp.Regexp
	if cfg.FetchConfig.ImageURLPattern != "" {
		linkFilter = regexp.MustCompile(cfg.FetchConfig.ImageURLPattern)
	}
	handlerOpts := []mail_ingest.HandlerOption{
		mail_ingest.WithNotifier(svcs.Notifier),
		mail_ingest.WithLinkedImages(imageFetcher, linkFilter),
		mail_ingest.WithRetryPolicy(fetchPolicy),
	}
	archiverOpts := []archiver.Option{}
	if svcs.EventsService != nil {
		handlerOpts = append(handlerOpts, mail_ingest.WithPublisher(svcs.EventsService.Publisher))
		archiverOpts = append(archiverOpts, archiver.WithPublisher(svcs.EventsService.Publisher))
	}
	svcs.MailIngest = mail_ingest.NewHandler(cfg.MailIngestConfig, resolver, svcs.Writer, log, handlerOpts...)

	if cfg.InboxConfig.Host != "" {
		svcs.Inbox = inbox.NewPoller(cfg.InboxConfig, svcs.MailIngest, log)
	}

	if cfg.FeedConfig.BaseURL != "" {
		feedClient, err := feed.NewFeedClient(cfg.FeedConfig)
		if err != nil {
			return nil, err
		}
		svcs.Archiver = archiver.NewArchiver(cfg.ArchiverConfig, feedClient, imageFetcher, repos.CursorStore, svcs.Writer, fetchPolicy, log, archiverOpts...)
	} else {
		log.Warn("FEED_BASE_URL not set, scheduled archiver disabled")
	}

	return svcs, nil
}

// EnsureRetention applies the blob retention rule. Failures are logged only.
func (s *Services) EnsureRetention(ctx context.Context, log logger.Logger) {
	if err := s.BlobArchive.EnsureRetention(ctx); err != nil {
		log.Warnf("blob retention rule not applied: %v", err)
	}
}

func (s *Services) Close() error {
	if s.EventsService != nil {
		return s.EventsService.Close()
	}
	return nil
}
