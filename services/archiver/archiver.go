package archiver

import (
	"context"
	"sync"
	"time"

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
	"github.com/customeros/imagestack/internal/utils"
	"github.com/customeros/imagestack/services/images"
)

var (
	ErrRunInProgress = errors.New("archiver run already in progress")
	ErrNoEntryImages = errors.New("feed entry has no fetchable images")
)

// Archiver copies feed listing images into the archive. One run handles the pending
// entries of earlier runs and then at most one feed page.
type Archiver struct {
	cfg       *config.ArchiverConfig
	feed      interfaces.FeedClient
	fetcher   interfaces.ImageFetcher
	cursors   interfaces.CursorStore
	writer    *images.Writer
	publisher interfaces.PropertyUpdatePublisher
	policy    retry.Policy
	log       logger.Logger
	now       func() time.Time
	running   sync.Mutex
}

type Option func(*Archiver)

func WithPublisher(p interfaces.PropertyUpdatePublisher) Option {
	return func(a *Archiver) {
		a.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		a.now = now
	}
}

func NewArchiver(cfg *config.ArchiverConfig, feed interfaces.FeedClient, fetcher interfaces.ImageFetcher, cursors interfaces.CursorStore,
	writer *images.Writer, policy retry.Policy, log logger.Logger, opts ...Option) *Archiver {
	a := &Archiver{
		cfg:     cfg,
		feed:    feed,
		fetcher: fetcher,
		cursors: cursors,
		writer:  writer,
		policy:  policy,
		log:     log,
		now:     utils.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes one archiver pass. Concurrent calls fail fast with a Capacity error.
// The report is returned even when the run aborts on a feed or cursor failure.
func (a *Archiver) Run(ctx context.Context) (*models.RunReport, error) {
	if !a.running.TryLock() {
		return nil, imagestack_errors.Capacity("Archiver.Run", ErrRunInProgress)
	}
	defer a.running.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "Archiver.Run")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	started := a.now()
	deadline := started.Add(a.runTimeout())
	ctx, cancel := context.WithTimeout(ctx, a.runTimeout())
	defer cancel()

	report := &models.RunReport{
		RunID:          utils.NewRunID(),
		SubscriptionID: a.cfg.SubscriptionID,
		StartedAt:      started,
	}
	log := a.log.With(zap.String("runId", report.RunID), zap.String("subscriptionId", a.cfg.SubscriptionID))
	span.LogKV("runId", report.RunID)

	err := a.run(ctx, log, deadline, report)
	report.FinishedAt = a.now()
	if err != nil {
		tracing.TraceErr(span, err)
		log.With(zap.String("kind", imagestack_errors.KindOf(err).String())).Errorf("archiver run aborted: %v", err)
		return report, err
	}

	log.Infof("archiver run finished: %d succeeded, %d transient, %d permanent, cursor %d -> %d, stopped early %v",
		report.Count(enum.EntrySuccess), report.Count(enum.EntryTransientFailure), report.Count(enum.EntryPermanentFailure),
		report.CursorBefore, report.CursorAfter, report.StoppedEarly)
	return report, nil
}

func (a *Archiver) run(ctx context.Context, log logger.Logger, deadline time.Time, report *models.RunReport) error {
	state, err := retry.DoValue(ctx, a.policy, func(ctx context.Context) (*models.CursorState, error) {
		return a.cursors.Load(ctx, a.cfg.SubscriptionID)
	})
	if err != nil {
		return err
	}
	report.CursorBefore = state.Offset
	report.CursorAfter = state.Offset

	canStart := func() bool {
		return ctx.Err() == nil && a.now().Add(a.cfg.StopMargin).Before(deadline)
	}

	// property ids processed in this run; a pending entry that reappears on the page is not retried twice
	attempted := make(map[string]struct{})

	pending := make([]models.PendingEntry, len(state.Pending))
	copy(pending, state.Pending)
	for _, p := range pending {
		if !canStart() {
			report.StoppedEarly = true
			return nil
		}
		result := a.processEntry(ctx, log, p.Entry)
		result.Retried = true
		interrupted := a.interrupted(ctx, result)
		a.recordOutcome(state, p.Entry, p.Attempts, interrupted, &result)
		attempted[p.Entry.PropertyID] = struct{}{}
		report.Add(result)
		if err := a.save(ctx, state); err != nil {
			return err
		}
		if interrupted {
			report.StoppedEarly = true
			return nil
		}
	}

	if !canStart() {
		report.StoppedEarly = true
		return nil
	}

	offset := state.Offset
	page, err := retry.DoValue(ctx, a.policy, func(ctx context.Context) (*models.FeedPage, error) {
		return a.feed.FetchPage(ctx, a.cfg.SubscriptionID, offset, a.pageSize())
	})
	if err != nil {
		if ctx.Err() != nil {
			report.StoppedEarly = true
			return nil
		}
		return err
	}
	log.Debugf("fetched %d feed entries at offset %d", len(page.Entries), offset)

	for i, entry := range page.Entries {
		if !canStart() {
			report.StoppedEarly = true
			return nil
		}
		interrupted := false
		if _, done := attempted[entry.PropertyID]; done {
			log.Debugf("property %s already attempted in this run", entry.PropertyID)
		} else {
			attempts := 0
			if j := state.FindPending(entry.PropertyID); j >= 0 {
				attempts = state.Pending[j].Attempts
			}
			result := a.processEntry(ctx, log, entry)
			interrupted = a.interrupted(ctx, result)
			a.recordOutcome(state, entry, attempts, interrupted, &result)
			attempted[entry.PropertyID] = struct{}{}
			report.Add(result)
		}

		state.Offset = offset + i + 1
		if err := a.save(ctx, state); err != nil {
			return err
		}
		report.CursorAfter = state.Offset
		if interrupted {
			report.StoppedEarly = true
			return nil
		}
	}

	next := page.NextOffset
	if end := offset + len(page.Entries); next < end {
		next = end
	}
	if next != state.Offset {
		state.Offset = next
		if err := a.save(ctx, state); err != nil {
			return err
		}
	}
	report.CursorAfter = state.Offset
	return nil
}

// interrupted reports whether a transient failure was caused by the run context ending.
func (a *Archiver) interrupted(ctx context.Context, result models.EntryResult) bool {
	return result.Status == enum.EntryTransientFailure && ctx.Err() != nil
}

// recordOutcome updates the pending list for an attempted entry. Transient failures stay
// pending until the attempt budget is spent, then count as permanent. An entry cut off by
// the run deadline stays pending without spending an attempt.
func (a *Archiver) recordOutcome(state *models.CursorState, entry models.FeedEntry, previousAttempts int, interrupted bool, result *models.EntryResult) {
	switch result.Status {
	case enum.EntryTransientFailure:
		attempts := previousAttempts
		if !interrupted {
			attempts++
			if a.cfg.MaxEntryAttempts > 0 && attempts >= a.cfg.MaxEntryAttempts {
				result.Status = enum.EntryPermanentFailure
				state.RemovePending(entry.PropertyID)
				return
			}
		}
		state.UpsertPending(models.PendingEntry{
			Entry:     entry,
			Attempts:  attempts,
			LastError: errString(result.Err),
			UpdatedAt: a.now(),
		})
	default:
		state.RemovePending(entry.PropertyID)
	}
}

func (a *Archiver) processEntry(ctx context.Context, log logger.Logger, entry models.FeedEntry) models.EntryResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Archiver.processEntry")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProperty(span, entry.PropertyID)

	log = log.With(zap.String("propertyId", entry.PropertyID))
	result := models.EntryResult{PropertyID: entry.PropertyID}

	fail := func(err error) models.EntryResult {
		tracing.TraceErr(span, err)
		result.Err = err
		if imagestack_errors.IsTransient(err) {
			result.Status = enum.EntryTransientFailure
		} else {
			result.Status = enum.EntryPermanentFailure
		}
		log.With(zap.String("kind", imagestack_errors.KindOf(err).String())).Warnf("feed entry failed: %v", err)
		return result
	}

	if entry.PropertyID == "" {
		return fail(imagestack_errors.Permanent("Archiver.processEntry", errors.New("feed entry without property id")))
	}

	urls := utils.UniqueStrings(entry.ImageURLs)
	if len(urls) == 0 && entry.ListingURL != "" {
		scraped, err := retry.DoValue(ctx, a.policy, func(ctx context.Context) ([]string, error) {
			return a.fetcher.ExtractImageURLs(ctx, entry.ListingURL)
		})
		if err != nil {
			return fail(err)
		}
		urls = scraped
	}

	candidates := make([]models.CandidateImage, 0, len(urls))
	for _, url := range urls {
		img, err := retry.DoValue(ctx, a.policy, func(ctx context.Context) (*models.FetchedImage, error) {
			return a.fetcher.Fetch(ctx, url)
		})
		if err != nil {
			if imagestack_errors.IsTransient(err) {
				return fail(err)
			}
			log.Infof("skipping image %s: %v", url, err)
			result.SkippedImages++
			continue
		}
		candidates = append(candidates, models.CandidateImage{
			Data:        img.Data,
			ContentType: img.ContentType,
			SourceURL:   img.URL,
		})
	}
	if len(candidates) == 0 {
		return fail(imagestack_errors.Permanent("Archiver.processEntry", errors.Wrapf(ErrNoEntryImages, "property %s", entry.PropertyID)))
	}

	written, err := a.writer.Write(ctx, entry.PropertyID, enum.ImageSourceFeed, candidates)
	if err != nil {
		return fail(err)
	}
	result.Status = enum.EntrySuccess
	result.NewImages = len(written.Added)

	if a.publisher != nil && len(written.Added) > 0 {
		if err := a.publisher.PublishPropertyImagesUpdated(ctx, dto.NewPropertyImagesUpdated(enum.ImageSourceFeed, written)); err != nil {
			tracing.TraceErr(span, err)
			log.Warnf("images updated event not published: %v", err)
		}
	}
	return result
}

// save commits the cursor on a context detached from the run deadline so progress made
// up to the deadline is kept.
func (a *Archiver) save(ctx context.Context, state *models.CursorState) error {
	state.UpdatedAt = a.now()
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.commitTimeout())
	defer cancel()
	return retry.Do(commitCtx, a.policy, func(ctx context.Context) error {
		return a.cursors.Save(ctx, state)
	})
}

func (a *Archiver) commitTimeout() time.Duration {
	if a.policy.CallTimeout > 0 {
		return time.Duration(max(a.policy.MaxAttempts, 1)) * (a.policy.CallTimeout + a.policy.MaxBackoff)
	}
	return 30 * time.Second
}

func (a *Archiver) runTimeout() time.Duration {
	if a.cfg.RunTimeout > 0 {
		return a.cfg.RunTimeout
	}
	return 4 * time.Minute
}

func (a *Archiver) pageSize() int {
	if a.cfg.PageSize > 0 {
		return a.cfg.PageSize
	}
	return 10
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
