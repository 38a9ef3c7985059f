package inbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	"github.com/customeros/imagestack/internal/enum"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/logger"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

var ErrPollInProgress = errors.New("inbox poll already in progress")

// MailClient is the subset of the IMAP client the poller needs. *client.Client satisfies it.
type MailClient interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

type Dialer func(ctx context.Context) (MailClient, error)

type Option func(*Poller)

func WithDialer(d Dialer) Option {
	return func(p *Poller) {
		p.dial = d
	}
}

// Poller ingests unseen messages of one IMAP folder. Stored and rejected messages are flagged
// \Seen; failed ones stay unseen and are picked up by the next poll.
type Poller struct {
	cfg     *config.InboxConfig
	handler interfaces.MailIngestHandler
	log     logger.Logger
	dial    Dialer
	running sync.Mutex
}

func NewPoller(cfg *config.InboxConfig, handler interfaces.MailIngestHandler, log logger.Logger, opts ...Option) *Poller {
	p := &Poller{
		cfg:     cfg,
		handler: handler,
		log:     log.With(zap.String("component", "inbox"), zap.String("folder", cfg.Folder)),
	}
	p.dial = p.dialIMAP
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) dialIMAP(ctx context.Context) (MailClient, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Poller.dialIMAP")
	defer span.Finish()
	span.SetTag("server", p.cfg.Host)
	span.SetTag("port", p.cfg.Port)
	span.SetTag("tls", p.cfg.TLS)

	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	dialer := &net.Dialer{
		Timeout:   p.cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error
	if p.cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: p.cfg.Host})
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, imagestack_errors.Transient("Poller.dial", errors.Wrapf(err, "connect to %s", addr))
	}

	c.Timeout = p.cfg.DialTimeout
	if err := c.Login(p.cfg.Username, p.cfg.Password); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, imagestack_errors.Transient("Poller.dial", errors.Wrapf(err, "login as %s", p.cfg.Username))
	}
	c.Timeout = 0
	return c, nil
}

func (p *Poller) Poll(ctx context.Context) (*models.PollReport, error) {
	if !p.running.TryLock() {
		return nil, imagestack_errors.Capacity("Poller.Poll", ErrPollInProgress)
	}
	defer p.running.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "Poller.Poll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder", p.cfg.Folder)

	report := &models.PollReport{Folder: p.cfg.Folder, StartedAt: utils.Now()}

	c, err := p.dial(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return report, err
	}
	defer func() {
		if err := c.Logout(); err != nil {
			p.log.Debugf("imap logout: %v", err)
		}
	}()

	if _, err := c.Select(p.cfg.Folder, false); err != nil {
		tracing.TraceErr(span, err)
		return report, imagestack_errors.Transient("Poller.Poll", errors.Wrapf(err, "select %s", p.cfg.Folder))
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return report, imagestack_errors.Transient("Poller.Poll", errors.Wrap(err, "search unseen"))
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if p.cfg.MaxMessages > 0 && len(uids) > p.cfg.MaxMessages {
		uids = uids[:p.cfg.MaxMessages]
	}
	span.LogKV("unseen", len(uids))

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return report, imagestack_errors.Transient("Poller.Poll", err)
		}
		report.Results = append(report.Results, p.ingestOne(ctx, c, uid))
	}

	p.log.Infof("inbox poll finished: %d stored, %d rejected, %d failed",
		report.Count(enum.IngestStored), report.Count(enum.IngestRejected), report.Count(enum.IngestFailed))
	return report, nil
}

func (p *Poller) ingestOne(ctx context.Context, c MailClient, uid uint32) models.PolledResult {
	log := p.log.With(zap.Uint32("uid", uid))
	res := models.PolledResult{UID: uid, Outcome: enum.IngestFailed}

	msg, err := fetchMessage(c, uid)
	if err != nil {
		res.Error = err.Error()
		log.Warnf("imap fetch failed: %v", err)
		return res
	}

	result, err := p.handler.Handle(ctx, toIngestEvent(msg))
	res.Result = result
	switch {
	case err == nil:
		res.Outcome = enum.IngestStored
	case result != nil && result.Outcome == enum.IngestRejected:
		res.Outcome = enum.IngestRejected
		res.Error = err.Error()
	default:
		res.Error = err.Error()
		return res
	}

	if err := markSeen(c, uid); err != nil {
		log.Warnf("could not flag message as seen, it will be ingested again: %v", err)
	}
	return res
}

var bodySection = &imap.BodySectionName{Peek: true}

func fetchMessage(c MailClient, uid uint32) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, bodySection.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if msg == nil {
			msg = m
		}
	}
	if err := <-done; err != nil {
		return nil, imagestack_errors.Transient("Poller.fetchMessage", err)
	}
	if msg == nil {
		return nil, imagestack_errors.NotFound("Poller.fetchMessage", errors.Errorf("message uid %d not returned", uid))
	}
	return msg, nil
}

func toIngestEvent(msg *imap.Message) models.IngestEvent {
	event := models.IngestEvent{
		ReceivedAt: msg.InternalDate,
		Transport:  enum.IngestTransportIMAP,
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = utils.Now()
	}
	if env := msg.Envelope; env != nil {
		event.MessageID = utils.NormalizeMessageID(env.MessageId)
		if len(env.From) > 0 && env.From[0] != nil {
			event.SenderAddress = env.From[0].Address()
		}
		if len(env.To) > 0 && env.To[0] != nil {
			event.RecipientAddress = env.To[0].Address()
		}
	}
	if body := msg.GetBody(bodySection); body != nil {
		if raw, err := io.ReadAll(body); err == nil {
			event.RawMessage = raw
		}
	}
	return event
}

func markSeen(c MailClient, uid uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	return c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil)
}
