package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
)

const maxPageBytes = 10 << 20

var (
	ErrMissingBaseURL = errors.New("feed base url is not configured")
	ErrFeedStatus     = errors.New("unexpected feed response status")
)

type httpFeedClient struct {
	client   *http.Client
	baseURL  string
	apiToken string
}

func NewFeedClient(cfg *config.FeedConfig) (interfaces.FeedClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, imagestack_errors.Config("feed.NewFeedClient", ErrMissingBaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpFeedClient{
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
	}, nil
}

// FetchPage reads up to limit entries starting at offset. A response without nextOffset
// continues right after the returned entries.
func (c *httpFeedClient) FetchPage(ctx context.Context, subscriptionID string, offset, limit int) (*models.FeedPage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "httpFeedClient.FetchPage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag(tracing.SpanTagSubscriptionId, subscriptionID)
	span.LogKV("offset", offset, "limit", limit)

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/subscriptions/%s/entries?%s", c.baseURL, url.PathEscape(subscriptionID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, imagestack_errors.Config("httpFeedClient.FetchPage", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	req = tracing.InjectSpanContextIntoHTTPRequest(req, span)

	resp, err := c.client.Do(req)
	if err != nil {
		err = imagestack_errors.Transient("httpFeedClient.FetchPage", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = classifyStatus(resp.StatusCode)
		tracing.TraceErr(span, err)
		return nil, err
	}

	var page models.FeedPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageBytes)).Decode(&page); err != nil {
		err = imagestack_errors.Parse("httpFeedClient.FetchPage", errors.Wrap(err, "failed to decode feed page"))
		tracing.TraceErr(span, err)
		return nil, err
	}
	if page.NextOffset <= offset {
		page.NextOffset = offset + len(page.Entries)
	}
	span.LogKV("entries", len(page.Entries), "nextOffset", page.NextOffset)
	return &page, nil
}

func classifyStatus(status int) error {
	err := errors.Wrapf(ErrFeedStatus, "status %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return imagestack_errors.Capacity("httpFeedClient.FetchPage", err)
	case status == http.StatusRequestTimeout, status >= 500:
		return imagestack_errors.Transient("httpFeedClient.FetchPage", err)
	case status == http.StatusNotFound:
		return imagestack_errors.NotFound("httpFeedClient.FetchPage", err)
	}
	return imagestack_errors.Permanent("httpFeedClient.FetchPage", err)
}
