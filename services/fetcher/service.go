package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/imagestack/config"
	"github.com/customeros/imagestack/interfaces"
	imagestack_errors "github.com/customeros/imagestack/internal/errors"
	"github.com/customeros/imagestack/internal/models"
	"github.com/customeros/imagestack/internal/tracing"
	"github.com/customeros/imagestack/internal/utils"
)

var (
	ErrNotAnImage       = errors.New("response is not an image")
	ErrTooLarge         = errors.New("response exceeds size limit")
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

type imageFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	urlFilter *regexp.Regexp
}

func NewImageFetcher(cfg *config.FetchConfig) (interfaces.ImageFetcher, error) {
	var filter *regexp.Regexp
	if cfg.ImageURLPattern != "" {
		re, err := regexp.Compile(cfg.ImageURLPattern)
		if err != nil {
			return nil, imagestack_errors.Config("fetcher.NewImageFetcher", err)
		}
		filter = re
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &imageFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		urlFilter: filter,
	}, nil
}

func (f *imageFetcher) Fetch(ctx context.Context, url string) (*models.FetchedImage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imageFetcher.Fetch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("url", url)

	body, contentType, err := f.get(ctx, url)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	detected := utils.DetectImageContentType(contentType, body)
	if detected == "" {
		err = imagestack_errors.Permanent("imageFetcher.Fetch", errors.Wrapf(ErrNotAnImage, "%s (%s)", url, contentType))
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &models.FetchedImage{URL: url, Data: body, ContentType: detected}, nil
}

// ExtractImageURLs loads an HTML page and returns the absolute image URLs it references.
func (f *imageFetcher) ExtractImageURLs(ctx context.Context, pageURL string) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imageFetcher.ExtractImageURLs")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("url", pageURL)

	body, _, err := f.get(ctx, pageURL)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	urls, err := ExtractImageURLsFromHTML(pageURL, string(body), f.urlFilter)
	if err != nil {
		err = imagestack_errors.Permanent("imageFetcher.ExtractImageURLs", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("images", len(urls))
	return urls, nil
}

func (f *imageFetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", imagestack_errors.Permanent("imageFetcher.get", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", imagestack_errors.Transient("imageFetcher.get", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("imageFetcher.get", url, resp.StatusCode); err != nil {
		return nil, "", err
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", imagestack_errors.Transient("imageFetcher.get", err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, "", imagestack_errors.Permanent("imageFetcher.get", errors.Wrapf(ErrTooLarge, "%s exceeds %d bytes", url, f.maxBytes))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// classifyStatus maps an HTTP status onto the error taxonomy: 408 and 5xx are transient,
// 429 is a capacity error, any other non-2xx status is permanent.
func classifyStatus(op, url string, status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := errors.Wrap(ErrUnexpectedStatus, fmt.Sprintf("%s returned %d", url, status))
	switch {
	case status == http.StatusTooManyRequests:
		return imagestack_errors.Capacity(op, err)
	case status == http.StatusRequestTimeout, status >= 500:
		return imagestack_errors.Transient(op, err)
	}
	return imagestack_errors.Permanent(op, err)
}
