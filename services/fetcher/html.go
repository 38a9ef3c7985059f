package fetcher

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

var imageAttributes = []string{"src", "data-src", "data-lazy-src"}

// ExtractImageURLsFromHTML returns the unique absolute URLs of og:image metadata followed by
// <img> sources in document order. Relative references resolve against baseURL; data: and
// non-http URLs are dropped. When filter is set only matching URLs are kept.
func ExtractImageURLsFromHTML(baseURL, html string, filter *regexp.Regexp) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse html")
	}

	var base *url.URL
	if baseURL != "" {
		base, _ = url.Parse(baseURL)
	}

	seen := make(map[string]struct{})
	urls := make([]string, 0)
	add := func(raw string) {
		resolved, ok := resolveImageURL(base, raw)
		if !ok {
			return
		}
		if filter != nil && !filter.MatchString(resolved) {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		urls = append(urls, resolved)
	}

	doc.Find(`meta[property="og:image"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			add(content)
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range imageAttributes {
			if value, ok := s.Attr(attr); ok && strings.TrimSpace(value) != "" {
				add(value)
			}
		}
	})
	return urls, nil
}

func resolveImageURL(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "cid:") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	ref.Fragment = ""
	return ref.String(), true
}
