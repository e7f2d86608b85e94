package scrape

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"go-extractor/internal/model"
)

// textSelectors are the elements whose text is collected as page content.
const textSelectors = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre"

// SiteScraper fetches a page and extracts its content and transfer metrics.
type SiteScraper struct {
	client    *http.Client
	userAgent string
}

func NewSiteScraper(timeout time.Duration, userAgent string) *SiteScraper {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &SiteScraper{client: newClient(timeout), userAgent: userAgent}
}

// Scrape downloads one page and returns its structured record. JobID is
// left for the caller to fill in.
func (s *SiteScraper) Scrape(ctx context.Context, rawURL string) (*model.PageRecord, error) {
	start := time.Now()
	body, err := fetch(ctx, s.client, s.userAgent, rawURL)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	rec := &model.PageRecord{
		URL:       rawURL,
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		Meta:      extractMeta(doc),
		Metrics:   buildMetrics(len(body), duration),
		FetchedAt: time.Now().UTC(),
	}

	doc.Find(textSelectors).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			rec.TextContent = append(rec.TextContent, text)
		}
	})

	base, baseErr := url.Parse(rawURL)
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		if baseErr == nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		rec.Images = append(rec.Images, src)
	})

	return rec, nil
}

func buildMetrics(sizeBytes int, duration time.Duration) model.NetworkMetrics {
	m := model.NetworkMetrics{
		ContentSizeBytes: sizeBytes,
		DurationMs:       duration.Milliseconds(),
	}
	if secs := duration.Seconds(); secs > 0 {
		m.SpeedKBps = float64(sizeBytes) / 1024 / secs
	}
	return m
}
