package scrape

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// maxChildSitemaps bounds how many child sitemaps of a sitemap index are
// fetched before giving up on the rest.
const maxChildSitemaps = 5

// xmlURLSet is the root element of a standard sitemap file.
type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc string `xml:"loc"`
}

// xmlSitemapIndex is the root element of a sitemap index file.
type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

type xmlSitemap struct {
	Loc string `xml:"loc"`
}

// SitemapFinder discovers candidate page URLs from a site's sitemap.
type SitemapFinder struct {
	client    *http.Client
	userAgent string
}

func NewSitemapFinder(timeout time.Duration, userAgent string) *SitemapFinder {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &SitemapFinder{client: newClient(timeout), userAgent: userAgent}
}

// Discover fetches /sitemap.xml for the site hosting rawURL and returns the
// page URLs it lists. Sitemap index files are followed one level deep, up
// to maxChildSitemaps children. An empty result with a nil error means the
// sitemap existed but listed no pages.
func (s *SitemapFinder) Discover(ctx context.Context, rawURL string) ([]string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("sitemap: parse url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("sitemap: empty host in url %q", rawURL)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}

	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", scheme, parsed.Host)
	body, err := fetch(ctx, s.client, s.userAgent, sitemapURL)
	if err != nil {
		return nil, err
	}

	if pages, ok := parseURLSet(body); ok {
		return pages, nil
	}

	children, ok := parseIndex(body)
	if !ok {
		return nil, fmt.Errorf("sitemap: %s is neither a urlset nor a sitemapindex", sitemapURL)
	}

	var pages []string
	for i, child := range children {
		if i >= maxChildSitemaps {
			break
		}
		childBody, err := fetch(ctx, s.client, s.userAgent, child)
		if err != nil {
			continue
		}
		if childPages, ok := parseURLSet(childBody); ok {
			pages = append(pages, childPages...)
		}
	}
	return pages, nil
}

func parseURLSet(body []byte) ([]string, bool) {
	var urlset xmlURLSet
	if err := xml.Unmarshal(body, &urlset); err != nil {
		return nil, false
	}
	pages := make([]string, 0, len(urlset.URLs))
	for _, u := range urlset.URLs {
		if u.Loc != "" {
			pages = append(pages, u.Loc)
		}
	}
	return pages, true
}

func parseIndex(body []byte) ([]string, bool) {
	var index xmlSitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, false
	}
	children := make([]string, 0, len(index.Sitemaps))
	for _, s := range index.Sitemaps {
		if s.Loc != "" {
			children = append(children, s.Loc)
		}
	}
	return children, true
}
