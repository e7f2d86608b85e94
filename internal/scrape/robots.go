package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024

// RobotsFetcher retrieves and parses a site's robots.txt policy.
type RobotsFetcher struct {
	client    *http.Client
	userAgent string
}

func NewRobotsFetcher(timeout time.Duration, userAgent string) *RobotsFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &RobotsFetcher{client: newClient(timeout), userAgent: userAgent}
}

// Fetch downloads the robots.txt for the site hosting rawURL. It returns
// (true, nil) when a policy was retrieved and parsed, (false, nil) when the
// site serves no usable robots.txt, and (false, err) on request or parse
// failure.
func (r *RobotsFetcher) Fetch(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("robots: parse url: %w", err)
	}
	if parsed.Host == "" {
		return false, fmt.Errorf("robots: empty host in url %q", rawURL)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, parsed.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return false, fmt.Errorf("robots: build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("robots: fetch %s: %w", robotsURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Missing robots.txt is not an error, just an absent policy.
		return false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return false, fmt.Errorf("robots: read %s: %w", robotsURL, err)
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return false, fmt.Errorf("robots: parse %s: %w", robotsURL, err)
	}
	return data != nil, nil
}
