package model

import "time"

type JobState string

const (
	JobStateRunning     JobState = "running"
	JobStateCompleted   JobState = "completed"
	JobStateInterrupted JobState = "interrupted"
	JobStateError       JobState = "error"
)

// Terminal reports whether no further state transitions can occur.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateInterrupted || s == JobStateError
}

type ScrapeMode string

const (
	ModeAll     ScrapeMode = "all"
	ModeLimited ScrapeMode = "limited"
)

const (
	DefaultPageLimit = 5
	MaxLimitedPages  = 100
)

type JobConfig struct {
	Mode        ScrapeMode `json:"scrape_mode"`
	PageLimit   int        `json:"pages_limit"`
	Keywords    []string   `json:"search_keywords"`
	IncludeMeta bool       `json:"include_meta"`
}

// NormalizeConfig validates submitted preferences and fills defaults:
// unknown modes become "limited", limits below 1 become DefaultPageLimit,
// and limited mode caps the limit at MaxLimitedPages.
func NormalizeConfig(mode string, pageLimit int, keywords []string, includeMeta bool) JobConfig {
	m := ScrapeMode(mode)
	if m != ModeAll && m != ModeLimited {
		m = ModeLimited
	}
	if pageLimit < 1 {
		pageLimit = DefaultPageLimit
	} else if m == ModeLimited && pageLimit > MaxLimitedPages {
		pageLimit = MaxLimitedPages
	}
	return JobConfig{
		Mode:        m,
		PageLimit:   pageLimit,
		Keywords:    keywords,
		IncludeMeta: includeMeta,
	}
}

type Job struct {
	ID        string    `json:"job_id"`
	Owner     string    `json:"owner"`
	URL       string    `json:"url"`
	Config    JobConfig `json:"config"`
	CreatedAt time.Time `json:"created_at"`
}

// StageStatus describes the outcome of a discovery stage (robots, sitemap).
type StageStatus string

const (
	StageNotProcessed StageStatus = "not_processed"
	StageSuccess      StageStatus = "success"
	StageFailed       StageStatus = "failed"
	StageError        StageStatus = "error"
	StageNoPages      StageStatus = "no_pages"
)

type ErrorKind string

const (
	ErrorKindRobots    ErrorKind = "robots"
	ErrorKindSitemap   ErrorKind = "sitemap"
	ErrorKindPrefilter ErrorKind = "prefilter"
	ErrorKindScrape    ErrorKind = "scrape"
	ErrorKindFatal     ErrorKind = "fatal"
)

// ErrorRecord is a job-visible error entry. Records are append-only and
// never truncated.
type ErrorRecord struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// KeywordSearchNoMatches marks the fallback outcome where keywords were
// configured but no candidate page contained any of them.
const KeywordSearchNoMatches = "no_matches"

// JobStatus is the mutable progress record for one job. The extraction
// worker that owns the job advances it; status queries read snapshots.
type JobStatus struct {
	State             JobState    `json:"extraction_status"`
	RobotsStatus      StageStatus `json:"robots_status"`
	SitemapStatus     StageStatus `json:"sitemap_status"`
	PagesFound        int         `json:"pages_found"`
	PagesScraped      int         `json:"pages_scraped"`
	PagesChecked      int         `json:"pages_checked"`
	PagesWithKeywords int         `json:"pages_with_keywords"`

	Errors []ErrorRecord `json:"errors"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`

	// KeywordMatches maps page URL to the keywords found on it;
	// KeywordContexts maps page URL to keyword -> context snippet.
	KeywordMatches       map[string][]string          `json:"keyword_matches"`
	KeywordContexts      map[string]map[string]string `json:"keyword_contexts"`
	KeywordSearchResults string                       `json:"keyword_search_results,omitempty"`

	ScrapedPages []string `json:"scraped_pages"`
}

func NewJobStatus() JobStatus {
	return JobStatus{
		State:           JobStateRunning,
		RobotsStatus:    StageNotProcessed,
		SitemapStatus:   StageNotProcessed,
		StartTime:       time.Now().UTC(),
		KeywordMatches:  make(map[string][]string),
		KeywordContexts: make(map[string]map[string]string),
	}
}

// JobDocument is the persisted shape of a job: its immutable submission
// fields plus the processing status advanced by the worker.
type JobDocument struct {
	Job
	Status JobStatus `json:"processing_status"`
}

// MetaInfo holds meta-information extracted from a page's head section.
type MetaInfo struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Keywords    string            `json:"keywords,omitempty"`
	OG          map[string]string `json:"og,omitempty"`
}

func (m MetaInfo) Empty() bool {
	return m.Title == "" && m.Description == "" && m.Keywords == "" && len(m.OG) == 0
}

// NetworkMetrics captures transfer measurements for a single page fetch.
type NetworkMetrics struct {
	ContentSizeBytes int     `json:"content_size_bytes"`
	DurationMs       int64   `json:"duration_ms"`
	SpeedKBps        float64 `json:"speed_kbps"`
}

// PageRecord is the structured result of scraping one page.
type PageRecord struct {
	JobID       string         `json:"job_id"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	TextContent []string       `json:"text_content"`
	Images      []string       `json:"images"`
	Meta        MetaInfo       `json:"meta_info"`
	Metrics     NetworkMetrics `json:"network_metrics"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// KeywordResult is the outcome of prefiltering one page.
type KeywordResult struct {
	Matched  bool
	Matches  []string
	Meta     MetaInfo
	Contexts map[string]string
}
