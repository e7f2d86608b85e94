package extract

import (
	"sync"
	"time"

	"go-extractor/internal/model"
)

// Tracker guards one job's mutable status. The worker that owns the job is
// the only writer; status queries and the registry read snapshots.
type Tracker struct {
	mu sync.RWMutex
	s  model.JobStatus
}

func NewTracker() *Tracker {
	return &Tracker{s: model.NewJobStatus()}
}

func (t *Tracker) SetRobotsStatus(st model.StageStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.RobotsStatus = st
}

func (t *Tracker) SetSitemapStatus(st model.StageStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.SitemapStatus = st
}

func (t *Tracker) SetPagesFound(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.PagesFound = n
}

// AddError appends a job-visible error record. The list is append-only.
func (t *Tracker) AddError(kind model.ErrorKind, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Errors = append(t.s.Errors, model.ErrorRecord{
		Kind:      kind,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}

// IncPagesChecked bumps the prefilter counter and returns the new value.
func (t *Tracker) IncPagesChecked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.PagesChecked++
	return t.s.PagesChecked
}

// RecordKeywordMatch stores the matches and contexts found on a page.
func (t *Tracker) RecordKeywordMatch(pageURL string, matches []string, contexts map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.KeywordMatches[pageURL] = matches
	t.s.KeywordContexts[pageURL] = contexts
	t.s.PagesWithKeywords++
}

func (t *Tracker) PagesWithKeywords() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s.PagesWithKeywords
}

// SetNoMatches records the explicit fallback outcome of a keyword search
// that found nothing.
func (t *Tracker) SetNoMatches() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.KeywordSearchResults = model.KeywordSearchNoMatches
}

// PageScraped appends a successfully scraped page and returns the new count.
func (t *Tracker) PageScraped(pageURL string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.ScrapedPages = append(t.s.ScrapedPages, pageURL)
	t.s.PagesScraped = len(t.s.ScrapedPages)
	return t.s.PagesScraped
}

// Finish moves the job to a terminal state and stamps the end time. It
// returns false without changing anything if the job is already terminal,
// so the end time is set exactly once.
func (t *Tracker) Finish(state model.JobState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.s.State.Terminal() {
		return false
	}
	t.s.State = state
	now := time.Now().UTC()
	t.s.EndTime = &now
	return true
}

// Snapshot returns a deep copy safe for concurrent readers.
func (t *Tracker) Snapshot() model.JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := t.s
	snap.Errors = append([]model.ErrorRecord(nil), t.s.Errors...)
	snap.ScrapedPages = append([]string(nil), t.s.ScrapedPages...)
	snap.KeywordMatches = make(map[string][]string, len(t.s.KeywordMatches))
	for url, matches := range t.s.KeywordMatches {
		snap.KeywordMatches[url] = append([]string(nil), matches...)
	}
	snap.KeywordContexts = make(map[string]map[string]string, len(t.s.KeywordContexts))
	for url, contexts := range t.s.KeywordContexts {
		inner := make(map[string]string, len(contexts))
		for kw, c := range contexts {
			inner[kw] = c
		}
		snap.KeywordContexts[url] = inner
	}
	if t.s.EndTime != nil {
		end := *t.s.EndTime
		snap.EndTime = &end
	}
	return snap
}
