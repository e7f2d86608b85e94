package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-extractor/internal/model"
	"go-extractor/internal/registry"
	"go-extractor/internal/storage"
)

type stubRobots struct {
	ok  bool
	err error
}

func (s stubRobots) Fetch(context.Context, string) (bool, error) { return s.ok, s.err }

type stubSitemap struct {
	pages []string
	err   error
}

func (s stubSitemap) Discover(context.Context, string) ([]string, error) { return s.pages, s.err }

type stubScraper struct {
	mu      sync.Mutex
	fail    map[string]bool
	panicOn string
	scraped []string
}

func (s *stubScraper) Scrape(_ context.Context, url string) (*model.PageRecord, error) {
	if url == s.panicOn {
		panic("scraper exploded")
	}
	if s.fail[url] {
		return nil, errors.New("connection refused")
	}
	s.mu.Lock()
	s.scraped = append(s.scraped, url)
	s.mu.Unlock()
	return &model.PageRecord{
		URL:         url,
		Title:       "Page",
		TextContent: []string{"some body text"},
		Images:      []string{url + "/logo.png"},
		Metrics:     model.NetworkMetrics{ContentSizeBytes: 2048, DurationMs: 12, SpeedKBps: 166.7},
		FetchedAt:   time.Now().UTC(),
	}, nil
}

type stubChecker struct {
	matches map[string][]string
	errFor  map[string]bool
}

func (s stubChecker) Check(_ context.Context, url string, _ []string, _ bool) (model.KeywordResult, error) {
	if s.errFor[url] {
		return model.KeywordResult{Contexts: map[string]string{}}, errors.New("timeout")
	}
	kws, ok := s.matches[url]
	if !ok {
		return model.KeywordResult{Contexts: map[string]string{}}, nil
	}
	contexts := make(map[string]string, len(kws))
	for _, kw := range kws {
		contexts[kw] = fmt.Sprintf("...around %s...", kw)
	}
	return model.KeywordResult{Matched: true, Matches: kws, Contexts: contexts}, nil
}

type capture struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (c *capture) Publish(m model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *capture) all() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.msgs...)
}

func (c *capture) completions() []model.Message {
	var out []model.Message
	for _, m := range c.all() {
		if m.Kind == model.MessageCompletion {
			out = append(out, m)
		}
	}
	return out
}

type env struct {
	engine  *Engine
	reg     *registry.Registry
	store   *storage.MemoryStore
	tracker *Tracker
	msgs    *capture
	task    Task
}

func newEnv(t *testing.T, job model.Job, robots RobotsPolicy, sitemap SitemapDiscovery, scraper PageScraper, checker KeywordChecker) *env {
	t.Helper()
	reg := registry.New()
	store := storage.NewMemoryStore()
	tracker := NewTracker()
	msgs := &capture{}

	require.NoError(t, store.CreateJob(context.Background(), &model.JobDocument{Job: job, Status: tracker.Snapshot()}))
	require.NoError(t, reg.Register(job.ID, tracker))

	e := NewEngine(1, robots, sitemap, scraper, checker, store, reg, zap.NewNop())
	return &env{
		engine:  e,
		reg:     reg,
		store:   store,
		tracker: tracker,
		msgs:    msgs,
		task:    Task{Job: job, Tracker: tracker, Notifier: msgs},
	}
}

func testJob(keywords []string, pageLimit int) model.Job {
	return model.Job{
		ID:    "job-1",
		Owner: "owner@example.com",
		URL:   "https://example.com",
		Config: model.JobConfig{
			Mode:        model.ModeLimited,
			PageLimit:   pageLimit,
			Keywords:    keywords,
			IncludeMeta: true,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func pages(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.com/page-%d", i+1)
	}
	return out
}

func TestPipelineCompletes(t *testing.T) {
	scraper := &stubScraper{}
	e := newEnv(t, testJob(nil, 2), stubRobots{ok: true}, stubSitemap{pages: pages(3)}, scraper, stubChecker{})

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateCompleted, snap.State)
	assert.Equal(t, model.StageSuccess, snap.RobotsStatus)
	assert.Equal(t, model.StageSuccess, snap.SitemapStatus)
	assert.Equal(t, 3, snap.PagesFound)
	assert.Equal(t, 2, snap.PagesScraped, "page limit bounds the scrape set")
	require.NotNil(t, snap.EndTime)
	assert.LessOrEqual(t, snap.PagesScraped, snap.PagesFound)

	// Registry mirror reaches terminal state.
	regSnap, ok := e.reg.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobStateCompleted, regSnap.State)

	// First message announces the start; the last is the completion.
	msgs := e.msgs.all()
	require.NotEmpty(t, msgs)
	assert.Equal(t, model.MessageInfo, msgs[0].Kind)
	assert.Contains(t, msgs[0].Text, "Starting extraction process")
	last := msgs[len(msgs)-1]
	require.Equal(t, model.MessageCompletion, last.Kind)
	require.NotNil(t, last.Completion)
	assert.Equal(t, 2, last.Completion.PagesScraped)
	assert.Len(t, e.msgs.completions(), 1)

	// Emission order: the start info precedes every scrape success.
	startIdx, successIdx := -1, -1
	for i, m := range msgs {
		if startIdx == -1 && m.Kind == model.MessageInfo {
			startIdx = i
		}
		if successIdx == -1 && m.Kind == model.MessageSuccess && m.Text == "Successfully scraped https://example.com/page-1" {
			successIdx = i
		}
	}
	require.NotEqual(t, -1, successIdx)
	assert.Less(t, startIdx, successIdx)

	// Terminal status is persisted.
	doc, err := e.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, doc.Status.State)
	assert.Equal(t, 2, doc.Status.PagesScraped)
	require.NotNil(t, doc.Status.EndTime)
}

func TestInterruptBeforeFirstFetch(t *testing.T) {
	scraper := &stubScraper{}
	e := newEnv(t, testJob(nil, 5), stubRobots{ok: true}, stubSitemap{pages: pages(3)}, scraper, stubChecker{})
	require.True(t, e.reg.RequestInterrupt("job-1"))

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateInterrupted, snap.State)
	assert.Equal(t, 0, snap.PagesScraped)
	require.NotNil(t, snap.EndTime)
	assert.Empty(t, scraper.scraped)
	require.Len(t, e.msgs.completions(), 1)
	assert.Equal(t, model.JobStateInterrupted, e.msgs.completions()[0].Completion.State)

	doc, err := e.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateInterrupted, doc.Status.State)
}

func TestInterruptDuringPrefilter(t *testing.T) {
	scraper := &stubScraper{}
	e := newEnv(t, testJob([]string{"foo"}, 5), stubRobots{ok: true}, stubSitemap{pages: pages(3)}, scraper, stubChecker{})
	require.True(t, e.reg.RequestInterrupt("job-1"))

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateInterrupted, snap.State)
	assert.Equal(t, 0, snap.PagesChecked)
	assert.Empty(t, scraper.scraped)
	assert.Len(t, e.msgs.completions(), 1)
}

func TestKeywordFilterSelectsMatchingPages(t *testing.T) {
	all := pages(3)
	scraper := &stubScraper{}
	checker := stubChecker{matches: map[string][]string{all[1]: {"foo"}}}
	e := newEnv(t, testJob([]string{"foo"}, 3), stubRobots{ok: true}, stubSitemap{pages: all}, scraper, checker)

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateCompleted, snap.State)
	assert.Equal(t, 3, snap.PagesChecked)
	assert.Equal(t, 1, snap.PagesWithKeywords)
	assert.Equal(t, []string{all[1]}, scraper.scraped, "only the matching page is scraped")
	assert.Contains(t, snap.KeywordMatches, all[1])
	assert.NotContains(t, snap.KeywordMatches, all[0])
	assert.Empty(t, snap.KeywordSearchResults)

	// Non-matching pages are skipped with a recorded reason, not silently.
	var skipped bool
	for _, m := range e.msgs.all() {
		if m.Kind == model.MessageWarning && m.Text == fmt.Sprintf("Page %s does not contain any keywords, skipping", all[0]) {
			skipped = true
		}
	}
	assert.True(t, skipped)
}

func TestNoMatchesFallback(t *testing.T) {
	all := pages(5)
	scraper := &stubScraper{}
	e := newEnv(t, testJob([]string{"foo"}, 3), stubRobots{ok: true}, stubSitemap{pages: all}, scraper, stubChecker{})

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateCompleted, snap.State)
	assert.Equal(t, model.KeywordSearchNoMatches, snap.KeywordSearchResults)
	assert.Equal(t, 3, snap.PagesChecked)
	// Fallback set size = min(page_limit, pages_found).
	assert.Len(t, scraper.scraped, 3)
	assert.Equal(t, all[:3], scraper.scraped)

	doc, err := e.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.KeywordSearchNoMatches, doc.Status.KeywordSearchResults)
}

func TestPrefilterErrorKeepsPage(t *testing.T) {
	all := pages(2)
	scraper := &stubScraper{}
	checker := stubChecker{
		matches: map[string][]string{all[1]: {"foo"}},
		errFor:  map[string]bool{all[0]: true},
	}
	e := newEnv(t, testJob([]string{"foo"}, 2), stubRobots{ok: true}, stubSitemap{pages: all}, scraper, checker)

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateCompleted, snap.State)
	// The errored page is conservatively included alongside the match.
	assert.Equal(t, all, scraper.scraped)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, model.ErrorKindPrefilter, snap.Errors[0].Kind)
}

func TestScrapeFailureContinues(t *testing.T) {
	all := pages(2)
	scraper := &stubScraper{fail: map[string]bool{all[0]: true}}
	e := newEnv(t, testJob(nil, 2), stubRobots{ok: true}, stubSitemap{pages: all}, scraper, stubChecker{})

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateCompleted, snap.State)
	assert.Equal(t, 1, snap.PagesScraped)
	assert.Equal(t, []string{all[1]}, snap.ScrapedPages)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, model.ErrorKindScrape, snap.Errors[0].Kind)
	assert.Len(t, e.msgs.completions(), 1)
}

func TestRobotsAndSitemapFailuresAreNonFatal(t *testing.T) {
	scraper := &stubScraper{}
	e := newEnv(t, testJob(nil, 5),
		stubRobots{err: errors.New("dns failure")},
		stubSitemap{err: errors.New("no sitemap")},
		scraper, stubChecker{})

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateCompleted, snap.State)
	assert.Equal(t, model.StageError, snap.RobotsStatus)
	assert.Equal(t, model.StageError, snap.SitemapStatus)
	// Discovery failure falls back to the target URL alone.
	assert.Equal(t, 1, snap.PagesFound)
	assert.Equal(t, []string{"https://example.com"}, snap.ScrapedPages)
	assert.Len(t, snap.Errors, 2)
}

func TestPanicLandsInErrorState(t *testing.T) {
	all := pages(2)
	scraper := &stubScraper{panicOn: all[0]}
	e := newEnv(t, testJob(nil, 2), stubRobots{ok: true}, stubSitemap{pages: all}, scraper, stubChecker{})

	e.engine.run(context.Background(), e.task)

	snap := e.tracker.Snapshot()
	assert.Equal(t, model.JobStateError, snap.State)
	require.NotNil(t, snap.EndTime)
	require.NotEmpty(t, snap.Errors)
	assert.Equal(t, model.ErrorKindFatal, snap.Errors[len(snap.Errors)-1].Kind)
	require.Len(t, e.msgs.completions(), 1)
	assert.Equal(t, model.JobStateError, e.msgs.completions()[0].Completion.State)

	regSnap, ok := e.reg.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, model.JobStateError, regSnap.State)
}

func TestEngineRunsSubmittedTasks(t *testing.T) {
	scraper := &stubScraper{}
	e := newEnv(t, testJob(nil, 1), stubRobots{ok: true}, stubSitemap{pages: pages(1)}, scraper, stubChecker{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.engine.Start(ctx)
	require.NoError(t, e.engine.Submit(e.task))

	require.Eventually(t, func() bool {
		return e.tracker.Snapshot().State.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	e.engine.Stop()

	assert.Equal(t, model.JobStateCompleted, e.tracker.Snapshot().State)
}
