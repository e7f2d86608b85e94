// Package extract runs the extraction pipeline for submitted jobs on a
// bounded pool of workers. Each job gets one worker at a time; the pool
// size caps total concurrent outbound fetch load.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"go-extractor/internal/model"
)

// Collaborator contracts, declared where they are consumed.

// RobotsPolicy fetches a site's robots.txt policy. ok=false with a nil
// error means no usable policy exists.
type RobotsPolicy interface {
	Fetch(ctx context.Context, url string) (ok bool, err error)
}

// SitemapDiscovery returns candidate page URLs for a site.
type SitemapDiscovery interface {
	Discover(ctx context.Context, url string) ([]string, error)
}

// PageScraper fetches one page and extracts its structured record.
type PageScraper interface {
	Scrape(ctx context.Context, url string) (*model.PageRecord, error)
}

// KeywordChecker prefilters one page against the configured keywords.
type KeywordChecker interface {
	Check(ctx context.Context, url string, keywords []string, includeMeta bool) (model.KeywordResult, error)
}

// StatusStore is the durability backstop for job progress. Failures are
// logged and swallowed; they never abort the pipeline.
type StatusStore interface {
	ApplyPartialUpdate(ctx context.Context, jobID string, fields map[string]any) error
	InsertPage(ctx context.Context, rec *model.PageRecord) error
}

// ControlTable is the worker's view of the job registry: the interrupt
// flag read at checkpoints and the state mirror it writes back.
type ControlTable interface {
	Interrupted(jobID string) bool
	SetState(jobID string, state model.JobState)
}

// Notifier receives the worker's progress messages for one job.
type Notifier interface {
	Publish(model.Message)
}

// Task is one submitted job with its status tracker and message sink.
type Task struct {
	Job      model.Job
	Tracker  *Tracker
	Notifier Notifier
}

var ErrPoolSaturated = errors.New("extraction pool saturated")

const submitQueueSize = 64

type Engine struct {
	workerCount int
	tasks       chan Task
	wg          sync.WaitGroup

	robots   RobotsPolicy
	sitemap  SitemapDiscovery
	scraper  PageScraper
	keywords KeywordChecker
	store    StatusStore
	table    ControlTable
	log      *zap.Logger
}

func NewEngine(workerCount int, robots RobotsPolicy, sitemap SitemapDiscovery, scraper PageScraper, keywords KeywordChecker, store StatusStore, table ControlTable, log *zap.Logger) *Engine {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Engine{
		workerCount: workerCount,
		tasks:       make(chan Task, submitQueueSize),
		robots:      robots,
		sitemap:     sitemap,
		scraper:     scraper,
		keywords:    keywords,
		store:       store,
		table:       table,
		log:         log,
	}
}

// Start launches the worker pool. Workers exit once Stop closes the task
// queue and the current jobs finish.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workerCount; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for task := range e.tasks {
				e.run(ctx, task)
			}
		}()
	}
}

// Submit queues a job for execution without blocking.
func (e *Engine) Submit(t Task) error {
	select {
	case e.tasks <- t:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (e *Engine) Stop() {
	close(e.tasks)
	e.wg.Wait()
}

// run executes the whole pipeline for one job. Nothing may escape it: a
// panic in any stage lands the job in the error state instead of crashing
// the process.
func (e *Engine) run(ctx context.Context, t Task) {
	log := e.log.With(zap.String("job_id", t.Job.ID), zap.String("url", t.Job.URL))
	defer func() {
		if r := recover(); r != nil {
			e.fail(ctx, t, fmt.Sprintf("unexpected error in extraction worker: %v", r), log)
		}
	}()

	job := t.Job
	tr := t.Tracker
	n := t.Notifier

	log.Info("extraction started",
		zap.String("mode", string(job.Config.Mode)),
		zap.Int("page_limit", job.Config.PageLimit),
		zap.Strings("keywords", job.Config.Keywords))

	n.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Starting extraction process for %s", job.URL)))
	if len(job.Config.Keywords) > 0 {
		n.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Using keyword filter: %s", joinKeywords(job.Config.Keywords))))
		if job.Config.IncludeMeta {
			n.Publish(model.NewMessage(model.MessageInfo, "Including meta information in keyword search"))
		}
	}

	e.processRobots(ctx, t, log)
	pages := e.discoverPages(ctx, t, log)

	candidates := limitPages(pages, job.Config.PageLimit)
	pagesToProcess := candidates
	var metaByPage map[string]model.MetaInfo

	if len(job.Config.Keywords) > 0 {
		var interrupted bool
		pagesToProcess, metaByPage, interrupted = e.prefilter(ctx, t, candidates, log)
		if interrupted {
			return
		}
	}

	if e.scrapePages(ctx, t, pagesToProcess, metaByPage, log) {
		return // interrupted mid-loop
	}

	tr.Finish(model.JobStateCompleted)
	e.persistStatus(ctx, job.ID, fullStatusFields(tr.Snapshot()), log)

	n.Publish(model.NewMessage(model.MessageInfo, "Extraction process completed"))
	snap := tr.Snapshot()
	n.Publish(model.NewCompletion(model.CompletionInfo{
		JobID:        job.ID,
		State:        snap.State,
		PagesFound:   snap.PagesFound,
		PagesScraped: snap.PagesScraped,
	}))
	e.table.SetState(job.ID, model.JobStateCompleted)
	log.Info("extraction completed", zap.Int("pages_scraped", snap.PagesScraped))
}

// processRobots records the robots.txt outcome. Failures are non-fatal.
func (e *Engine) processRobots(ctx context.Context, t Task, log *zap.Logger) {
	t.Notifier.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Processing robots.txt for %s", t.Job.URL)))

	ok, err := e.robots.Fetch(ctx, t.Job.URL)
	switch {
	case err != nil:
		msg := fmt.Sprintf("Error in robots.txt processing: %v", err)
		t.Tracker.SetRobotsStatus(model.StageError)
		t.Tracker.AddError(model.ErrorKindRobots, msg)
		t.Notifier.Publish(model.NewMessage(model.MessageError, msg))
		log.Warn("robots processing failed", zap.Error(err))
	case !ok:
		t.Tracker.SetRobotsStatus(model.StageFailed)
		t.Tracker.AddError(model.ErrorKindRobots, "Failed to process robots.txt")
		t.Notifier.Publish(model.NewMessage(model.MessageError, "Failed to process robots.txt"))
	default:
		t.Tracker.SetRobotsStatus(model.StageSuccess)
		t.Notifier.Publish(model.NewMessage(model.MessageSuccess, "Successfully processed robots.txt"))
	}

	snap := t.Tracker.Snapshot()
	e.persistStatus(ctx, t.Job.ID, map[string]any{
		"processing_status.robots_status": snap.RobotsStatus,
		"processing_status.errors":        snap.Errors,
	}, log)
}

// discoverPages queries the sitemap and falls back to the target URL alone
// when discovery fails or yields nothing.
func (e *Engine) discoverPages(ctx context.Context, t Task, log *zap.Logger) []string {
	t.Notifier.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Processing sitemap for %s", t.Job.URL)))

	pages := []string{t.Job.URL}
	found, err := e.sitemap.Discover(ctx, t.Job.URL)
	switch {
	case err != nil:
		msg := fmt.Sprintf("Error in sitemap processing: %v", err)
		t.Tracker.SetSitemapStatus(model.StageError)
		t.Tracker.AddError(model.ErrorKindSitemap, msg)
		t.Notifier.Publish(model.NewMessage(model.MessageError, msg))
		log.Warn("sitemap discovery failed", zap.Error(err))
	case len(found) == 0:
		t.Tracker.SetSitemapStatus(model.StageNoPages)
		t.Tracker.AddError(model.ErrorKindSitemap, "No pages found in sitemap")
		t.Notifier.Publish(model.NewMessage(model.MessageWarning, "No pages found in sitemap"))
	default:
		pages = found
		t.Tracker.SetSitemapStatus(model.StageSuccess)
		t.Notifier.Publish(model.NewMessage(model.MessageSuccess, fmt.Sprintf("Found %d pages in sitemap", len(found))))
	}

	t.Tracker.SetPagesFound(len(pages))
	snap := t.Tracker.Snapshot()
	e.persistStatus(ctx, t.Job.ID, map[string]any{
		"processing_status.sitemap_status": snap.SitemapStatus,
		"processing_status.pages_found":    snap.PagesFound,
		"processing_status.errors":         snap.Errors,
	}, log)
	return pages
}

// prefilter narrows candidates to pages containing configured keywords.
// A page that errors during the check is kept rather than dropped, so a
// transient fetch failure cannot silently lose content. When nothing
// matches, the original candidate slice is processed anyway and the
// outcome is recorded and persisted immediately.
func (e *Engine) prefilter(ctx context.Context, t Task, candidates []string, log *zap.Logger) (pages []string, metaByPage map[string]model.MetaInfo, interrupted bool) {
	job := t.Job
	tr := t.Tracker
	n := t.Notifier

	n.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Filtering pages by keywords: %s", joinKeywords(job.Config.Keywords))))

	metaByPage = make(map[string]model.MetaInfo)
	var filtered []string

	for i, pageURL := range candidates {
		if e.table.Interrupted(job.ID) {
			e.interrupt(ctx, t, fmt.Sprintf("Filtering interrupted after checking %d pages", i), log)
			return nil, nil, true
		}

		checked := tr.IncPagesChecked()
		n.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Checking page %d/%d for keywords: %s", checked, len(candidates), pageURL)))

		res, err := e.keywords.Check(ctx, pageURL, job.Config.Keywords, job.Config.IncludeMeta)
		if err != nil {
			msg := fmt.Sprintf("Error checking keywords in %s: %v", pageURL, err)
			tr.AddError(model.ErrorKindPrefilter, msg)
			n.Publish(model.NewMessage(model.MessageError, msg))
			log.Warn("keyword check failed", zap.String("page", pageURL), zap.Error(err))
			// Keep the page: a transient failure must not drop content.
			filtered = append(filtered, pageURL)
			continue
		}

		if !res.Matched {
			n.Publish(model.NewMessage(model.MessageWarning, fmt.Sprintf("Page %s does not contain any keywords, skipping", pageURL)))
			continue
		}

		filtered = append(filtered, pageURL)
		tr.RecordKeywordMatch(pageURL, res.Matches, res.Contexts)
		if !res.Meta.Empty() {
			metaByPage[pageURL] = res.Meta
		}
		n.Publish(model.NewMessage(model.MessageSuccess, fmt.Sprintf("Page %s contains keywords: %s", pageURL, joinKeywords(res.Matches))))
		for _, kw := range res.Matches {
			n.Publish(model.NewMessage(model.MessageDetail, fmt.Sprintf("Match context: %s: %s", kw, truncate(res.Contexts[kw], 100))))
		}
	}

	snap := tr.Snapshot()
	if snap.PagesWithKeywords > 0 {
		n.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Found %d pages containing keywords out of %d checked", snap.PagesWithKeywords, snap.PagesChecked)))
		e.persistStatus(ctx, job.ID, map[string]any{
			"processing_status.keyword_matches":     snap.KeywordMatches,
			"processing_status.keyword_contexts":    snap.KeywordContexts,
			"processing_status.pages_with_keywords": snap.PagesWithKeywords,
			"processing_status.pages_checked":       snap.PagesChecked,
		}, log)
		n.Publish(model.NewMessage(model.MessageInfo, "Processing only pages containing keywords"))
		return filtered, metaByPage, false
	}

	n.Publish(model.NewMessage(model.MessageWarning, fmt.Sprintf("No pages containing the specified keywords were found after checking %d pages", snap.PagesChecked)))
	tr.SetNoMatches()
	// Persist the fallback outcome right away: it is a distinct,
	// user-relevant result even if the job later fails.
	e.persistStatus(ctx, job.ID, map[string]any{
		"processing_status.keyword_search_results": model.KeywordSearchNoMatches,
		"processing_status.pages_checked":          snap.PagesChecked,
	}, log)
	n.Publish(model.NewMessage(model.MessageInfo, "No pages matched keywords, processing a limited set of pages anyway"))
	return candidates, metaByPage, false
}

// scrapePages runs the fetch-and-persist loop. Per-page failures are
// recorded and skipped; the loop aborts only on interruption, in which
// case it returns true.
func (e *Engine) scrapePages(ctx context.Context, t Task, pages []string, metaByPage map[string]model.MetaInfo, log *zap.Logger) (interrupted bool) {
	job := t.Job
	tr := t.Tracker
	n := t.Notifier

	n.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Starting to scrape %d pages", len(pages))))

	for i, pageURL := range pages {
		if e.table.Interrupted(job.ID) {
			e.interrupt(ctx, t, fmt.Sprintf("Scraping interrupted after processing %d pages", i), log)
			return true
		}

		n.Publish(model.NewMessage(model.MessageInfo, fmt.Sprintf("Scraping page %d/%d: %s", i+1, len(pages), pageURL)))

		snap := tr.Snapshot()
		if matches, ok := snap.KeywordMatches[pageURL]; ok {
			n.Publish(model.NewMessage(model.MessageDetail, fmt.Sprintf("Keyword matches: %s", joinKeywords(matches))))
		}
		if meta, ok := metaByPage[pageURL]; ok {
			if meta.Title != "" {
				n.Publish(model.NewMessage(model.MessageDetail, fmt.Sprintf("Meta title: %s", meta.Title)))
			}
			if meta.Description != "" {
				n.Publish(model.NewMessage(model.MessageDetail, fmt.Sprintf("Meta description: %s", meta.Description)))
			}
		}

		rec, err := e.scraper.Scrape(ctx, pageURL)
		if err != nil {
			msg := fmt.Sprintf("Error scraping %s: %v", pageURL, err)
			tr.AddError(model.ErrorKindScrape, msg)
			n.Publish(model.NewMessage(model.MessageError, msg))
			log.Warn("page scrape failed", zap.String("page", pageURL), zap.Error(err))
			continue
		}

		rec.JobID = job.ID
		if meta, ok := metaByPage[pageURL]; ok {
			rec.Meta = meta
		}
		if err := e.store.InsertPage(ctx, rec); err != nil {
			log.Warn("page persist failed", zap.String("page", pageURL), zap.Error(err))
		}
		scraped := tr.PageScraped(pageURL)

		n.Publish(model.NewMessage(model.MessageSuccess, fmt.Sprintf("Successfully scraped %s", pageURL)))
		n.Publish(model.NewMessage(model.MessageDetail, fmt.Sprintf("Page size: %.1f KB", float64(rec.Metrics.ContentSizeBytes)/1024)))
		if rec.Metrics.DurationMs > 0 {
			n.Publish(model.NewMessage(model.MessageDetail, fmt.Sprintf("Page loaded in %d ms at speed: %.1f KB/s", rec.Metrics.DurationMs, rec.Metrics.SpeedKBps)))
		}
		n.Publish(model.NewMessage(model.MessageDetail, fmt.Sprintf("Extracted %d elements (%d text, %d images)",
			len(rec.TextContent)+len(rec.Images), len(rec.TextContent), len(rec.Images))))

		e.persistStatus(ctx, job.ID, map[string]any{
			"processing_status.pages_scraped": scraped,
			"processing_status.scraped_pages": tr.Snapshot().ScrapedPages,
		}, log)
	}
	return false
}

// interrupt finalizes a cooperatively cancelled job: terminal state, full
// status flush, warning and completion messages.
func (e *Engine) interrupt(ctx context.Context, t Task, stageText string, log *zap.Logger) {
	t.Tracker.Finish(model.JobStateInterrupted)
	e.persistStatus(ctx, t.Job.ID, fullStatusFields(t.Tracker.Snapshot()), log)

	t.Notifier.Publish(model.NewMessage(model.MessageWarning, stageText))
	t.Notifier.Publish(model.NewMessage(model.MessageWarning, "Extraction interrupted by user request"))
	snap := t.Tracker.Snapshot()
	t.Notifier.Publish(model.NewCompletion(model.CompletionInfo{
		JobID:        t.Job.ID,
		State:        snap.State,
		PagesFound:   snap.PagesFound,
		PagesScraped: snap.PagesScraped,
	}))
	e.table.SetState(t.Job.ID, model.JobStateInterrupted)
	log.Info("extraction interrupted", zap.Int("pages_scraped", snap.PagesScraped))
}

// fail finalizes a job after an unrecoverable pipeline failure. It persists
// best-effort and must not itself panic past the worker boundary.
func (e *Engine) fail(ctx context.Context, t Task, msg string, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while finalizing failed job", zap.Any("panic", r))
		}
	}()

	t.Tracker.AddError(model.ErrorKindFatal, msg)
	t.Tracker.Finish(model.JobStateError)
	e.persistStatus(ctx, t.Job.ID, fullStatusFields(t.Tracker.Snapshot()), log)

	t.Notifier.Publish(model.NewMessage(model.MessageError, msg))
	snap := t.Tracker.Snapshot()
	t.Notifier.Publish(model.NewCompletion(model.CompletionInfo{
		JobID:        t.Job.ID,
		State:        snap.State,
		PagesFound:   snap.PagesFound,
		PagesScraped: snap.PagesScraped,
	}))
	e.table.SetState(t.Job.ID, model.JobStateError)
	log.Error("extraction failed", zap.String("reason", msg))
}

// persistStatus writes a partial update and swallows failures; the live
// notification stream is the primary observability path.
func (e *Engine) persistStatus(ctx context.Context, jobID string, fields map[string]any, log *zap.Logger) {
	if err := e.store.ApplyPartialUpdate(ctx, jobID, fields); err != nil {
		log.Warn("status persist failed", zap.Error(err))
	}
}

// fullStatusFields flattens a status snapshot into dotted-path updates for
// a terminal flush.
func fullStatusFields(s model.JobStatus) map[string]any {
	fields := map[string]any{
		"processing_status.extraction_status":   s.State,
		"processing_status.robots_status":       s.RobotsStatus,
		"processing_status.sitemap_status":      s.SitemapStatus,
		"processing_status.pages_found":         s.PagesFound,
		"processing_status.pages_scraped":       s.PagesScraped,
		"processing_status.pages_checked":       s.PagesChecked,
		"processing_status.pages_with_keywords": s.PagesWithKeywords,
		"processing_status.errors":              s.Errors,
		"processing_status.end_time":            s.EndTime,
		"processing_status.keyword_matches":     s.KeywordMatches,
		"processing_status.keyword_contexts":    s.KeywordContexts,
		"processing_status.scraped_pages":       s.ScrapedPages,
	}
	if s.KeywordSearchResults != "" {
		fields["processing_status.keyword_search_results"] = s.KeywordSearchResults
	}
	return fields
}

func limitPages(pages []string, limit int) []string {
	if limit < len(pages) {
		return pages[:limit]
	}
	return pages
}

func joinKeywords(keywords []string) string {
	return strings.Join(keywords, ", ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
