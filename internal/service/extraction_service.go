// Package service exposes the orchestrator façade: job submission, status
// lookup, interrupt requests and progress subscriptions.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-extractor/internal/extract"
	"go-extractor/internal/model"
	"go-extractor/internal/notify"
	"go-extractor/internal/registry"
	"go-extractor/internal/storage"
)

var (
	ErrInvalidInput = errors.New("url is required")
	ErrJobNotFound  = errors.New("job not found")
)

// subscriberBuffer sizes the channel between a job's notification consumer
// and its external subscriber. Messages queue here until the subscriber
// attaches.
const subscriberBuffer = 4096

// Store is the persistence surface the façade needs.
type Store interface {
	CreateJob(ctx context.Context, doc *model.JobDocument) error
	ApplyPartialUpdate(ctx context.Context, jobID string, fields map[string]any) error
	GetJob(ctx context.Context, jobID string) (*model.JobDocument, error)
	GetPagesByJobID(ctx context.Context, jobID string) ([]model.PageRecord, error)
}

type StartRequest struct {
	Owner       string   `json:"owner"`
	URL         string   `json:"url"`
	Mode        string   `json:"scrape_mode"`
	PageLimit   int      `json:"pages_limit"`
	Keywords    []string `json:"search_keywords"`
	IncludeMeta bool     `json:"include_meta"`
	Subscribe   bool     `json:"subscribe"`
}

// StatusView is the merged registry-plus-stats answer to a status query.
// Source is "live" while the registry entry exists, "stored" afterwards.
type StatusView struct {
	JobID              string          `json:"job_id"`
	State              model.JobState  `json:"state"`
	InterruptRequested bool            `json:"interrupt_requested"`
	LastUpdated        time.Time       `json:"last_updated,omitzero"`
	Stats              model.JobStatus `json:"stats"`
	Source             string          `json:"source"`
}

type ExtractionService struct {
	ctx    context.Context
	reg    *registry.Registry
	store  Store
	engine *extract.Engine
	poll   time.Duration
	log    *zap.Logger

	mu   sync.Mutex
	subs map[string]chan model.Message
}

// New wires the façade. ctx bounds the lifetime of all notification
// consumers the service starts.
func New(ctx context.Context, reg *registry.Registry, store Store, engine *extract.Engine, poll time.Duration, log *zap.Logger) *ExtractionService {
	return &ExtractionService{
		ctx:    ctx,
		reg:    reg,
		store:  store,
		engine: engine,
		poll:   poll,
		log:    log,
		subs:   make(map[string]chan model.Message),
	}
}

// StartJob creates and registers a job, starts its notification consumer
// and hands the pipeline to the worker pool. When req.Subscribe is set, a
// subscription handle can afterwards be claimed with ClaimSubscription;
// otherwise the pipeline runs without queueing any messages.
func (s *ExtractionService) StartJob(ctx context.Context, req StartRequest) (*model.Job, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, ErrInvalidInput
	}

	job := &model.Job{
		ID:        uuid.New().String(),
		Owner:     req.Owner,
		URL:       req.URL,
		Config:    model.NormalizeConfig(req.Mode, req.PageLimit, req.Keywords, req.IncludeMeta),
		CreatedAt: time.Now().UTC(),
	}
	tracker := extract.NewTracker()

	// Durability backstop only; a failed initial write does not block the job.
	doc := &model.JobDocument{Job: *job, Status: tracker.Snapshot()}
	if err := s.store.CreateJob(ctx, doc); err != nil {
		s.log.Warn("initial job persist failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	if err := s.reg.Register(job.ID, tracker); err != nil {
		return nil, fmt.Errorf("register job %s: %w", job.ID, err)
	}

	queue := notify.NewQueue()
	var publisher extract.Notifier = queue
	var out chan model.Message
	if req.Subscribe {
		out = make(chan model.Message, subscriberBuffer)
		s.mu.Lock()
		s.subs[job.ID] = out
		s.mu.Unlock()
	} else {
		publisher = notify.Discard{}
	}

	// The consumer runs for every job, subscribed or not: it is the path
	// that reclaims the registry entry once the job settles.
	go notify.Consume(s.ctx, job.ID, queue, s.reg, out, s.poll, s.log)

	task := extract.Task{Job: *job, Tracker: tracker, Notifier: publisher}
	if err := s.engine.Submit(task); err != nil {
		s.mu.Lock()
		delete(s.subs, job.ID)
		s.mu.Unlock()
		tracker.AddError(model.ErrorKindFatal, err.Error())
		tracker.Finish(model.JobStateError)
		s.reg.SetState(job.ID, model.JobStateError)
		// Without this the stored document stays "running" forever once the
		// registry entry is reclaimed.
		snap := tracker.Snapshot()
		if perr := s.store.ApplyPartialUpdate(ctx, job.ID, map[string]any{
			"processing_status.extraction_status": snap.State,
			"processing_status.errors":            snap.Errors,
			"processing_status.end_time":          snap.EndTime,
		}); perr != nil {
			s.log.Warn("persist of rejected job failed", zap.String("job_id", job.ID), zap.Error(perr))
		}
		return nil, fmt.Errorf("submit job %s: %w", job.ID, err)
	}

	s.log.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.String("owner", job.Owner))
	return job, nil
}

// ClaimSubscription hands out the job's message stream. Exactly one caller
// may claim it; subsequent calls return false.
func (s *ExtractionService) ClaimSubscription(jobID string) (<-chan model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.subs[jobID]
	if !ok {
		return nil, false
	}
	delete(s.subs, jobID)
	return out, true
}

// GetStatus answers from the live registry while the job is active, then
// falls back to the persisted document.
func (s *ExtractionService) GetStatus(ctx context.Context, jobID string) (*StatusView, error) {
	if snap, ok := s.reg.Get(jobID); ok {
		return &StatusView{
			JobID:              jobID,
			State:              snap.State,
			InterruptRequested: snap.InterruptRequested,
			LastUpdated:        snap.LastUpdated,
			Stats:              snap.Status,
			Source:             "live",
		}, nil
	}

	doc, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &StatusView{
		JobID:  jobID,
		State:  doc.Status.State,
		Stats:  doc.Status,
		Source: "stored",
	}, nil
}

// RequestInterrupt asks a running job to stop at its next checkpoint.
// Returns false for unknown or already-terminal jobs.
func (s *ExtractionService) RequestInterrupt(jobID string) bool {
	ok := s.reg.RequestInterrupt(jobID)
	if ok {
		s.log.Info("interrupt requested", zap.String("job_id", jobID))
	}
	return ok
}

// GetPages returns the persisted page records for a job.
func (s *ExtractionService) GetPages(ctx context.Context, jobID string) ([]model.PageRecord, error) {
	if _, err := s.GetStatus(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.GetPagesByJobID(ctx, jobID)
}
