package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go-extractor/internal/model"
)

// MemoryStore keeps job documents and pages in process memory. It backs
// tests and configurations without a database path, with the same
// partial-update semantics as the SQLite store.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]map[string]any
	pages map[string][]model.PageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]map[string]any),
		pages: make(map[string][]model.PageRecord),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, doc *model.JobDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal job document: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[doc.ID] = m
	return nil
}

func (s *MemoryStore) ApplyPartialUpdate(_ context.Context, jobID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	for path, value := range fields {
		if err := setPath(doc, path, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*model.JobDocument, error) {
	s.mu.RLock()
	m, ok := s.jobs[jobID]
	if !ok {
		s.mu.RUnlock()
		return nil, ErrNotFound
	}
	raw, err := json.Marshal(m)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	var doc model.JobDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode job %s document: %w", jobID, err)
	}
	return &doc, nil
}

func (s *MemoryStore) InsertPage(_ context.Context, rec *model.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rec.JobID] = append(s.pages[rec.JobID], *rec)
	return nil
}

func (s *MemoryStore) GetPagesByJobID(_ context.Context, jobID string) ([]model.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := make([]model.PageRecord, len(s.pages[jobID]))
	copy(pages, s.pages[jobID])
	return pages, nil
}

func (s *MemoryStore) Close() error { return nil }
