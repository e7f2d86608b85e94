package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-extractor/internal/model"
)

type staticStatus struct{ s model.JobStatus }

func (f staticStatus) Snapshot() model.JobStatus { return f.s }

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("job-1", staticStatus{}))
	assert.ErrorIs(t, r.Register("job-1", staticStatus{}), ErrDuplicateJob)
}

func TestRequestInterrupt(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("job-1", staticStatus{}))

	assert.False(t, r.RequestInterrupt("unknown"))
	assert.False(t, r.Interrupted("job-1"))

	assert.True(t, r.RequestInterrupt("job-1"))
	assert.True(t, r.Interrupted("job-1"))
	// Idempotent while running.
	assert.True(t, r.RequestInterrupt("job-1"))

	r.SetState("job-1", model.JobStateCompleted)
	assert.False(t, r.RequestInterrupt("job-1"))
}

func TestGetSnapshot(t *testing.T) {
	r := New()
	status := model.NewJobStatus()
	status.PagesFound = 7
	require.NoError(t, r.Register("job-1", staticStatus{s: status}))

	snap, ok := r.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, model.JobStateRunning, snap.State)
	assert.Equal(t, 7, snap.Status.PagesFound)
	assert.False(t, snap.LastUpdated.IsZero())

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestSettledAndFinalize(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("job-1", staticStatus{}))

	assert.True(t, r.Settled("unknown"), "absent jobs count as settled")
	assert.False(t, r.Settled("job-1"))

	r.SetState("job-1", model.JobStateInterrupted)
	assert.True(t, r.Settled("job-1"))

	r.FinalizeAndRemove("job-1")
	_, ok := r.Get("job-1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("job-1", staticStatus{}))
	require.NoError(t, r.Register("job-2", staticStatus{}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			r.RequestInterrupt("job-1")
		}()
		go func() {
			defer wg.Done()
			r.Interrupted("job-2")
			r.SetState("job-2", model.JobStateRunning)
		}()
		go func() {
			defer wg.Done()
			r.Get("job-1")
			r.Settled("job-2")
		}()
	}
	wg.Wait()

	assert.True(t, r.Interrupted("job-1"))
}
