// Package notify bridges the worker's synchronous progress events to an
// asynchronous subscriber through one ordered, unbounded queue per job.
package notify

import (
	"sync"

	"go-extractor/internal/model"
)

// Publisher is the worker-facing side of a job's notification channel.
type Publisher interface {
	Publish(model.Message)
}

// Discard is the publisher used when no subscriber was established for a
// job: the pipeline still runs, but nothing is queued.
type Discard struct{}

func (Discard) Publish(model.Message) {}

// Queue is an unbounded FIFO message queue with a wakeup signal for the
// consumer. Publish never blocks.
type Queue struct {
	mu     sync.Mutex
	msgs   []model.Message
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

func (q *Queue) Publish(m model.Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Drain removes and returns all queued messages in arrival order.
func (q *Queue) Drain() []model.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil
	}
	out := q.msgs
	q.msgs = nil
	return out
}

func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs) == 0
}
