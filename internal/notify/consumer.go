package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"go-extractor/internal/model"
)

// DefaultPollInterval bounds how long the consumer waits on an empty queue
// before re-checking the job's registry entry.
const DefaultPollInterval = 100 * time.Millisecond

// JobTable is the slice of the registry the consumer needs: a settled check
// and the reclaim hook it triggers on exit.
type JobTable interface {
	Settled(jobID string) bool
	FinalizeAndRemove(jobID string)
}

// Consume forwards queued messages for one job to out in arrival order.
// It stops only once the queue is empty and the registry entry is absent or
// terminal; checking in that order means a final burst published just
// before the terminal transition is still delivered. On exit it removes the
// registry entry and closes out.
//
// out may be nil for jobs without a subscriber; drained messages are then
// dropped but the entry is still reclaimed. A subscriber that stops reading
// is given at most one poll interval per message before the message is
// dropped, so a stalled or disconnected subscriber can never wedge the
// consumer or leak the registry entry.
func Consume(ctx context.Context, jobID string, q *Queue, table JobTable, out chan<- model.Message, poll time.Duration, log *zap.Logger) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	var dropped int
	defer func() {
		table.FinalizeAndRemove(jobID)
		if out != nil {
			close(out)
		}
		if dropped > 0 {
			log.Warn("dropped messages for stalled subscriber",
				zap.String("job_id", jobID), zap.Int("dropped", dropped))
		}
		log.Debug("notification consumer stopped", zap.String("job_id", jobID))
	}()

	// forward delivers the drained batch, dropping messages the subscriber
	// does not accept within the poll interval. Returns false once ctx ends.
	forward := func(msgs []model.Message) bool {
		for _, m := range msgs {
			if out == nil {
				continue
			}
			select {
			case out <- m:
				continue
			default:
			}
			wait := time.NewTimer(poll)
			select {
			case out <- m:
				wait.Stop()
			case <-wait.C:
				dropped++
			case <-ctx.Done():
				wait.Stop()
				return false
			}
		}
		return true
	}

	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		if !forward(q.Drain()) {
			return
		}

		if q.Empty() && table.Settled(jobID) {
			// One last drain: a message may have been published between the
			// empty check and the settled check.
			forward(q.Drain())
			return
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(poll)

		select {
		case <-q.signal:
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}
}
