package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Admit moves queued tasks to InProgress while the concurrency bound allows
// and launches one worker per admitted task. It is safe to call at any time
// and from any goroutine; redundant calls are cheap.
//
// Admission is a no-op before Start and after Stop.
func (s *Service) Admit() { s.admit(time.Now()) }

// admit returns the number of tasks started.
func (s *Service) admit(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsup == nil || s.stopped {
		return 0
	}

	started := 0
	for s.inFlight < s.cfg.MaxInProgress && len(s.queue) > 0 {
		id := s.queue[0]
		s.queue[0] = uuid.Nil
		s.queue = s.queue[1:]

		rec, ok := s.tasks[id]
		if !ok || rec.Status.State != StateWaiting {
			// Removed or canceled while queued.
			continue
		}

		s.inFlight++
		rec.Status = Status{State: StateInProgress}
		rec.StartedAt = now

		j := job{
			id:        rec.ID,
			dest:      rec.Destination,
			payload:   rec.Payload,
			transform: rec.Transform,
			hook:      rec.Hook,
			queuedAt:  rec.QueuedAt,
			startedAt: now,
		}
		// Spawned under the lock so Stop cannot begin waiting between the
		// slot being taken and the worker being registered.
		s.wsup.Go("worker", func(ctx context.Context) error {
			s.run(ctx, j)
			return nil
		})
		started++
	}
	if len(s.queue) == 0 {
		s.queue = nil
	}
	return started
}
