package engine

import (
	"context"
	"time"

	logx "imagetasks/pkg/logx"
)

// reconcileLoop is the single consumer of the completion mailbox. It wakes on
// every report and on a fixed tick, the latter so that attached tasks get
// admitted even when nothing completes.
func (s *Service) reconcileLoop(ctx context.Context) error {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done.ready():
		case <-t.C:
		}
		s.reconcile()
	}
}

// reconcile applies every completion available right now and refills freed slots.
func (s *Service) reconcile() int {
	batch := s.done.drain()
	for _, c := range batch {
		s.apply(c)
	}
	s.Admit()
	return len(batch)
}

func (s *Service) apply(c completion) {
	s.mu.Lock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	rec, ok := s.tasks[c.id]
	if !ok || rec.Status.State != StateInProgress {
		s.mu.Unlock()
		// Removed or canceled while running: the slot is released, the outcome is not recorded.
		s.dropped.Add(1)
		s.log.Debug("task.completion_dropped", logx.Stringer("id", c.id), logx.Bool("removed", !ok))
		return
	}
	rec.Status = c.status
	rec.FinishedAt = c.finished
	s.mu.Unlock()

	dur := c.finished.Sub(c.started)
	id := c.id.String()
	if err := c.status.Err; err != nil {
		s.failed.Add(1)
		s.log.Warn("task.failed", logx.String("id", id), logx.Err(err), logx.Duration("dur", dur))
		s.publish(EventFailed, c.finished, TaskEvent{ID: id, State: StateCompleted.String(), Error: err.Error(), Duration: dur})
		return
	}
	s.completed.Add(1)
	s.log.Info("task.completed", logx.String("id", id), logx.String("path", c.status.Path), logx.Duration("dur", dur))
	s.publish(EventCompleted, c.finished, TaskEvent{ID: id, State: StateCompleted.String(), Path: c.status.Path, Duration: dur})
}
