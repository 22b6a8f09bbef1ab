package storage

import (
	"context"
	"time"

	"imagetasks/internal/eventbus"
	"imagetasks/internal/task/engine"
	logx "imagetasks/pkg/logx"
)

const recorderBuffer = 256

// Recorder copies task lifecycle events from the bus into a Store.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	return &Recorder{store: store, bus: bus, log: log.With(logx.String("comp", "audit"))}
}

// Run consumes events until ctx is done. It is meant to run under the supervisor.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(recorderBuffer, "task.")
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

// drain records whatever is already buffered so the last events before a
// shutdown are kept.
func (r *Recorder) drain(ch <-chan eventbus.Event) {
	ctx := context.Background()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev eventbus.Event) {
	e := AuditEntry{At: ev.Time, Event: ev.Type}
	if te, ok := ev.Data.(engine.TaskEvent); ok {
		e.TaskID = te.ID
		e.State = te.State
		e.Path = te.Path
		e.Error = te.Error
		e.TookMS = te.Duration.Milliseconds()
	}

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.store.AppendAudit(wctx, e); err != nil {
		r.log.Warn("audit append failed", logx.String("event", ev.Type), logx.String("task", e.TaskID), logx.Err(err))
	}
}
