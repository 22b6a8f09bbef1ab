package engine

import (
	"context"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"imagetasks/internal/eventbus"
	"imagetasks/internal/imaging"
	logx "imagetasks/pkg/logx"

	rtsup "imagetasks/internal/runtime/supervisor"

	"github.com/google/uuid"
)

// Service is the admission-controlled task scheduler.
//
// All task state (table, admission queue, in-flight counter) lives behind mu.
// Workers never touch it directly; they report through the completion mailbox
// which the reconciler applies.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	enc Encoder

	mu       sync.Mutex
	tasks    map[uuid.UUID]*Record
	queue    []uuid.UUID
	inFlight int
	stopped  bool

	done *mailbox

	// sup hosts the reconciler; wsup hosts per-task workers and outlives the
	// caller's context so Stop can drain them.
	sup  *rtsup.Supervisor
	wsup *rtsup.Supervisor

	created   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	canceled  atomic.Uint64
	dropped   atomic.Uint64
}

// New builds a Service. enc may be nil, in which case artifacts are written as JPEG.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, enc Encoder) *Service {
	cfg = cfg.withDefaults()
	if abs, err := imaging.AbsPath(cfg.OutputDir); err == nil {
		cfg.OutputDir = abs
	}
	if enc == nil {
		enc = imaging.JPEGEncoder{}
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		enc:   enc,
		tasks: make(map[uuid.UUID]*Record),
		done:  newMailbox(),
	}
}

// Config returns the effective (defaulted) configuration.
func (s *Service) Config() Config { return s.cfg }

// Start launches the reconciliation loop. Tasks created before Start are
// admitted immediately. Start is a no-op on a started or stopped Service.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.wsup = rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine.worker"))),
		rtsup.WithCancelOnError(false),
	)
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("reconcile", s.reconcileLoop, rtsup.WithPublishFirstError(true))

	s.log.Info("task engine started",
		logx.Int("max_in_progress", s.cfg.MaxInProgress),
		logx.Int("quality", s.cfg.Quality),
		logx.String("output_dir", s.cfg.OutputDir),
		logx.Duration("tick", s.cfg.TickInterval),
	)
	s.Admit()
}

// Stop halts admission, stops the reconciler and waits for in-flight workers.
// If ctx expires first the workers' context is canceled.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sup, wsup := s.sup, s.wsup
	s.mu.Unlock()

	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine reconciler stop timed out", logx.Err(err))
	}
	if err := wsup.Wait(ctx); err != nil && ctx.Err() != nil {
		wsup.Cancel()
		s.log.Warn("task engine stop timed out; canceling workers", logx.Err(ctx.Err()))
	}

	// Apply whatever the workers reported while we were waiting.
	s.reconcile()
	s.log.Info("task engine stopped")
}

// Create registers a new task and returns its id.
//
// Without a payload the task waits for Attach; with one it is queued and
// admission runs immediately.
func (s *Service) Create(opt CreateOptions) uuid.UUID {
	now := time.Now()
	rec := &Record{
		ID:          uuid.New(),
		Status:      Status{State: StateWaitingForImage},
		Destination: s.destination(opt.Name, opt.Subfolder),
		Transform:   opt.Transform,
		Hook:        opt.Hook,
		CreatedAt:   now,
	}
	queued := opt.Payload != nil
	if queued {
		rec.Payload = opt.Payload
		rec.Status = Status{State: StateWaiting}
		rec.QueuedAt = now
	}

	s.mu.Lock()
	s.tasks[rec.ID] = rec
	if queued {
		s.queue = append(s.queue, rec.ID)
	}
	s.mu.Unlock()

	s.created.Add(1)
	s.log.Debug("task.created", logx.Stringer("id", rec.ID), logx.String("dir", rec.Destination.Dir), logx.String("name", rec.Destination.Name), logx.Bool("payload", queued))
	s.publish(EventCreated, now, TaskEvent{ID: rec.ID.String(), State: rec.Status.State.String()})
	if queued {
		s.publish(EventQueued, now, TaskEvent{ID: rec.ID.String(), State: StateWaiting.String()})
	}

	s.Admit()
	return rec.ID
}

// Attach supplies the payload of a task created without one.
//
// The task is queued but admission is left to the caller (Admit) or the next
// reconciler tick. A canceled task accepts the payload but is never queued.
func (s *Service) Attach(id uuid.UUID, img image.Image) error {
	if img == nil {
		return ErrNilPayload
	}
	now := time.Now()

	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	if rec.Payload != nil {
		s.mu.Unlock()
		return ErrImageAlreadyAssigned
	}
	rec.Payload = img
	queued := rec.Status.State == StateWaitingForImage
	if queued {
		rec.Status = Status{State: StateWaiting}
		rec.QueuedAt = now
		s.queue = append(s.queue, id)
	}
	s.mu.Unlock()

	if queued {
		s.publish(EventQueued, now, TaskEvent{ID: id.String(), State: StateWaiting.String()})
	}
	return nil
}

// Cancel moves a non-terminal task to Canceled. Unknown ids and finished
// tasks are left alone. A nil err is recorded as ErrCanceled.
//
// Canceling an in-progress task does not interrupt its worker; the worker's
// eventual report is discarded.
func (s *Service) Cancel(id uuid.UUID, err error) {
	if err == nil {
		err = ErrCanceled
	}
	now := time.Now()

	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok || rec.Status.State.Terminal() {
		s.mu.Unlock()
		return
	}
	prev := rec.Status.State
	rec.Status = Status{State: StateCanceled, Err: err}
	rec.FinishedAt = now
	s.mu.Unlock()

	s.canceled.Add(1)
	s.log.Info("task.canceled", logx.Stringer("id", id), logx.Stringer("from", prev), logx.Err(err))
	s.publish(EventCanceled, now, TaskEvent{ID: id.String(), State: StateCanceled.String(), Error: err.Error()})
}

// Get returns a copy of the task record.
func (s *Service) Get(id uuid.UUID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Remove deletes a task record. It reports whether the id was present.
//
// A queued id is skipped at admission; a running worker finishes but its
// report is discarded. The concurrency slot is released either way.
func (s *Service) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.publish(EventRemoved, time.Now(), TaskEvent{ID: id.String(), State: rec.Status.State.String()})
	return true
}

// Snapshot returns counters for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	byState := make(map[string]int, 5)
	for _, rec := range s.tasks {
		byState[rec.Status.State.String()]++
	}
	ql := 0
	for _, id := range s.queue {
		if rec, ok := s.tasks[id]; ok && rec.Status.State == StateWaiting {
			ql++
		}
	}
	snap := Snapshot{
		MaxInProgress: s.cfg.MaxInProgress,
		InFlight:      s.inFlight,
		QueueLen:      ql,
		Tasks:         len(s.tasks),
		ByState:       byState,
	}
	wsup := s.wsup
	s.mu.Unlock()

	snap.Created = s.created.Load()
	snap.Completed = s.completed.Load()
	snap.Failed = s.failed.Load()
	snap.Canceled = s.canceled.Load()
	snap.Dropped = s.dropped.Load()
	snap.Quality = s.cfg.Quality
	snap.OutputDir = s.cfg.OutputDir
	snap.TickInterval = s.cfg.TickInterval
	snap.Workers = wsup.Counters()
	return snap
}

func (s *Service) destination(name, subfolder string) Destination {
	parts := append([]string{s.cfg.OutputDir}, imaging.SplitSubfolder(subfolder)...)
	n := imaging.SanitizeName(name)
	if n == "" {
		n = imaging.RandomName(randomNameLen)
	}
	return Destination{Dir: filepath.Join(parts...), Name: n}
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
