package maintenance

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "imagetasks/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Job is a periodic housekeeping function.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobStats describe a registered job.
type JobStats struct {
	Name      string        `json:"name"`
	Spec      string        `json:"spec"`
	Next      time.Time     `json:"next"`
	Runs      uint64        `json:"runs"`
	Failures  uint64        `json:"failures"`
	LastRunAt time.Time     `json:"last_run_at"`
	LastDur   time.Duration `json:"last_duration"`
	LastErr   string        `json:"last_err,omitempty"`
}

var ErrStarted = errors.New("maintenance already started")

// Service runs Jobs on cron schedules. Overlapping runs of the same job are skipped.
type Service struct {
	log logx.Logger
	loc *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	stats   map[string]*JobStats
	jobs    []Job
}

func New(log logx.Logger, loc *time.Location) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:     log,
		loc:     loc,
		entries: map[string]cron.EntryID{},
		stats:   map[string]*JobStats{},
	}
}

// Add registers a job. Jobs must be added before Start.
func (s *Service) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("maintenance job needs a name and a run func")
	}
	spec, err := NormalizeSpec(j.Spec)
	if err != nil {
		return fmt.Errorf("%s: %w", j.Name, err)
	}
	j.Spec = spec

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return ErrStarted
	}
	if _, dup := s.stats[j.Name]; dup {
		return fmt.Errorf("maintenance job %q already registered", j.Name)
	}
	s.jobs = append(s.jobs, j)
	s.stats[j.Name] = &JobStats{Name: j.Name, Spec: spec}
	return nil
}

// Start begins triggering. It is a no-op when no jobs are registered.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || len(s.jobs) == 0 {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	for _, j := range s.jobs {
		j := j
		id, err := s.c.AddFunc(j.Spec, func() { s.runJob(j) })
		if err != nil {
			// Specs were validated in Add.
			s.log.Error("maintenance job rejected", logx.String("job", j.Name), logx.Err(err))
			continue
		}
		s.entries[j.Name] = id
	}
	s.c.Start()
	s.log.Info("maintenance started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("maintenance stop timed out; canceling jobs")
	}
	cancel()
	s.log.Info("maintenance stopped")
}

// RunNow executes a registered job synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var job *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			job = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("unknown maintenance job %q", name)
	}
	return s.runJob(*job)
}

// Snapshot lists jobs sorted by name.
func (s *Service) Snapshot() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStats, 0, len(s.stats))
	for name, st := range s.stats {
		cp := *st
		if id, ok := s.entries[name]; ok && s.c != nil {
			cp.Next = s.c.Entry(id).Next
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) runJob(j Job) (err error) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("maintenance job panicked", logx.String("job", j.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		s.record(j.Name, start, err)
	}()
	return j.Run(ctx)
}

func (s *Service) record(name string, start time.Time, err error) {
	dur := time.Since(start)
	s.mu.Lock()
	st := s.stats[name]
	if st != nil {
		st.Runs++
		st.LastRunAt = start
		st.LastDur = dur
		st.LastErr = ""
		if err != nil {
			st.Failures++
			st.LastErr = err.Error()
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("maintenance job failed", logx.String("job", name), logx.Duration("dur", dur), logx.Err(err))
		return
	}
	s.log.Debug("maintenance job done", logx.String("job", name), logx.Duration("dur", dur))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
