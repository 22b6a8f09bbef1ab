package engine

import (
	"context"
	"image"
	"runtime/debug"
	"time"

	logx "imagetasks/pkg/logx"
)

// run executes one admitted task: transform, encode, report, hook.
// It never returns an error; every outcome goes through the mailbox.
func (s *Service) run(ctx context.Context, j job) {
	queueDelay := j.startedAt.Sub(j.queuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	s.log.Debug("task.started", logx.Stringer("id", j.id), logx.Duration("queue_delay", queueDelay))
	s.publish(EventStarted, j.startedAt, TaskEvent{ID: j.id.String(), State: StateInProgress.String(), QueueDelay: queueDelay})

	st := s.execute(ctx, j)
	s.done.push(completion{id: j.id, status: st, started: j.startedAt, finished: time.Now()})

	if st.Err == nil && j.hook != nil {
		s.callHook(j)
	}
}

func (s *Service) execute(ctx context.Context, j job) Status {
	img := j.payload
	if img == nil {
		return Status{State: StateCompleted, Err: stageError(StageTransform, ErrNilPayload)}
	}

	if j.transform != nil {
		var out image.Image
		err := s.guard(j, StageTransform, func() error {
			var err error
			out, err = j.transform.Apply(ctx, img)
			return err
		})
		if err == nil && out == nil {
			err = ErrNilResult
		}
		if err != nil {
			return Status{State: StateCompleted, Err: stageError(StageTransform, err)}
		}
		img = out
	}

	var path string
	err := s.guard(j, StageEncode, func() error {
		var err error
		path, err = s.enc.Encode(ctx, img, j.dest.Dir, j.dest.Name, s.cfg.Quality)
		return err
	})
	if err != nil {
		return Status{State: StateCompleted, Err: stageError(StageEncode, err)}
	}
	return Status{State: StateCompleted, Path: path}
}

// guard turns a panic in user-supplied code into an error so one bad task
// cannot take the process down.
func (s *Service) guard(j job, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: r}
			s.log.Error("task.panic", logx.Stringer("id", j.id), logx.String("stage", stage), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn()
}

func (s *Service) callHook(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task.hook_panic", logx.Stringer("id", j.id), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	j.hook()
}
