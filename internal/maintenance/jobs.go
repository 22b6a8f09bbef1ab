package maintenance

import (
	"context"
	"time"

	"imagetasks/internal/storage"
	"imagetasks/internal/task/engine"
	logx "imagetasks/pkg/logx"

	"github.com/dustin/go-humanize"
)

const (
	JobPrune  = "storage.prune"
	JobReport = "report"
)

// Pruner is the part of storage.Store the prune job needs.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

var _ Pruner = (storage.Store)(nil)

// PruneJob deletes audit entries older than retention.
func PruneJob(spec string, p Pruner, retention time.Duration, log logx.Logger) Job {
	return Job{
		Name:    JobPrune,
		Spec:    spec,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			cutoff := time.Now().Add(-retention)
			n, err := p.Prune(ctx, cutoff)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("audit pruned", logx.Int64("removed", n), logx.String("older_than", humanize.Time(cutoff)))
			}
			return nil
		},
	}
}

// ReportJob logs a summary of the engine state.
func ReportJob(spec string, snap func() engine.Snapshot, log logx.Logger) Job {
	return Job{
		Name: JobReport,
		Spec: spec,
		Run: func(ctx context.Context) error {
			s := snap()
			log.Info("task engine report",
				logx.Int("tasks", s.Tasks),
				logx.Int("in_flight", s.InFlight),
				logx.Int("max_in_progress", s.MaxInProgress),
				logx.Int("queue_len", s.QueueLen),
				logx.String("created", humanize.Comma(int64(s.Created))),
				logx.String("completed", humanize.Comma(int64(s.Completed))),
				logx.String("failed", humanize.Comma(int64(s.Failed))),
				logx.String("canceled", humanize.Comma(int64(s.Canceled))),
				logx.Uint64("dropped", s.Dropped),
			)
			return nil
		},
	}
}
