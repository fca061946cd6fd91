// Package retention keeps the ping collection under its ceiling in the background.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bustrack/internal/queue"
)

// Pruner trims pings down to the retention ceiling.
type Pruner interface {
	EnforceCeiling(ctx context.Context) (int64, error)
}

type Options struct {
	// Interval between scheduled runs. Defaults to ten minutes.
	Interval time.Duration
	// Timeout bounds one run. Defaults to thirty seconds.
	Timeout time.Duration
	// EventsPerRun triggers an extra run after that many ping events. Zero disables it.
	EventsPerRun int
}

// Worker runs the pruner on a ticker and after bursts of ping.recorded events.
type Worker struct {
	pruner Pruner
	q      queue.Queue
	opts   Options
	log    *zap.Logger
}

// NewWorker builds a worker. q may be nil, in which case only the ticker drives runs.
func NewWorker(p Pruner, q queue.Queue, opts Options, log *zap.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{pruner: p, q: q, opts: opts, log: log}
}

// Run blocks until ctx is cancelled. It prunes once at start.
func (w *Worker) Run(ctx context.Context) error {
	var events <-chan queue.Message
	if w.q != nil {
		ch, err := w.q.Consume(ctx)
		if err != nil {
			return err
		}
		events = ch
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.log.Info("retention worker started",
		zap.Duration("interval", w.opts.Interval),
		zap.Int("eventsPerRun", w.opts.EventsPerRun))
	w.runOnce(ctx, "startup")

	seen := 0
	for {
		select {
		case <-ctx.Done():
			w.log.Info("retention worker stopped")
			return nil
		case <-ticker.C:
			w.runOnce(ctx, "tick")
			seen = 0
		case msg, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if msg.Type != queue.TypePingRecorded {
				continue
			}
			seen++
			if w.opts.EventsPerRun > 0 && seen >= w.opts.EventsPerRun {
				w.runOnce(ctx, "events")
				seen = 0
			}
		}
	}
}

func (w *Worker) runOnce(ctx context.Context, trigger string) {
	runCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()
	deleted, err := w.pruner.EnforceCeiling(runCtx)
	if err != nil {
		w.log.Error("retention run failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	if deleted > 0 {
		w.log.Info("retention run", zap.String("trigger", trigger), zap.Int64("deleted", deleted))
	}
}
