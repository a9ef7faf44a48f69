package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DeadlineGrace leaves a client whose clock hit zero time to submit its own
// answers before the server closes the attempt.
const DeadlineGrace = 15 * time.Second

type overdueCloser interface {
	CloseOverdue(ctx context.Context, grace time.Duration) (int, error)
}

// DeadlineWorker force-submits in-progress attempts whose deadline passed,
// including attempts pulled forward by an automatic-submit violation.
type DeadlineWorker struct {
	closer   overdueCloser
	interval time.Duration
	grace    time.Duration
	log      zerolog.Logger
}

// NewDeadlineWorker creates a new DeadlineWorker.
func NewDeadlineWorker(closer overdueCloser, interval time.Duration, log zerolog.Logger) *DeadlineWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &DeadlineWorker{
		closer:   closer,
		interval: interval,
		grace:    DeadlineGrace,
		log:      log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start sweeps on every tick until ctx is cancelled.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("DeadlineWorker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	n, err := w.closer.CloseOverdue(ctx, w.grace)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Deadline sweep failed")
		}
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("Force-submitted overdue attempts")
	}
}
