package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/specrun/internal/scheduler"
)

// HoldExecutor occupies each task's slot for a fixed time without running
// anything, which exercises the dispatch order and concurrency of a config.
type HoldExecutor struct {
	Hold time.Duration
}

func (h HoldExecutor) Execute(ctx context.Context, task *scheduler.Task) error {
	log.Debug().Str("task_id", task.TaskID).Strs("specs", task.Specs).Dur("hold", h.Hold).Msg("holding slot")
	if h.Hold <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(h.Hold)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
