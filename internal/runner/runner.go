package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3cpo-dev/specrun/internal/scheduler"
	"github.com/3cpo-dev/specrun/internal/telemetry"
	"github.com/3cpo-dev/specrun/pkg/api"
)

var ErrTasksFailed = errors.New("tasks failed")

// TaskSource is the part of the scheduler the runner drives.
type TaskSource interface {
	Claim(ctx context.Context) *scheduler.Pending
	Outstanding() int
	Active() int
	MaxConcurrency() int
}

// Executor runs one task. The runner releases the task afterwards.
type Executor interface {
	Execute(ctx context.Context, task *scheduler.Task) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *scheduler.Task) error

func (f ExecutorFunc) Execute(ctx context.Context, task *scheduler.Task) error { return f(ctx, task) }

// Journal persists dispatches; *store.Store satisfies it.
type Journal interface {
	RecordDispatch(ctx context.Context, d api.Dispatch) error
	MarkReleased(ctx context.Context, runID, taskID string, status api.DispatchStatus, errMsg string) error
}

// Runner drains a scheduler: it keeps claiming while the run has capacity and
// executes each task on its own goroutine.
type Runner struct {
	Scheduler TaskSource
	Executor  Executor
	// Optional.
	Journal   Journal
	Collector *telemetry.Collector
	Limiter   *rate.Limiter
	// PollInterval bounds the wait when nothing can be claimed. Defaults to 50ms.
	PollInterval time.Duration
}

// Result describes a finished run.
type Result struct {
	RunID      string
	Dispatched int
	Failed     []string
	Duration   time.Duration
}

// Run drives the scheduler until no work is outstanding or ctx ends. Executor
// and enrichment failures do not stop the run; they are reported in the result
// and as an ErrTasksFailed error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.Scheduler == nil || r.Executor == nil {
		return nil, errors.New("runner needs a scheduler and an executor")
	}
	poll := r.PollInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}

	res := &Result{RunID: uuid.NewString()}
	start := time.Now()
	log.Info().Str("run_id", res.RunID).Int("outstanding", r.Scheduler.Outstanding()).Msg("run started")

	var (
		mu     sync.Mutex
		failed []string
	)
	fail := func(taskID string) {
		mu.Lock()
		failed = append(failed, taskID)
		mu.Unlock()
		r.Collector.Counter(telemetry.TasksFailed, 1, nil)
	}
	freed := make(chan struct{}, 1)

	g, gctx := errgroup.WithContext(ctx)
	var loopErr error
	for r.Scheduler.Outstanding() > 0 {
		if gctx.Err() != nil {
			break
		}
		if r.Scheduler.Active() >= r.Scheduler.MaxConcurrency() {
			if !waitFreed(gctx, freed, poll) {
				break
			}
			continue
		}
		if r.Limiter != nil {
			if err := r.Limiter.Wait(gctx); err != nil {
				break
			}
		}
		p := r.Scheduler.Claim(gctx)
		if p == nil {
			if !waitFreed(gctx, freed, poll) {
				break
			}
			continue
		}
		task, err := p.Wait(gctx)
		if err != nil {
			var ee *scheduler.EnrichError
			if !errors.As(err, &ee) {
				break
			}
			log.Error().Err(err).Str("task_id", ee.TaskID).Msg("task dropped")
			fail(ee.TaskID)
			if jerr := r.journalFailure(gctx, res.RunID, ee); jerr != nil {
				loopErr = jerr
				break
			}
			continue
		}

		res.Dispatched++
		r.Collector.Counter(telemetry.TasksDispatched, 1, map[string]string{"lane": strconv.Itoa(task.Lane)})
		r.gauges()
		if r.Journal != nil {
			if err := r.Journal.RecordDispatch(gctx, dispatchOf(res.RunID, task)); err != nil {
				task.Release()
				loopErr = fmt.Errorf("journal dispatch: %w", err)
				break
			}
		}

		g.Go(func() error {
			defer signal(freed)
			defer task.Release()
			return r.execute(gctx, res.RunID, task, fail)
		})
	}

	err := g.Wait()
	res.Duration = time.Since(start)
	sort.Strings(failed)
	res.Failed = failed
	r.gauges()

	switch {
	case loopErr != nil:
		return res, loopErr
	case err != nil:
		return res, err
	case ctx.Err() != nil:
		return res, ctx.Err()
	case len(failed) > 0:
		return res, fmt.Errorf("%w: %d of %d: %s", ErrTasksFailed, len(failed), res.Dispatched, strings.Join(failed, ", "))
	}
	log.Info().
		Str("run_id", res.RunID).
		Int("dispatched", res.Dispatched).
		Dur("duration", res.Duration).
		Msg("run finished")
	return res, nil
}

func (r *Runner) execute(ctx context.Context, runID string, task *scheduler.Task, fail func(string)) error {
	log.Info().Str("task_id", task.TaskID).Int("lane", task.Lane).Int("specs", len(task.Specs)).Msg("task started")
	scope := r.Collector.StartTimer(telemetry.TaskDuration, map[string]string{"task_id": task.TaskID})
	err := r.Executor.Execute(ctx, task)
	d := scope.End()

	status, msg := api.DispatchSucceeded, ""
	if err != nil {
		status, msg = api.DispatchFailed, err.Error()
		fail(task.TaskID)
		log.Warn().Err(err).Str("task_id", task.TaskID).Dur("duration", d).Msg("task failed")
	} else {
		log.Info().Str("task_id", task.TaskID).Dur("duration", d).Msg("task finished")
	}
	if r.Journal == nil {
		return nil
	}
	if jerr := r.Journal.MarkReleased(context.WithoutCancel(ctx), runID, task.TaskID, status, msg); jerr != nil {
		return fmt.Errorf("journal release of %s: %w", task.TaskID, jerr)
	}
	return nil
}

func (r *Runner) journalFailure(ctx context.Context, runID string, ee *scheduler.EnrichError) error {
	if r.Journal == nil {
		return nil
	}
	d := api.Dispatch{
		RunID:        runID,
		TaskID:       ee.TaskID,
		Lane:         ee.Lane,
		Kind:         ee.Kind,
		Specs:        ee.Specs,
		Status:       api.DispatchFailed,
		Error:        ee.Error(),
		DispatchedAt: time.Now(),
	}
	if err := r.Journal.RecordDispatch(ctx, d); err != nil {
		return fmt.Errorf("journal dispatch: %w", err)
	}
	return r.Journal.MarkReleased(ctx, runID, ee.TaskID, api.DispatchFailed, ee.Error())
}

func (r *Runner) gauges() {
	r.Collector.Gauge(telemetry.TasksActive, float64(r.Scheduler.Active()), nil)
	r.Collector.Gauge(telemetry.TasksOutstanding, float64(r.Scheduler.Outstanding()), nil)
}

func dispatchOf(runID string, task *scheduler.Task) api.Dispatch {
	return api.Dispatch{
		RunID:        runID,
		TaskID:       task.TaskID,
		Lane:         task.Lane,
		Replica:      task.Replica,
		Kind:         task.Capabilities.Kind(),
		Specs:        task.Specs,
		Capabilities: task.Capabilities,
		Status:       api.DispatchRunning,
		DispatchedAt: time.Now(),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// waitFreed blocks until a task finishes, the poll interval passes, or ctx ends.
// It reports false when ctx ended.
func waitFreed(ctx context.Context, freed <-chan struct{}, poll time.Duration) bool {
	timer := time.NewTimer(poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-freed:
	case <-timer.C:
	}
	return true
}
