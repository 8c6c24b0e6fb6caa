package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/specrun/internal/capability"
	"github.com/3cpo-dev/specrun/internal/enrich"
)

// Task is one unit of work handed to the caller.
type Task struct {
	TaskID       string
	Capabilities capability.Capabilities
	Specs        []string
	// Lane is the 1-based capability entry the task came from; Replica tells the
	// replicas of that entry apart.
	Lane    int
	Replica int

	release func()
}

// Release frees the task's concurrency slot. Calls after the first are no-ops.
func (t *Task) Release() {
	if t.release != nil {
		t.release()
	}
}

// EnrichError reports a failed capability enrichment. The claimed slot has already
// been released and the spec set is not dispatched again.
type EnrichError struct {
	TaskID string
	Lane   int
	Kind   string
	Specs  []string
	Err    error
}

func (e *EnrichError) Error() string {
	return fmt.Sprintf("enrich %s capability for task %s: %v", e.Kind, e.TaskID, e.Err)
}

func (e *EnrichError) Unwrap() error { return e.Err }

// Pending is a claimed task whose capability may still be enriching.
type Pending struct {
	TaskID string

	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	abandoned bool
	task      *Task
	err       error
}

// Wait blocks until enrichment completes or ctx is done. A finished task is
// returned even when ctx is already done. When ctx ends first the claim is
// abandoned: Wait returns ctx.Err() and the slot is released as soon as
// enrichment finishes.
func (p *Pending) Wait(ctx context.Context) (*Task, error) {
	select {
	case <-p.done:
		return p.result()
	default:
	}
	select {
	case <-p.done:
		return p.result()
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-p.done:
			task, err := p.task, p.err
			p.mu.Unlock()
			return task, err
		default:
		}
		p.abandoned = true
		p.mu.Unlock()
		p.cancel()
		go func() {
			<-p.done
			if p.task != nil {
				p.task.Release()
			}
		}()
		return nil, ctx.Err()
	}
}

func (p *Pending) result() (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return nil, context.Canceled
	}
	return p.task, p.err
}

// Done is closed once the task (or its error) is final.
func (p *Pending) Done() <-chan struct{} { return p.done }

func (s *Scheduler) startEnrichment(ctx context.Context, task *Task) *Pending {
	ectx, cancel := context.WithCancel(ctx)
	p := &Pending{TaskID: task.TaskID, done: make(chan struct{}), cancel: cancel}

	kind := task.Capabilities.Kind()
	var e enrich.Enricher
	if s.enrichers != nil {
		if found, ok := s.enrichers.Lookup(kind); ok {
			e = found
		}
	}
	if e == nil {
		p.finish(task, nil)
		cancel()
		return p
	}

	go func() {
		defer cancel()
		caps, err := runEnricher(ectx, e, task)
		if err != nil {
			task.Release()
			p.finish(nil, &EnrichError{
				TaskID: task.TaskID,
				Lane:   task.Lane,
				Kind:   kind,
				Specs:  task.Specs,
				Err:    err,
			})
			return
		}
		if caps != nil {
			task.Capabilities = caps
		}
		p.finish(task, nil)
	}()
	return p
}

func runEnricher(ctx context.Context, e enrich.Enricher, task *Task) (caps capability.Capabilities, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enricher panic: %v", r)
		}
	}()
	return e.Enrich(ctx, task.Capabilities, task.TaskID)
}

func (p *Pending) finish(task *Task, err error) {
	if task != nil {
		log.Debug().
			Str("task_id", task.TaskID).
			Int("lane", task.Lane).
			Int("replica", task.Replica).
			Str("specs", strings.Join(task.Specs, ",")).
			Interface("capabilities", task.Capabilities).
			Msg("task dispatched")
	}
	p.mu.Lock()
	p.task = task
	p.err = err
	close(p.done)
	p.mu.Unlock()
}
