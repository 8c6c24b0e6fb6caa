package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/specrun/internal/capability"
	"github.com/3cpo-dev/specrun/internal/enrich"
)

var (
	ErrNoCapabilities = errors.New("no capabilities configured")
	ErrNoResolver     = errors.New("no pattern resolver configured")
)

// PatternResolver expands spec patterns into an ordered, deduplicated list of
// absolute paths.
type PatternResolver interface {
	Resolve(patterns []string, exclusion bool, baseDir string) ([]string, error)
}

// Enrichers looks up the enricher for a capability kind.
type Enrichers interface {
	Lookup(kind string) (enrich.Enricher, bool)
}

// Config is the scheduler input.
type Config struct {
	// BaseDir anchors relative patterns.
	BaseDir      string
	Specs        []string
	Exclude      []string
	Capabilities []capability.Capabilities
	// MaxSessions, when positive, is reported by MaxConcurrency. Claim does not
	// enforce it; the driver loop does.
	MaxSessions int
}

type Options struct {
	Resolver  PatternResolver
	Enrichers Enrichers
}

// Scheduler hands out tasks from a fixed set of lanes, rotating between lanes and
// honouring each lane's concurrency cap. All methods are safe for concurrent use.
type Scheduler struct {
	mu          sync.Mutex
	queues      []*workQueue
	rotation    int
	maxSessions int
	enrichers   Enrichers
}

// New resolves the spec sets of every configured capability and builds its lanes.
func New(cfg Config, opts Options) (*Scheduler, error) {
	if len(cfg.Capabilities) == 0 {
		return nil, ErrNoCapabilities
	}
	if opts.Resolver == nil {
		return nil, ErrNoResolver
	}
	res := opts.Resolver

	excludes, err := res.Resolve(cfg.Exclude, true, cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve excludes: %w", err)
	}
	all, err := res.Resolve(cfg.Specs, false, cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve specs: %w", err)
	}
	base := without(all, excludes)

	s := &Scheduler{maxSessions: cfg.MaxSessions, enrichers: opts.Enrichers}
	for i, caps := range cfg.Capabilities {
		lane := i + 1
		specs := base
		if patterns := caps.Specs(); len(patterns) > 0 {
			extra, err := res.Resolve(patterns, false, cfg.BaseDir)
			if err != nil {
				return nil, fmt.Errorf("resolve specs of capability %d: %w", lane, err)
			}
			specs = append(append([]string{}, specs...), extra...)
		}
		if patterns := caps.Exclude(); len(patterns) > 0 {
			ex, err := res.Resolve(patterns, true, cfg.BaseDir)
			if err != nil {
				return nil, fmt.Errorf("resolve excludes of capability %d: %w", lane, err)
			}
			specs = without(specs, ex)
		}

		sets := partitionSpecs(specs, caps.ShardTestFiles())
		for r := 1; r <= caps.Count(); r++ {
			s.queues = append(s.queues, &workQueue{
				capability:     caps,
				maxConcurrency: caps.MaxInstances(),
				pending:        copySpecSets(sets),
				position:       len(s.queues) + 1,
				lane:           lane,
				replica:        r,
			})
		}
		log.Debug().
			Int("lane", lane).
			Str("kind", caps.Kind()).
			Int("specs", len(specs)).
			Int("units", len(sets)).
			Int("replicas", caps.Count()).
			Int("max_instances", caps.MaxInstances()).
			Msg("lane configured")
	}
	return s, nil
}

// without returns paths minus every entry of drop, keeping order.
func without(paths, drop []string) []string {
	if len(drop) == 0 {
		return paths
	}
	set := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		set[d] = struct{}{}
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := set[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Claim reserves the next task. It returns nil when no lane may dispatch right
// now, either because every lane is at its cap or because no work is left.
// Capability enrichment starts immediately; the task is obtained from Wait.
func (s *Scheduler) Claim(ctx context.Context) *Pending {
	s.mu.Lock()
	q := s.pick()
	if q == nil {
		s.mu.Unlock()
		return nil
	}
	q.inFlight++
	taskID := strconv.Itoa(q.position)
	if len(q.pending) > 1 {
		taskID += shardSuffix(q.nextIndex)
	}
	specs := q.pending[q.nextIndex]
	q.nextIndex++
	s.mu.Unlock()

	task := &Task{
		TaskID:       taskID,
		Capabilities: q.capability.DeepCopy(),
		Specs:        specs,
		Lane:         q.lane,
		Replica:      q.replica,
		release:      s.releaser(q),
	}
	return s.startEnrichment(ctx, task)
}

// pick scans from the rotation cursor for the first eligible queue and moves the
// cursor past it. Callers hold s.mu.
func (s *Scheduler) pick() *workQueue {
	n := len(s.queues)
	for i := 0; i < n; i++ {
		idx := (s.rotation + i) % n
		if q := s.queues[idx]; q.eligible() {
			s.rotation = (idx + 1) % n
			return q
		}
	}
	return nil
}

func (s *Scheduler) releaser(q *workQueue) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			q.inFlight--
			s.mu.Unlock()
		})
	}
}

// NextTask claims a task and waits for its enrichment. It returns (nil, nil) when
// no task is available.
func (s *Scheduler) NextTask(ctx context.Context) (*Task, error) {
	p := s.Claim(ctx)
	if p == nil {
		return nil, nil
	}
	return p.Wait(ctx)
}

// Outstanding returns the number of tasks running plus those not yet claimed.
// Zero means the run is complete.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, q := range s.queues {
		count += q.inFlight + q.remaining()
	}
	return count
}

// MaxConcurrency returns MaxSessions when set, otherwise the most tasks that could
// ever run at once given each lane's cap and its amount of work.
func (s *Scheduler) MaxConcurrency() int {
	if s.maxSessions > 0 {
		return s.maxSessions
	}
	count := 0
	for _, q := range s.queues {
		count += min(q.maxConcurrency, len(q.pending))
	}
	return count
}

// Active returns the number of claimed, unreleased tasks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, q := range s.queues {
		count += q.inFlight
	}
	return count
}

// LaneStatus is a point-in-time view of one queue.
type LaneStatus struct {
	Position       int
	Lane           int
	Replica        int
	Kind           string
	MaxConcurrency int
	InFlight       int
	Dispatched     int
	Units          int
	Sharded        bool
}

// Lanes returns the status of every queue in queue order.
func (s *Scheduler) Lanes() []LaneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LaneStatus, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, LaneStatus{
			Position:       q.position,
			Lane:           q.lane,
			Replica:        q.replica,
			Kind:           q.capability.Kind(),
			MaxConcurrency: q.maxConcurrency,
			InFlight:       q.inFlight,
			Dispatched:     q.nextIndex,
			Units:          len(q.pending),
			Sharded:        q.capability.ShardTestFiles(),
		})
	}
	return out
}
