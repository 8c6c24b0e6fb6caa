package scheduler

import "github.com/3cpo-dev/specrun/internal/capability"

// workQueue is one execution lane: a capability template, its pending spec sets and
// the live concurrency accounting. Fields are only touched under Scheduler.mu.
type workQueue struct {
	capability     capability.Capabilities
	maxConcurrency int
	pending        [][]string
	nextIndex      int
	inFlight       int

	// position is the 1-based index in the scheduler's queue list.
	position int
	lane     int
	replica  int
}

func (q *workQueue) eligible() bool {
	return q.inFlight < q.maxConcurrency && q.nextIndex < len(q.pending)
}

func (q *workQueue) remaining() int { return len(q.pending) - q.nextIndex }

// partitionSpecs splits specs into dispatchable units: one per file when sharding,
// otherwise a single unit holding every file. An empty unsharded list still yields
// one empty unit.
func partitionSpecs(specs []string, shard bool) [][]string {
	if !shard {
		return [][]string{append([]string{}, specs...)}
	}
	sets := make([][]string, 0, len(specs))
	for _, s := range specs {
		sets = append(sets, []string{s})
	}
	return sets
}

func copySpecSets(sets [][]string) [][]string {
	out := make([][]string, len(sets))
	for i, s := range sets {
		out[i] = append([]string{}, s...)
	}
	return out
}

// shardSuffix encodes index in bijective base 26: 0 -> "a", 25 -> "z", 26 -> "aa".
func shardSuffix(index int) string {
	var buf []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		buf = append([]byte{byte('a' + (n-1)%26)}, buf...)
	}
	return string(buf)
}
