package sharding

import "sort"

// LocalModeShard is the single logical shard id local-mode jobs assign to
// every eligible executor, per spec.md I3.
const LocalModeShard = -1

// Compute returns the new Assignment for job given its current assignment,
// the executor population, and job config, per spec.md §4.4.4. It never
// mutates current. Each executor's placement load starts at zero; callers
// recomputing several jobs in one turn should use ComputeWithBaseline
// instead so load from other jobs already placed this turn is accounted
// for.
func Compute(job JobView, current Assignment, executors map[string]ExecutorView) Assignment {
	return ComputeWithBaseline(job, current, executors, nil)
}

// ComputeWithBaseline is Compute, except the greedy placer's per-executor
// load starts at baseline[executor] instead of zero. Per spec.md §4.4.4, an
// eligible executor's load is "Σ over assigned jobs of (loadLevel(J) ×
// |shardsOnE|)" — baseline carries that sum from every other job already
// recomputed in the same turn, so one job's placement doesn't treat an
// executor saturated by another job as empty. A nil baseline behaves like
// Compute.
func ComputeWithBaseline(job JobView, current Assignment, executors map[string]ExecutorView, baseline map[string]int) Assignment {
	eligible := EligibleExecutors(job, executors)

	if job.LocalMode {
		return computeLocalMode(eligible)
	}
	if job.ShardingTotalCount <= 0 {
		return Assignment{}
	}
	return computeBalanced(job, current, eligible, baseline)
}

func computeLocalMode(eligible []string) Assignment {
	out := make(Assignment, len(eligible))
	for _, exe := range eligible {
		out[exe] = []int{LocalModeShard}
	}
	return out
}

// computeBalanced implements the ascending-load greedy placement with
// minimum-churn retention described in spec.md §4.4.4.
func computeBalanced(job JobView, current Assignment, eligible []string, baseline map[string]int) Assignment {
	eligibleSet := make(map[string]bool, len(eligible))
	for _, e := range eligible {
		eligibleSet[e] = true
	}

	out := make(Assignment, len(eligible))
	for _, e := range eligible {
		out[e] = nil
	}

	placed := make(map[int]bool, job.ShardingTotalCount)
	load := make(map[string]int, len(eligible))
	for _, e := range eligible {
		load[e] = baseline[e]
	}

	// Retain shards held by still-eligible executors (minimum churn).
	for exe, shards := range current {
		if !eligibleSet[exe] {
			continue
		}
		for _, s := range shards {
			if s < 0 || s >= job.ShardingTotalCount || placed[s] {
				continue
			}
			out[exe] = append(out[exe], s)
			placed[s] = true
			load[exe] += job.LoadLevel
		}
	}

	if len(eligible) == 0 {
		return Assignment{}
	}

	var unassigned []int
	for s := 0; s < job.ShardingTotalCount; s++ {
		if !placed[s] {
			unassigned = append(unassigned, s)
		}
	}
	sort.Ints(unassigned)

	for _, s := range unassigned {
		exe := pickLeastLoaded(eligible, load)
		out[exe] = append(out[exe], s)
		load[exe] += job.LoadLevel
	}

	for exe := range out {
		sort.Ints(out[exe])
	}
	return out
}

// pickLeastLoaded returns the eligible executor with the lowest current
// load, breaking ties by lexicographic id (eligible is pre-sorted).
func pickLeastLoaded(eligible []string, load map[string]int) string {
	best := eligible[0]
	bestLoad := load[best]
	for _, exe := range eligible[1:] {
		if load[exe] < bestLoad {
			best = exe
			bestLoad = load[exe]
		}
	}
	return best
}

// Diff returns the set of executor ids whose shard set changed between
// prev and next, for the commit step to know which `/sharding` nodes need
// writing.
func Diff(prev, next Assignment) []string {
	touched := make(map[string]bool)
	for exe := range prev {
		touched[exe] = true
	}
	for exe := range next {
		touched[exe] = true
	}
	var changed []string
	for exe := range touched {
		if !sameShards(prev[exe], next[exe]) {
			changed = append(changed, exe)
		}
	}
	sort.Strings(changed)
	return changed
}

func sameShards(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]int(nil), a...)
	sb := append([]int(nil), b...)
	sort.Ints(sa)
	sort.Ints(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
