package sharding

import (
	"sort"
	"time"
)

// Eligible reports whether executor exe may run shards of job per spec.md
// §4.4.3: online, job enabled, outside any configured pause window, and
// satisfying the prefer-list rules.
func Eligible(job JobView, exe ExecutorView) bool {
	if !exe.Online || !job.Enabled {
		return false
	}
	if job.Paused(time.Now()) {
		return false
	}
	if len(job.PreferList) == 0 {
		return !exe.Container
	}
	named := false
	for _, p := range job.PreferList {
		if p == exe.ID {
			named = true
			break
		}
	}
	if named {
		return true
	}
	if job.UseDispreferList {
		if exe.Container {
			return true
		}
		return !exe.Container
	}
	return false
}

// EligibleExecutors returns the eligible executor ids for job, sorted
// lexicographically so downstream placement ties break deterministically.
// An executor whose JobsAllowed set is non-empty and does not name job is
// excluded regardless of prefer-list outcome; an empty set means no
// restriction.
func EligibleExecutors(job JobView, executors map[string]ExecutorView) []string {
	var out []string
	for id, exe := range executors {
		if len(exe.JobsAllowed) > 0 && !exe.JobsAllowed[job.Name] {
			continue
		}
		if Eligible(job, exe) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
