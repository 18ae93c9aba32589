// Package events implements the Event Intake (EI): the typed queue of
// sharding events the Sharding Engine consumes, translated from the raw
// tree-cache events the Tree Cache Manager delivers. See spec.md §4.3.
package events

// Kind tags the variant of a ShardingEvent.
type Kind int

const (
	ExecutorOnline Kind = iota
	ExecutorOffline
	JobAdded
	JobRemoved
	ShardingTrigger
	LeaderChanged
	Resync
)

func (k Kind) String() string {
	switch k {
	case ExecutorOnline:
		return "ExecutorOnline"
	case ExecutorOffline:
		return "ExecutorOffline"
	case JobAdded:
		return "JobAdded"
	case JobRemoved:
		return "JobRemoved"
	case ShardingTrigger:
		return "ShardingTrigger"
	case LeaderChanged:
		return "LeaderChanged"
	case Resync:
		return "Resync"
	default:
		return "Unknown"
	}
}

// ShardingEvent is the typed union EI produces and SE consumes, per
// spec.md §4.3.
type ShardingEvent struct {
	Kind Kind

	// Executor is set for ExecutorOnline/ExecutorOffline.
	Executor string

	// Job is set for JobAdded/JobRemoved.
	Job string

	// Reason/Payload are set for ShardingTrigger.
	Reason  string
	Payload []byte

	// Holder is set for LeaderChanged; empty string means "no leader".
	Holder string
}

// entityKey identifies the entity a ShardingEvent pertains to, used for
// per-entity ordering and coalescing (spec.md §4.3). Events with no
// specific entity (ShardingTrigger, LeaderChanged, Resync) key on their
// Kind alone, so repeats of those still coalesce.
func (e ShardingEvent) entityKey() string {
	switch e.Kind {
	case ExecutorOnline, ExecutorOffline:
		return "exe:" + e.Executor
	case JobAdded, JobRemoved:
		return "job:" + e.Job
	default:
		return e.Kind.String()
	}
}

// Coalesce collapses every repeat of an event with the same Kind and entity
// in evs into one entry, whether or not the repeats are adjacent. The entry
// keeps the position of the first occurrence and the fields of the latest
// one. Per spec.md §4.3's coalescing invariant.
func Coalesce(evs []ShardingEvent) []ShardingEvent {
	out := make([]ShardingEvent, 0, len(evs))
	seen := make(map[string]int) // entityKey+kind -> index in out
	for _, ev := range evs {
		key := ev.Kind.String() + "|" + ev.entityKey()
		if idx, ok := seen[key]; ok {
			out[idx] = ev
			continue
		}
		seen[key] = len(out)
		out = append(out, ev)
	}
	return out
}
