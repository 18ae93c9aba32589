package sharding

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/shardkeeper/internal/coord"
)

// shardingPath returns `/jobs/<job>/servers/<exe>/sharding`.
func shardingPath(job, exe string) string {
	return fmt.Sprintf("/jobs/%s/servers/%s/sharding", job, exe)
}

// EncodeShards renders a shard set as the CSV value `/sharding` nodes store;
// an empty set serializes to the empty string, per spec.md §6.
func EncodeShards(shards []int) string {
	parts := make([]string, len(shards))
	for i, s := range shards {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ",")
}

// JobDelta is one job's contribution to a turn's commit: its previous and
// newly computed assignment. Jobs with no diff are omitted by the caller.
type JobDelta struct {
	Job  string
	Prev Assignment
	Next Assignment
}

// CommitResult reports what a successful commit changed.
type CommitResult struct {
	ChangedExecutors map[string][]string // job -> executors whose sharding node changed
	TriggerPath      string
}

// Commit writes every job's delta for one turn as a single transaction:
// one `set` per changed `(job, exe)` sharding node across all deltas, one
// `/sharding/<reason>-<nanos>` marker, a best-effort bump of
// `/sharding/count`, and a leader-version check so the whole batch aborts
// if leadership changed mid-turn. Per spec.md §4.4.5. deltas with no
// changed executors are skipped entirely; if no delta has any change and
// force is false, Commit is a no-op that still reports an empty result
// without touching the store (spec.md §8's replay-is-a-no-op property).
func Commit(ctx context.Context, client coord.Client, deltas []JobDelta, leaderVersion int64, reason string, force bool) (CommitResult, error) {
	result := CommitResult{ChangedExecutors: make(map[string][]string)}

	ops := make([]coord.Op, 0, 4)
	ops = append(ops, coord.CheckVersion("/leader/host", leaderVersion))

	anyChange := false
	for _, d := range deltas {
		changed := Diff(d.Prev, d.Next)
		if len(changed) == 0 {
			continue
		}
		anyChange = true
		result.ChangedExecutors[d.Job] = changed
		for _, exe := range changed {
			ops = append(ops, coord.Put(shardingPath(d.Job, exe), []byte(EncodeShards(d.Next[exe]))))
		}
	}

	if !anyChange && !force {
		return result, nil
	}

	triggerPath := fmt.Sprintf("/sharding/%s-%d", reason, time.Now().UnixNano())
	ops = append(ops, coord.Put(triggerPath, nil))
	result.TriggerPath = triggerPath

	count, _, err := client.Get(ctx, "/sharding/count")
	next64 := int64(1)
	if err == nil {
		if n, perr := strconv.ParseInt(strings.TrimSpace(string(count)), 10, 64); perr == nil {
			next64 = n + 1
		}
	}
	ops = append(ops, coord.Put("/sharding/count", []byte(strconv.FormatInt(next64, 10))))

	if err := client.Transaction(ctx, ops); err != nil {
		return CommitResult{}, err
	}
	return result, nil
}
