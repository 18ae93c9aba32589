package sharding

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/shardkeeper/internal/coord"
)

// LoadExecutor reads one executor's view from the store: online iff its
// ephemeral `/ip` child exists. Per spec.md §3/§6.
func LoadExecutor(ctx context.Context, client coord.Client, exeID string) (ExecutorView, error) {
	online, err := client.Exists(ctx, "/executors/"+exeID+"/ip")
	if err != nil {
		return ExecutorView{}, err
	}
	return ExecutorView{
		ID:        exeID,
		Online:    online,
		Container: IsContainer(exeID),
	}, nil
}

// LoadAllExecutors reads every registered executor's view.
func LoadAllExecutors(ctx context.Context, client coord.Client) (map[string]ExecutorView, error) {
	ids, err := client.Children(ctx, "/executors")
	if err != nil {
		return nil, err
	}
	out := make(map[string]ExecutorView, len(ids))
	for _, id := range ids {
		v, err := LoadExecutor(ctx, client, id)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// LoadJob reads one job's configuration from `/jobs/<job>/config/*`,
// applying the defaults spec.md §6 implies for absent keys.
func LoadJob(ctx context.Context, client coord.Client, job string) (JobView, error) {
	keys, err := client.Children(ctx, "/jobs/"+job+"/config")
	if err != nil {
		return JobView{}, err
	}
	cfg := make(map[string]string, len(keys))
	for _, k := range keys {
		v, _, err := client.Get(ctx, "/jobs/"+job+"/config/"+k)
		if err != nil {
			continue
		}
		cfg[k] = string(v)
	}

	jv := JobView{
		Name:             job,
		Enabled:          parseBool(cfg["enabled"], true),
		LocalMode:        parseBool(cfg["localMode"], false),
		LoadLevel:        parseInt(cfg["loadLevel"], 1),
		UseDispreferList: parseBool(cfg["useDispreferList"], false),
		Failover:         parseBool(cfg["failover"], true),
		JobDegree:        parseInt(cfg["jobDegree"], 0),
		TimeZone:         cfg["timeZone"],
		PausePeriodDate:  cfg["pausePeriodDate"],
		PausePeriodTime:  cfg["pausePeriodTime"],
	}
	jv.ShardingTotalCount = parseInt(cfg["shardingTotalCount"], 0)
	if pl := strings.TrimSpace(cfg["preferList"]); pl != "" {
		for _, p := range strings.Split(pl, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				jv.PreferList = append(jv.PreferList, p)
			}
		}
	}
	return jv, nil
}

// LoadAllJobs reads every configured job.
func LoadAllJobs(ctx context.Context, client coord.Client) (map[string]JobView, error) {
	names, err := client.Children(ctx, "/jobs")
	if err != nil {
		return nil, err
	}
	out := make(map[string]JobView, len(names))
	for _, name := range names {
		jv, err := LoadJob(ctx, client, name)
		if err != nil {
			return nil, err
		}
		out[name] = jv
	}
	return out, nil
}

// LoadAssignment reads the current `/jobs/<job>/servers/<exe>/sharding`
// value for every executor listed under `/jobs/<job>/servers`; the
// executors argument is not consulted.
func LoadAssignment(ctx context.Context, client coord.Client, job string, executors map[string]ExecutorView) (Assignment, error) {
	out := make(Assignment)
	exeIDs, err := client.Children(ctx, fmt.Sprintf("/jobs/%s/servers", job))
	if err != nil {
		return out, nil // no servers subtree yet: empty assignment
	}
	for _, exe := range exeIDs {
		path := fmt.Sprintf("/jobs/%s/servers/%s/sharding", job, exe)
		raw, _, err := client.Get(ctx, path)
		if err != nil {
			continue
		}
		shards := decodeShards(string(raw))
		if len(shards) > 0 {
			out[exe] = shards
		}
	}
	return out, nil
}

func decodeShards(raw string) []int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
