package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dreamware/shardkeeper/internal/treecache"
)

// Watched subtrees per spec.md §4.3.
const (
	JobsRoot      = "/jobs"
	JobsDepth     = 1
	ExecutorsRoot = "/executors"
	ExecutorsDepth = 2
	ShardingRoot  = "/sharding"
	ShardingDepth = 1
	LeaderRoot    = "/leader"
	LeaderDepth   = 1
)

// CleanService purges an offline executor's per-job state so the Sharding
// Engine starts its next turn from a clean slate (spec.md §4.3's
// "Executor Clean Service collaborator"). It is an external collaborator;
// see internal/sharding/cleanservice.go for the in-repo default.
type CleanService interface {
	Clean(ctx context.Context, executorID string) error
}

// Intake turns raw Tree Cache Manager events into the typed ShardingEvent
// queue the Sharding Engine consumes. Grounded on
// internal/coordinator/health_monitor.go's callback-driven, single-owner
// shape, generalized from one ticker to four independent cache
// subscriptions plus a bounded fan-in channel.
type Intake struct {
	log   zerolog.Logger
	clean CleanService

	mu       sync.Mutex
	queue    chan ShardingEvent
	capacity int
}

// NewIntake returns an Intake with a bounded queue of the given capacity.
// Per spec.md §4.3, overflow degrades to a single superseding Resync
// rather than blocking producers.
func NewIntake(clean CleanService, capacity int, log zerolog.Logger) *Intake {
	if capacity <= 0 {
		capacity = 256
	}
	return &Intake{
		log:      log,
		clean:    clean,
		queue:    make(chan ShardingEvent, capacity),
		capacity: capacity,
	}
}

// Events returns the channel the Sharding Engine drains.
func (in *Intake) Events() <-chan ShardingEvent {
	return in.queue
}

// Attach registers the four watched-subtree subscriptions against mgr,
// pre-creating each cache. It returns the unsubscribe funcs for each
// listener registration (the caches themselves are released by the
// Manager's own Shutdown).
func (in *Intake) Attach(ctx context.Context, mgr *treecache.Manager) ([]func(), error) {
	var unsubs []func()

	jobsCache, err := mgr.AddCache(ctx, JobsRoot, JobsDepth)
	if err != nil {
		return nil, err
	}
	unsubs = append(unsubs, jobsCache.Subscribe(in.onJobsEvent))

	exeCache, err := mgr.AddCache(ctx, ExecutorsRoot, ExecutorsDepth)
	if err != nil {
		return nil, err
	}
	unsubs = append(unsubs, exeCache.Subscribe(in.onExecutorsEvent))

	shardingCache, err := mgr.AddCache(ctx, ShardingRoot, ShardingDepth)
	if err != nil {
		return nil, err
	}
	unsubs = append(unsubs, shardingCache.Subscribe(in.onShardingEvent))

	leaderCache, err := mgr.AddCache(ctx, LeaderRoot, LeaderDepth)
	if err != nil {
		return nil, err
	}
	unsubs = append(unsubs, leaderCache.Subscribe(in.onLeaderEvent))

	// Connection-state events arrive on every cache; any one of them is
	// sufficient to notice a reconnect and emit a Resync.
	unsubs = append(unsubs, jobsCache.Subscribe(in.onConnectionEvent))

	return unsubs, nil
}

func pathTail(root, path string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
}

func (in *Intake) onJobsEvent(ev treecache.Event) {
	if ev.Type != treecache.NodeAdded && ev.Type != treecache.NodeRemoved {
		return
	}
	tail := pathTail(JobsRoot, ev.Path)
	if tail == "" || strings.Contains(tail, "/") {
		return // only direct job children matter at depth 1
	}
	if ev.Type == treecache.NodeAdded {
		in.push(ShardingEvent{Kind: JobAdded, Job: tail})
	} else {
		in.push(ShardingEvent{Kind: JobRemoved, Job: tail})
	}
}

func (in *Intake) onExecutorsEvent(ev treecache.Event) {
	if ev.Type != treecache.NodeAdded && ev.Type != treecache.NodeRemoved {
		return
	}
	tail := pathTail(ExecutorsRoot, ev.Path)
	parts := strings.SplitN(tail, "/", 2)
	if len(parts) != 2 || parts[1] != "ip" {
		return // only the liveness child /executors/<exe>/ip matters
	}
	executor := parts[0]
	switch ev.Type {
	case treecache.NodeAdded:
		in.push(ShardingEvent{Kind: ExecutorOnline, Executor: executor})
	case treecache.NodeRemoved:
		in.push(ShardingEvent{Kind: ExecutorOffline, Executor: executor})
		if in.clean != nil {
			go func() {
				if err := in.clean.Clean(context.Background(), executor); err != nil {
					in.log.Warn().Err(err).Str("executor", executor).Msg("executor clean service failed")
				}
			}()
		}
	}
}

func (in *Intake) onShardingEvent(ev treecache.Event) {
	if ev.Type != treecache.NodeAdded {
		return
	}
	reason := pathTail(ShardingRoot, ev.Path)
	if reason == "" || strings.Contains(reason, "/") {
		return
	}
	in.push(ShardingEvent{Kind: ShardingTrigger, Reason: reason, Payload: ev.Data})
}

func (in *Intake) onLeaderEvent(ev treecache.Event) {
	tail := pathTail(LeaderRoot, ev.Path)
	if tail != "host" {
		return
	}
	switch ev.Type {
	case treecache.NodeAdded, treecache.NodeUpdated:
		in.push(ShardingEvent{Kind: LeaderChanged, Holder: string(ev.Data)})
	case treecache.NodeRemoved:
		in.push(ShardingEvent{Kind: LeaderChanged, Holder: ""})
	}
}

func (in *Intake) onConnectionEvent(ev treecache.Event) {
	if ev.Type == treecache.ConnectionReconnected {
		in.push(ShardingEvent{Kind: Resync})
	}
}

// push enqueues ev, degrading to a single superseding Resync on overflow
// per spec.md §4.3's backpressure invariant.
func (in *Intake) push(ev ShardingEvent) {
	select {
	case in.queue <- ev:
		return
	default:
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.log.Warn().Msg("sharding event queue overflow, degrading to Resync")
drain:
	for {
		select {
		case <-in.queue:
		default:
			break drain
		}
	}
	select {
	case in.queue <- ShardingEvent{Kind: Resync}:
	default:
	}
}

// Close drains no further writers; callers should stop calling push (via
// unsubscribing) before closing the queue's consumer side.
func (in *Intake) Close() {
	close(in.queue)
}
