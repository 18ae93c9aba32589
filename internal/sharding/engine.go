package sharding

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/shardkeeper/internal/coord"
	"github.com/dreamware/shardkeeper/internal/events"
)

// State is SE's lifecycle state, per spec.md §4.4.6.
type State int

const (
	Uninitialized State = iota
	Following
	Leading
	Draining
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Following:
		return "Following"
	case Leading:
		return "Leading"
	case Draining:
		return "Draining"
	default:
		return "Unknown"
	}
}

// Engine is the Sharding Engine: leader election, the single-writer turn
// loop, and the state machine of spec.md §4.4.
type Engine struct {
	client coord.Client
	hostID string
	log    zerolog.Logger
	alarm  Alarm
	in     <-chan events.ShardingEvent

	mu            sync.Mutex
	state         State
	leaderVersion int64

	unsubscribeConn func()
	stop            chan struct{}
	done            chan struct{}
}

// NewEngine returns an Engine bound to client, identifying itself as
// hostID, consuming events from in and reporting operator-facing problems
// to alarm.
func NewEngine(client coord.Client, hostID string, in <-chan events.ShardingEvent, alarm Alarm, log zerolog.Logger) *Engine {
	return &Engine{
		client: client,
		hostID: hostID,
		log:    log,
		alarm:  alarm,
		in:     in,
		state:  Uninitialized,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start attempts leader election and, regardless of outcome, begins the
// event loop in a background goroutine. Per spec.md §4.4.1/§4.4.6.
func (e *Engine) Start(ctx context.Context) error {
	e.unsubscribeConn = e.client.SubscribeConnState(e.onConnState)

	if err := e.electLeader(ctx); err != nil {
		return err
	}

	go e.loop(ctx)
	return nil
}

// electLeader attempts to create the ephemeral `/leader/host` node. Success
// makes this engine the leader; failure because the node already exists
// makes it a follower.
func (e *Engine) electLeader(ctx context.Context) error {
	err := e.client.CreateEphemeral(ctx, "/leader/host", []byte(e.hostID))
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case err == nil:
		_, stat, gerr := e.client.Get(ctx, "/leader/host")
		if gerr == nil {
			e.leaderVersion = stat.Version
		}
		e.state = Leading
		return nil
	case errors.Is(err, coord.ErrNodeExists):
		e.state = Following
		return nil
	default:
		return err
	}
}

func (e *Engine) onConnState(s coord.ConnState) {
	if s == coord.StateLost {
		e.mu.Lock()
		if e.state == Leading {
			e.state = Draining
		}
		e.mu.Unlock()
	}
}

// Stop drains outstanding turns and, if this engine holds leadership,
// deletes `/leader/host`. Per spec.md §4.5's stop sequence.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	wasLeading := e.state == Leading
	e.state = Draining
	e.mu.Unlock()

	close(e.stop)
	<-e.done

	if e.unsubscribeConn != nil {
		e.unsubscribeConn()
	}
	if wasLeading {
		_ = e.client.Delete(ctx, "/leader/host")
	}

	e.mu.Lock()
	e.state = Uninitialized
	e.mu.Unlock()
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case ev, ok := <-e.in:
			if !ok {
				return
			}
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev events.ShardingEvent) {
	state := e.State()
	switch state {
	case Following:
		e.handleFollowing(ctx, ev)
	case Leading:
		e.runTurn(ctx, ev)
	default:
		// Uninitialized/Draining: drop the event. When the controller
		// restarts the chain, the new tree caches replay the current
		// subtrees to the new intake as fresh add events.
	}
}

func (e *Engine) handleFollowing(ctx context.Context, ev events.ShardingEvent) {
	if ev.Kind != events.LeaderChanged || ev.Holder != "" {
		return
	}
	if err := e.electLeader(ctx); err != nil {
		e.log.Warn().Err(err).Msg("leader re-election attempt failed")
	}
}

// runTurn executes one sharding turn for ev: snapshot, classify
// eligibility, compute delta, commit, publish. Per spec.md §4.4.2.
func (e *Engine) runTurn(ctx context.Context, ev events.ShardingEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("sharding turn panicked, continuing")
		}
	}()

	jobNames, err := e.jobsToRecompute(ctx, ev)
	if err != nil {
		e.log.Warn().Err(err).Msg("snapshot failed, turn aborted and not re-queued")
		return
	}
	if len(jobNames) == 0 {
		return
	}

	executors, err := LoadAllExecutors(ctx, e.client)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed loading executors, turn aborted")
		return
	}

	var deltas []JobDelta
	turnLoad := make(map[string]int)
	for _, name := range jobNames {
		job, err := LoadJob(ctx, e.client, name)
		if err != nil {
			e.log.Warn().Err(err).Str("job", name).Msg("failed loading job config, skipped")
			e.alarm.Raise(ctx, AlarmEvent{Job: name, Reason: "config-load-failed", Detail: err.Error(), Timestamp: time.Now()})
			continue
		}
		if !job.Enabled {
			continue
		}

		prev, err := LoadAssignment(ctx, e.client, name, executors)
		if err != nil {
			e.log.Warn().Err(err).Str("job", name).Msg("failed loading assignment, skipped")
			continue
		}

		if job.ShardingTotalCount == 0 && !job.LocalMode {
			continue // spec.md §8: shardingTotalCount=0 -> no writes, no alarm
		}

		if !job.Failover && ev.Kind != events.ShardingTrigger {
			// No-failover job: any executor still recorded as holding shards
			// despite now being offline freezes this job's assignment for
			// every turn until an explicit ShardingTrigger (spec.md §4.4.3,
			// §9), regardless of which event kind is driving this turn.
			if offlineExe := offlineHeldExecutor(prev, executors); offlineExe != "" {
				e.alarm.Raise(ctx, AlarmEvent{
					Job: name, Executor: offlineExe, Reason: "no-failover-offline",
					Detail: "shards remain recorded against offline executor", Timestamp: time.Now(),
				})
				continue
			}
		}

		next := ComputeWithBaseline(job, prev, executors, turnLoad)
		if job.Enabled && len(EligibleExecutors(job, executors)) == 0 {
			e.alarm.Raise(ctx, AlarmEvent{Job: name, Reason: "no-eligible-executor", Timestamp: time.Now()})
		}
		for exe, shards := range next {
			turnLoad[exe] += job.LoadLevel * len(shards)
		}
		deltas = append(deltas, JobDelta{Job: name, Prev: prev, Next: next})
	}

	if len(deltas) == 0 {
		return
	}

	leaderVersion := e.currentLeaderVersion()
	_, err = Commit(ctx, e.client, deltas, leaderVersion, ev.Kind.String(), false)
	if err != nil {
		if errors.Is(err, coord.ErrVersionMismatch) {
			e.log.Warn().Msg("leadership changed mid-turn, demoting to follower")
			e.mu.Lock()
			e.state = Following
			e.mu.Unlock()
			return
		}
		e.log.Warn().Err(err).Msg("commit failed, turn dropped and not re-queued")
		return
	}
}

// offlineHeldExecutor returns the first executor id in prev that still
// holds shards but is no longer online (or no longer present at all), or
// "" if every holder is online.
func offlineHeldExecutor(prev Assignment, executors map[string]ExecutorView) string {
	for exe, shards := range prev {
		if len(shards) == 0 {
			continue
		}
		if !executors[exe].Online {
			return exe
		}
	}
	return ""
}

func (e *Engine) currentLeaderVersion() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderVersion
}

// jobsToRecompute returns which jobs a turn for ev must recompute.
func (e *Engine) jobsToRecompute(ctx context.Context, ev events.ShardingEvent) ([]string, error) {
	switch ev.Kind {
	case events.JobAdded:
		return []string{ev.Job}, nil
	case events.JobRemoved:
		return nil, nil
	case events.LeaderChanged:
		return nil, nil
	case events.ExecutorOnline, events.ExecutorOffline, events.ShardingTrigger, events.Resync:
		names, err := e.client.Children(ctx, "/jobs")
		if err != nil {
			return nil, err
		}
		sort.Strings(names)
		return names, nil
	default:
		return nil, nil
	}
}
