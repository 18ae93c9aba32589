package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardkeeper/internal/coord"
	"github.com/dreamware/shardkeeper/internal/treecache"
)

type fakeClean struct {
	mu      sync.Mutex
	cleaned []string
}

func (f *fakeClean) Clean(_ context.Context, executorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, executorID)
	return nil
}

func (f *fakeClean) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cleaned...)
}

func drain(t *testing.T, ch <-chan ShardingEvent, n int, timeout time.Duration) []ShardingEvent {
	t.Helper()
	var out []ShardingEvent
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func setup(t *testing.T) (context.Context, coord.Client, *treecache.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client := coord.NewMemClient()
	require.NoError(t, client.CreatePersistent(ctx, "/jobs", nil))
	require.NoError(t, client.CreatePersistent(ctx, "/executors", nil))
	require.NoError(t, client.CreatePersistent(ctx, "/sharding", nil))
	require.NoError(t, client.CreatePersistent(ctx, "/leader", nil))
	mgr := treecache.NewManager(client, client, zerolog.Nop())
	t.Cleanup(mgr.Shutdown)
	return ctx, client, mgr
}

func TestIntake_JobAddedRemoved(t *testing.T) {
	ctx, client, mgr := setup(t)
	in := NewIntake(nil, 16, zerolog.Nop())
	_, err := in.Attach(ctx, mgr)
	require.NoError(t, err)

	require.NoError(t, client.CreatePersistent(ctx, "/jobs/J1", nil))
	require.NoError(t, client.Delete(ctx, "/jobs/J1"))

	evs := drain(t, in.Events(), 2, time.Second)
	assert.Equal(t, JobAdded, evs[0].Kind)
	assert.Equal(t, "J1", evs[0].Job)
	assert.Equal(t, JobRemoved, evs[1].Kind)
	assert.Equal(t, "J1", evs[1].Job)
}

func TestIntake_ExecutorOnlineOfflineTriggersClean(t *testing.T) {
	ctx, client, mgr := setup(t)
	clean := &fakeClean{}
	in := NewIntake(clean, 16, zerolog.Nop())
	_, err := in.Attach(ctx, mgr)
	require.NoError(t, err)

	require.NoError(t, client.CreatePersistent(ctx, "/executors/exe-1", nil))
	require.NoError(t, client.CreateEphemeral(ctx, "/executors/exe-1/ip", []byte("10.0.0.5")))
	require.NoError(t, client.Delete(ctx, "/executors/exe-1/ip"))

	evs := drain(t, in.Events(), 2, time.Second)
	assert.Equal(t, ExecutorOnline, evs[0].Kind)
	assert.Equal(t, "exe-1", evs[0].Executor)
	assert.Equal(t, ExecutorOffline, evs[1].Kind)
	assert.Equal(t, "exe-1", evs[1].Executor)

	require.Eventually(t, func() bool {
		return len(clean.snapshot()) == 1
	}, time.Second, time.Millisecond, "clean service must be invoked on executor offline")
	assert.Equal(t, []string{"exe-1"}, clean.snapshot())
}

func TestIntake_IgnoresNonIPExecutorChildren(t *testing.T) {
	ctx, client, mgr := setup(t)
	in := NewIntake(nil, 16, zerolog.Nop())
	_, err := in.Attach(ctx, mgr)
	require.NoError(t, err)

	require.NoError(t, client.CreatePersistent(ctx, "/executors/exe-1", nil))
	require.NoError(t, client.CreatePersistent(ctx, "/executors/exe-1/lastBeatTime", []byte("123")))

	select {
	case ev := <-in.Events():
		t.Fatalf("expected no event for non-ip child, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIntake_ShardingTrigger(t *testing.T) {
	ctx, client, mgr := setup(t)
	in := NewIntake(nil, 16, zerolog.Nop())
	_, err := in.Attach(ctx, mgr)
	require.NoError(t, err)

	require.NoError(t, client.CreatePersistent(ctx, "/sharding/manual", []byte("operator request")))

	evs := drain(t, in.Events(), 1, time.Second)
	assert.Equal(t, ShardingTrigger, evs[0].Kind)
	assert.Equal(t, "manual", evs[0].Reason)
	assert.Equal(t, []byte("operator request"), evs[0].Payload)
}

func TestIntake_LeaderChanged(t *testing.T) {
	ctx, client, mgr := setup(t)
	in := NewIntake(nil, 16, zerolog.Nop())
	_, err := in.Attach(ctx, mgr)
	require.NoError(t, err)

	require.NoError(t, client.CreateEphemeral(ctx, "/leader/host", []byte("host-a")))
	require.NoError(t, client.Delete(ctx, "/leader/host"))

	evs := drain(t, in.Events(), 2, time.Second)
	assert.Equal(t, LeaderChanged, evs[0].Kind)
	assert.Equal(t, "host-a", evs[0].Holder)
	assert.Equal(t, LeaderChanged, evs[1].Kind)
	assert.Equal(t, "", evs[1].Holder)
}

func TestIntake_ReconnectEmitsResync(t *testing.T) {
	ctx, client, mgr := setup(t)
	mem := client.(*coord.MemClient)
	in := NewIntake(nil, 16, zerolog.Nop())
	_, err := in.Attach(ctx, mgr)
	require.NoError(t, err)

	mem.Suspend()
	mem.Reconnect()

	evs := drain(t, in.Events(), 1, time.Second)
	assert.Equal(t, Resync, evs[0].Kind)
}

func TestIntake_OverflowDegradesToResync(t *testing.T) {
	ctx, client, mgr := setup(t)
	in := NewIntake(nil, 2, zerolog.Nop())
	_, err := in.Attach(ctx, mgr)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		in.push(ShardingEvent{Kind: ExecutorOnline, Executor: "flood"})
	}

	// queue capacity is 2; flooding far past that must leave the queue
	// holding only a single superseding Resync, not a backlog.
	time.Sleep(10 * time.Millisecond)
	evs := drain(t, in.Events(), 1, time.Second)
	assert.Equal(t, Resync, evs[len(evs)-1].Kind)

	select {
	case ev := <-in.Events():
		t.Fatalf("expected queue to hold exactly one event after overflow, got extra %+v", ev)
	default:
	}
}
