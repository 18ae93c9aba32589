package coord

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemClient_CreateGetExists(t *testing.T) {
	ctx := context.Background()
	c := NewMemClient()

	t.Run("missing node", func(t *testing.T) {
		exists, err := c.Exists(ctx, "/jobs/J")
		require.NoError(t, err)
		assert.False(t, exists)

		_, _, err = c.Get(ctx, "/jobs/J")
		assert.ErrorIs(t, err, ErrNoNode)
	})

	t.Run("create then get", func(t *testing.T) {
		require.NoError(t, c.CreatePersistent(ctx, "/jobs/J", []byte("v1")))

		exists, err := c.Exists(ctx, "/jobs/J")
		require.NoError(t, err)
		assert.True(t, exists)

		val, stat, err := c.Get(ctx, "/jobs/J")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), val)
		assert.EqualValues(t, 0, stat.Version)
	})

	t.Run("create existing fails", func(t *testing.T) {
		err := c.CreatePersistent(ctx, "/jobs/J", []byte("v2"))
		assert.ErrorIs(t, err, ErrNodeExists)
	})

	t.Run("set bumps version", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "/jobs/J", []byte("v3")))
		val, stat, err := c.Get(ctx, "/jobs/J")
		require.NoError(t, err)
		assert.Equal(t, []byte("v3"), val)
		assert.EqualValues(t, 1, stat.Version)
	})
}

func TestMemClient_Children(t *testing.T) {
	ctx := context.Background()
	c := NewMemClient()
	require.NoError(t, c.CreatePersistent(ctx, "/executors", nil))
	require.NoError(t, c.CreatePersistent(ctx, "/executors/a", nil))
	require.NoError(t, c.CreateEphemeral(ctx, "/executors/a/ip", []byte("10.0.0.1")))
	require.NoError(t, c.CreatePersistent(ctx, "/executors/b", nil))

	children, err := c.Children(ctx, "/executors")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, children)

	grandchildren, err := c.Children(ctx, "/executors/a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ip"}, grandchildren)
}

func TestMemClient_DeleteRecursive(t *testing.T) {
	ctx := context.Background()
	c := NewMemClient()
	require.NoError(t, c.CreatePersistent(ctx, "/jobs/J/config", nil))
	require.NoError(t, c.CreatePersistent(ctx, "/jobs/J/config/enabled", []byte("true")))
	require.NoError(t, c.CreatePersistent(ctx, "/jobs/J/servers", nil))

	require.NoError(t, c.Delete(ctx, "/jobs/J"))

	exists, err := c.Exists(ctx, "/jobs/J/config/enabled")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = c.Exists(ctx, "/jobs/J/servers")
	require.NoError(t, err)
	assert.False(t, exists)

	// deleting an absent path is not an error
	assert.NoError(t, c.Delete(ctx, "/jobs/J"))
}

func TestMemClient_Transaction(t *testing.T) {
	ctx := context.Background()
	c := NewMemClient()
	require.NoError(t, c.CreatePersistent(ctx, "/leader/host", []byte("host-1")))
	_, stat, err := c.Get(ctx, "/leader/host")
	require.NoError(t, err)

	t.Run("succeeds with matching version", func(t *testing.T) {
		err := c.Transaction(ctx, []Op{
			CheckVersion("/leader/host", stat.Version),
			Put("/jobs/J/servers/e1/sharding", []byte("0,1")),
		})
		require.NoError(t, err)
		val, _, err := c.Get(ctx, "/jobs/J/servers/e1/sharding")
		require.NoError(t, err)
		assert.Equal(t, []byte("0,1"), val)
	})

	t.Run("aborts whole batch on version mismatch", func(t *testing.T) {
		err := c.Transaction(ctx, []Op{
			CheckVersion("/leader/host", stat.Version+99),
			Put("/jobs/J/servers/e1/sharding", []byte("should-not-apply")),
		})
		assert.ErrorIs(t, err, ErrVersionMismatch)

		val, _, err := c.Get(ctx, "/jobs/J/servers/e1/sharding")
		require.NoError(t, err)
		assert.Equal(t, []byte("0,1"), val, "rejected transaction must not partially apply")
	})

	t.Run("create inside transaction rejects duplicates", func(t *testing.T) {
		err := c.Transaction(ctx, []Op{CreatePersistent("/jobs/J/servers/e1/sharding", []byte("x"))})
		assert.Error(t, err)
	})
}

func TestMemClient_EphemeralSequential(t *testing.T) {
	ctx := context.Background()
	c := NewMemClient()
	require.NoError(t, c.CreatePersistent(ctx, "/sharding", nil))

	p1, err := c.CreateEphemeralSequential(ctx, "/sharding/trigger-")
	require.NoError(t, err)
	p2, err := c.CreateEphemeralSequential(ctx, "/sharding/trigger-")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestMemClient_SessionLossForfeitsEphemerals(t *testing.T) {
	ctx := context.Background()
	c := NewMemClient()
	require.NoError(t, c.CreateEphemeral(ctx, "/leader/host", []byte("host-1")))

	var states []ConnState
	unsub := c.SubscribeConnState(func(s ConnState) { states = append(states, s) })
	defer unsub()

	c.LoseSession()

	exists, err := c.Exists(ctx, "/leader/host")
	require.NoError(t, err)
	assert.False(t, exists, "ephemeral node must be forfeit on session loss")
	require.Len(t, states, 1)
	assert.Equal(t, StateLost, states[0])

	c.Reconnect()
	require.Len(t, states, 2)
	assert.Equal(t, StateReconnected, states[1])
}

func TestMemClient_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewMemClient()
	require.NoError(t, c.CreatePersistent(ctx, "/jobs", nil))

	events, err := c.Watch(ctx, "/jobs")
	require.NoError(t, err)

	require.NoError(t, c.CreatePersistent(ctx, "/jobs/J", []byte("v")))

	select {
	case ev := <-events:
		assert.Equal(t, "/jobs/J", ev.Path)
		assert.True(t, ev.Created)
	default:
		t.Fatal("expected a watch event for child creation")
	}
}
