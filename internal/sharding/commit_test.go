package sharding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardkeeper/internal/coord"
)

func newLeaderClient(t *testing.T) (*coord.MemClient, int64) {
	t.Helper()
	c := coord.NewMemClient()
	ctx := context.Background()
	require.NoError(t, c.CreateEphemeral(ctx, "/leader/host", []byte("host-1")))
	_, stat, err := c.Get(ctx, "/leader/host")
	require.NoError(t, err)
	return c, stat.Version
}

func TestCommit_WritesChangedExecutorsAcrossMultipleJobs(t *testing.T) {
	client, version := newLeaderClient(t)
	ctx := context.Background()

	deltas := []JobDelta{
		{Job: "j1", Prev: Assignment{"A": {0, 2}}, Next: Assignment{"A": {0, 1, 2}}},
		{Job: "j2", Prev: Assignment{}, Next: Assignment{"B": {0}}},
	}

	result, err := Commit(ctx, client, deltas, version, "executor-offline", false)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"A"}, result.ChangedExecutors["j1"])
	assert.ElementsMatch(t, []string{"B"}, result.ChangedExecutors["j2"])

	v1, _, err := client.Get(ctx, "/jobs/j1/servers/A/sharding")
	require.NoError(t, err)
	assert.Equal(t, "0,1,2", string(v1))

	v2, _, err := client.Get(ctx, "/jobs/j2/servers/B/sharding")
	require.NoError(t, err)
	assert.Equal(t, "0", string(v2))

	count, _, err := client.Get(ctx, "/sharding/count")
	require.NoError(t, err)
	assert.Equal(t, "1", string(count))
}

func TestCommit_NoChangesIsNoOpWithoutForce(t *testing.T) {
	client, version := newLeaderClient(t)
	ctx := context.Background()

	deltas := []JobDelta{
		{Job: "j1", Prev: Assignment{"A": {0, 2}}, Next: Assignment{"A": {0, 2}}},
	}

	result, err := Commit(ctx, client, deltas, version, "resync", false)
	require.NoError(t, err)
	assert.Empty(t, result.ChangedExecutors)
	assert.Empty(t, result.TriggerPath)

	exists, err := client.Exists(ctx, "/sharding/count")
	require.NoError(t, err)
	assert.False(t, exists, "replay of identical assignment must not write the store")
}

func TestCommit_AbortsOnLeaderVersionMismatch(t *testing.T) {
	client, version := newLeaderClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "/leader/host", []byte("host-2")))

	deltas := []JobDelta{
		{Job: "j1", Prev: Assignment{}, Next: Assignment{"A": {0}}},
	}

	_, err := Commit(ctx, client, deltas, version, "executor-offline", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, coord.ErrVersionMismatch)

	exists, _ := client.Exists(ctx, "/jobs/j1/servers/A/sharding")
	assert.False(t, exists, "aborted transaction must not have partial writes")
}

func TestCommit_IncrementsCountAcrossTurns(t *testing.T) {
	client, version := newLeaderClient(t)
	ctx := context.Background()

	_, err := Commit(ctx, client, []JobDelta{
		{Job: "j1", Prev: Assignment{}, Next: Assignment{"A": {0}}},
	}, version, "executor-online", false)
	require.NoError(t, err)

	_, err = Commit(ctx, client, []JobDelta{
		{Job: "j1", Prev: Assignment{"A": {0}}, Next: Assignment{"A": {0, 1}}},
	}, version, "executor-online", false)
	require.NoError(t, err)

	count, _, err := client.Get(ctx, "/sharding/count")
	require.NoError(t, err)
	assert.Equal(t, "2", string(count))
}

func TestEncodeShards(t *testing.T) {
	assert.Equal(t, "", EncodeShards(nil))
	assert.Equal(t, "0,1,2", EncodeShards([]int{0, 1, 2}))
}
