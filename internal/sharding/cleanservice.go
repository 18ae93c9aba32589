package sharding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dreamware/shardkeeper/internal/coord"
)

// CleanService purges an offline executor's executor-owned per-job state
// (`/jobs/<job>/servers/<exe>/status`) so a stale ephemeral node never
// lingers past its executor's session. It never touches
// `/jobs/<job>/servers/<exe>/sharding`: that node is SE-owned and, per
// spec.md §3/§4.4.3, must persist across an offline period so a
// no-failover job's previously-held shards remain recorded until an
// explicit resharding trigger. Satisfies events.CleanService structurally.
// Per spec.md §4.3.
type CleanService interface {
	Clean(ctx context.Context, executorID string) error
}

// CoordCleanService deletes the `/jobs/<job>/servers/<exe>/status` node for
// the offline executor, across all known jobs, leaving `sharding` in place.
type CoordCleanService struct {
	Client coord.Client
	Log    zerolog.Logger
}

// NewCoordCleanService returns a CleanService backed by client.
func NewCoordCleanService(client coord.Client, log zerolog.Logger) *CoordCleanService {
	return &CoordCleanService{Client: client, Log: log}
}

func (c *CoordCleanService) Clean(ctx context.Context, executorID string) error {
	jobs, err := c.Client.Children(ctx, "/jobs")
	if err != nil {
		return err
	}
	for _, job := range jobs {
		path := fmt.Sprintf("/jobs/%s/servers/%s/status", job, executorID)
		exists, err := c.Client.Exists(ctx, path)
		if err != nil {
			c.Log.Warn().Err(err).Str("path", path).Msg("clean service: exists check failed")
			continue
		}
		if !exists {
			continue
		}
		if err := c.Client.Delete(ctx, path); err != nil {
			c.Log.Warn().Err(err).Str("path", path).Msg("clean service: delete failed")
		}
	}
	return nil
}

// LogCleanService only logs and deletes nothing. cmd/shardingcoordinator
// wires CoordCleanService, not this type.
type LogCleanService struct {
	Log zerolog.Logger
}

func (l *LogCleanService) Clean(_ context.Context, executorID string) error {
	l.Log.Info().Str("executor", executorID).Msg("executor offline, clean service no-op")
	return nil
}
