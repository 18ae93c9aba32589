// Package controller implements the Namespace Controller (NC): the
// lifecycle owner that wires the Tree Cache Manager, Event Intake, and
// Sharding Engine together and reacts to coordination-session transitions.
// See spec.md §4.5.
package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dreamware/shardkeeper/internal/coord"
	"github.com/dreamware/shardkeeper/internal/events"
	"github.com/dreamware/shardkeeper/internal/sharding"
	"github.com/dreamware/shardkeeper/internal/treecache"
)

// roots that must exist (as persistent nodes) before caches/watches attach
// to them, per spec.md §4.5 start-sequence step 3.
var roots = []string{"/jobs", "/executors", "/sharding", "/leader"}

// Controller owns one namespace's full coordination chain: its lifetime
// spans leader elections, session loss, and reconnects. Grounded on
// cmd/coordinator/main.go's start/stop shape, generalized into a reusable
// value instead of package-level state.
type Controller struct {
	client coord.Client
	watch  coord.Watcher
	hostID string
	log    zerolog.Logger
	alarm  sharding.Alarm
	clean  events.CleanService

	mu              sync.Mutex
	mgr             *treecache.Manager
	intake          *events.Intake
	engine          *sharding.Engine
	unsubscribeConn func()
	running         bool
}

// New returns a Controller bound to client, ready for Start.
func New(client coord.Client, watch coord.Watcher, hostID string, alarm sharding.Alarm, clean events.CleanService, log zerolog.Logger) *Controller {
	return &Controller{
		client: client,
		watch:  watch,
		hostID: hostID,
		log:    log,
		alarm:  alarm,
		clean:  clean,
	}
}

// Start registers the connection listener (once, so it outlives teardowns),
// then pre-creates the four watched roots, starts TCM, elects leadership,
// and attaches the four watched subtrees (spec.md §4.5).
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribeConn == nil {
		c.unsubscribeConn = c.client.SubscribeConnState(c.onConnState)
	}
	if c.running {
		return nil
	}

	for _, root := range roots {
		exists, err := c.client.Exists(ctx, root)
		if err != nil {
			return err
		}
		if !exists {
			if err := c.client.CreatePersistent(ctx, root, nil); err != nil && !errors.Is(err, coord.ErrNodeExists) {
				return err
			}
		}
	}

	c.mgr = treecache.NewManager(c.client, c.watch, c.log)
	c.intake = events.NewIntake(c.clean, 256, c.log)

	c.engine = sharding.NewEngine(c.client, c.hostID, c.intake.Events(), c.alarm, c.log)
	if err := c.engine.Start(ctx); err != nil {
		c.mgr.Shutdown()
		return err
	}

	if _, err := c.intake.Attach(ctx, c.mgr); err != nil {
		c.engine.Stop(ctx)
		c.mgr.Shutdown()
		return err
	}

	c.running = true
	return nil
}

// Stop runs the spec.md §4.5 stop sequence in reverse: remove the
// connection listener, shut down TCM, shut down SE. Unlike the internal
// reaction to SUSPENDED/LOST, this permanently removes the connection
// listener — no further RECONNECTED will restart the chain.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribeConn != nil {
		c.unsubscribeConn()
		c.unsubscribeConn = nil
	}
	c.teardownLocked(ctx)
}

// teardownLocked shuts down TCM and SE but leaves the connection-state
// listener registered, so a later RECONNECTED can still reach onConnState
// and re-run the start sequence (spec.md §4.5).
func (c *Controller) teardownLocked(ctx context.Context) {
	if !c.running {
		return
	}
	if c.mgr != nil {
		c.mgr.Shutdown()
	}
	if c.engine != nil {
		c.engine.Stop(ctx)
	}
	c.running = false
}

func (c *Controller) onConnState(s coord.ConnState) {
	ctx := context.Background()
	switch s {
	case coord.StateSuspended, coord.StateLost:
		c.mu.Lock()
		c.teardownLocked(ctx)
		c.mu.Unlock()
	case coord.StateReconnected:
		if err := c.Start(ctx); err != nil {
			c.log.Error().Err(err).Msg("failed to restart namespace controller after reconnect")
		}
	}
}
