package treecache

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dreamware/shardkeeper/internal/coord"
)

type cacheKey struct {
	path  string
	depth int
}

// Manager owns every Cache created for a coordination session and forwards
// connection-state transitions to all of them. Grounded on
// internal/coordinator/health_monitor.go's single-owner,
// goroutine-per-subsystem shape.
type Manager struct {
	client coord.Client
	watch  coord.Watcher
	log    zerolog.Logger

	mu           sync.Mutex
	caches       map[cacheKey]*Cache
	order        []*Cache
	unsubscribe  func()
	subscribedTo bool
}

// NewManager returns a Manager bound to client/watcher, ready to have
// caches added with AddCache.
func NewManager(client coord.Client, watch coord.Watcher, log zerolog.Logger) *Manager {
	m := &Manager{
		client: client,
		watch:  watch,
		log:    log,
		caches: make(map[cacheKey]*Cache),
	}
	m.unsubscribe = client.SubscribeConnState(m.onConnState)
	return m
}

func (m *Manager) onConnState(s coord.ConnState) {
	m.mu.Lock()
	caches := append([]*Cache(nil), m.order...)
	m.mu.Unlock()

	var evType EventType
	switch s {
	case coord.StateSuspended:
		evType = ConnectionSuspended
	case coord.StateLost:
		evType = ConnectionLost
	case coord.StateReconnected:
		evType = ConnectionReconnected
	default:
		return
	}
	for _, c := range caches {
		c.deliver(Event{Type: evType})
	}
}

// AddCache returns the Cache for (path, depth), creating and priming it on
// first call. Subsequent calls for the same (path, depth) attach to the
// existing cache, per spec.md §4.2's idempotence requirement.
func (m *Manager) AddCache(ctx context.Context, path string, depth int) (*Cache, error) {
	key := cacheKey{path: path, depth: depth}

	m.mu.Lock()
	if c, ok := m.caches[key]; ok {
		m.mu.Unlock()
		return c, nil
	}
	cacheCtx, cancel := context.WithCancel(ctx)
	c := &Cache{
		path:      path,
		depth:     depth,
		log:       m.log,
		listeners: make(map[int]func(Event)),
		cancel:    cancel,
	}
	m.caches[key] = c
	m.order = append(m.order, c)
	m.mu.Unlock()

	if err := c.start(cacheCtx, m.client, m.watch); err != nil {
		return nil, err
	}
	return c, nil
}

// Shutdown releases every cache and the connection-state subscription, in
// reverse order of creation, per spec.md §4.2.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	caches := append([]*Cache(nil), m.order...)
	m.order = nil
	m.caches = make(map[cacheKey]*Cache)
	m.mu.Unlock()

	for i := len(caches) - 1; i >= 0; i-- {
		caches[i].cancel()
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Cache materializes one (path, depth) subtree and fans change events out
// to its listeners, each of which sees events serially (spec.md §4.2).
type Cache struct {
	path  string
	depth int
	log   zerolog.Logger

	mu           sync.Mutex
	listeners    map[int]func(Event)
	nextListener int
	cancel       context.CancelFunc
	snapshot     map[string]Event
}

// Subscribe registers fn to receive every event this cache delivers from
// now on, first replaying the current known state of the subtree (so a
// listener attaching to an already-primed cache, per spec.md §4.2's
// idempotent-addCache contract, still sees its contents). fn must not
// block — long work belongs on the Event Intake queue, per spec.md §4.2/§5.
func (c *Cache) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	replay := make([]Event, 0, len(c.snapshot))
	for _, ev := range c.snapshot {
		replay = append(replay, ev)
	}
	c.mu.Unlock()

	for _, ev := range replay {
		fn(ev)
	}
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Cache) deliver(ev Event) {
	c.mu.Lock()
	switch ev.Type {
	case NodeAdded, NodeUpdated:
		if c.snapshot == nil {
			c.snapshot = make(map[string]Event)
		}
		c.snapshot[ev.Path] = ev
	case NodeRemoved:
		delete(c.snapshot, ev.Path)
	}
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func relDepth(root, path string) int {
	rp := strings.Trim(root, "/")
	pp := strings.Trim(path, "/")
	var rootParts, pathParts []string
	if rp != "" {
		rootParts = strings.Split(rp, "/")
	}
	if pp != "" {
		pathParts = strings.Split(pp, "/")
	}
	return len(pathParts) - len(rootParts)
}

// start primes the cache with the current contents of the store (recursing
// to c.depth) and then begins streaming watch events.
func (c *Cache) start(ctx context.Context, client coord.Client, watcher coord.Watcher) error {
	if err := c.primeLocked(ctx, client, c.path, 0); err != nil {
		return err
	}
	c.deliver(Event{Type: Initialized, Path: c.path})

	events, err := watcher.Watch(ctx, c.path)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case we, ok := <-events:
				if !ok {
					return
				}
				if relDepth(c.path, we.Path) > c.depth {
					continue
				}
				c.translate(we)
			}
		}
	}()
	return nil
}

func (c *Cache) translate(we coord.WatchEvent) {
	switch {
	case we.Created:
		c.deliver(Event{Type: NodeAdded, Path: we.Path, Data: we.Value, Stat: we.Stat, Mtime: we.Stat.Mtime})
	case we.Modified:
		c.deliver(Event{Type: NodeUpdated, Path: we.Path, Data: we.Value, Stat: we.Stat, Mtime: we.Stat.Mtime})
	case we.Deleted:
		c.deliver(Event{Type: NodeRemoved, Path: we.Path})
	}
}

func (c *Cache) primeLocked(ctx context.Context, client coord.Client, path string, level int) error {
	if level > c.depth {
		return nil
	}
	exists, err := client.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if level > 0 {
		data, stat, err := client.Get(ctx, path)
		if err != nil {
			// Vanished between Exists and Get; the watch stream will
			// reconcile it, nothing to deliver now.
			return nil
		}
		c.deliver(Event{Type: NodeAdded, Path: path, Data: data, Stat: stat, Mtime: stat.Mtime})
	}
	if level == c.depth {
		return nil
	}
	children, err := client.Children(ctx, path)
	if err != nil {
		return nil
	}
	for _, child := range children {
		childPath := strings.TrimSuffix(path, "/") + "/" + child
		if err := c.primeLocked(ctx, client, childPath, level+1); err != nil {
			return err
		}
	}
	return nil
}
