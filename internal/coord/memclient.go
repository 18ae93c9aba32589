package coord

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// node is one entry in the in-memory tree. Grounded on
// internal/storage.MemoryStore's map+RWMutex shape, extended with the
// version/ephemeral/watch bookkeeping a hierarchical store needs.
type node struct {
	value     []byte
	mtime     time.Time
	version   int64
	cversion  int64
	ephemeral bool
}

type watcher struct {
	ch     chan WatchEvent
	prefix string
}

// MemClient is an in-memory Client + Watcher used by unit tests in place of
// a live coordination store. It is not used in production; see
// internal/coord/etcdclient.go for that. Safe for concurrent use.
type MemClient struct {
	nodes     map[string]*node
	watchers  map[int]*watcher
	connSubs  map[int]func(ConnState)
	mu        sync.Mutex
	nextWatch int
	nextSub   int
	seq       int64
	connState ConnState
}

// NewMemClient returns a connected, empty MemClient with a single root node.
func NewMemClient() *MemClient {
	return &MemClient{
		nodes: map[string]*node{
			"/": {mtime: time.Now()},
		},
		watchers:  make(map[int]*watcher),
		connSubs:  make(map[int]func(ConnState)),
		connState: StateConnected,
	}
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	parent := path.Dir(p)
	return parent
}

func (m *MemClient) Exists(_ context.Context, p string) (bool, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nodes[p]
	return ok, nil
}

func (m *MemClient) Get(_ context.Context, p string) ([]byte, NodeStat, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p]
	if !ok {
		return nil, NodeStat{}, wrapErr("get", p, ErrNoNode)
	}
	out := make([]byte, len(n.value))
	copy(out, n.value)
	return out, statOf(n), nil
}

func statOf(n *node) NodeStat {
	return NodeStat{Version: n.version, Cversion: n.cversion, Mtime: n.mtime}
}

func (m *MemClient) Children(_ context.Context, p string) ([]string, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[p]; !ok {
		return nil, wrapErr("children", p, ErrNoNode)
	}
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	for candidate := range m.nodes {
		if candidate == p || !strings.HasPrefix(candidate, prefix) {
			continue
		}
		rest := strings.TrimPrefix(candidate, prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		seen[name] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemClient) create(p string, value []byte, ephemeral bool) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[p]; ok {
		return wrapErr("create", p, ErrNodeExists)
	}
	now := time.Now()
	m.nodes[p] = &node{value: append([]byte(nil), value...), mtime: now, ephemeral: ephemeral}
	m.bumpCversionLocked(parentOf(p))
	m.notifyLocked(WatchEvent{Path: p, Value: value, Stat: NodeStat{Mtime: now}, Created: true})
	return nil
}

func (m *MemClient) CreatePersistent(_ context.Context, p string, value []byte) error {
	return m.create(p, value, false)
}

func (m *MemClient) CreateEphemeral(_ context.Context, p string, value []byte) error {
	return m.create(p, value, true)
}

func (m *MemClient) CreateEphemeralSequential(_ context.Context, p string) (string, error) {
	p = clean(p)
	m.mu.Lock()
	m.seq++
	assigned := fmt.Sprintf("%s%010d", p, m.seq)
	m.mu.Unlock()
	if err := m.create(assigned, nil, true); err != nil {
		return "", err
	}
	return assigned, nil
}

func (m *MemClient) Set(_ context.Context, p string, value []byte) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[p]
	now := time.Now()
	if !ok {
		n = &node{mtime: now}
		m.nodes[p] = n
		m.bumpCversionLocked(parentOf(p))
	}
	n.value = append([]byte(nil), value...)
	n.version++
	n.mtime = now
	m.notifyLocked(WatchEvent{Path: p, Value: n.value, Stat: statOf(n), Modified: true})
	return nil
}

func (m *MemClient) Delete(_ context.Context, p string) error {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteRecursiveLocked(p)
	return nil
}

func (m *MemClient) deleteRecursiveLocked(p string) {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	for candidate := range m.nodes {
		if strings.HasPrefix(candidate, prefix) {
			delete(m.nodes, candidate)
			m.notifyLocked(WatchEvent{Path: candidate, Deleted: true})
		}
	}
	if _, ok := m.nodes[p]; ok {
		delete(m.nodes, p)
		m.bumpCversionLocked(parentOf(p))
		m.notifyLocked(WatchEvent{Path: p, Deleted: true})
	}
}

func (m *MemClient) bumpCversionLocked(parent string) {
	if n, ok := m.nodes[parent]; ok {
		n.cversion++
	}
}

// Transaction applies ops atomically: all OpCheckVersion conditions and
// OpCreatePersistent existence checks are evaluated first against current
// state; if any fails the whole batch is rejected (ErrVersionMismatch,
// ErrNoNode or ErrNodeExists) and nothing is written.
func (m *MemClient) Transaction(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		p := clean(op.Path)
		switch op.Kind {
		case OpCheckVersion:
			n, ok := m.nodes[p]
			if !ok {
				return wrapErr("transaction", p, ErrNoNode)
			}
			if n.version != op.Version {
				return wrapErr("transaction", p, ErrVersionMismatch)
			}
		case OpCreatePersistent:
			if _, ok := m.nodes[p]; ok {
				return wrapErr("transaction", p, ErrNodeExists)
			}
		}
	}

	for _, op := range ops {
		p := clean(op.Path)
		switch op.Kind {
		case OpCheckVersion:
			// already validated above
		case OpPut:
			n, ok := m.nodes[p]
			now := time.Now()
			if !ok {
				n = &node{mtime: now}
				m.nodes[p] = n
				m.bumpCversionLocked(parentOf(p))
			}
			n.value = append([]byte(nil), op.Value...)
			n.version++
			n.mtime = now
			m.notifyLocked(WatchEvent{Path: p, Value: n.value, Stat: statOf(n), Modified: true})
		case OpCreatePersistent:
			if _, ok := m.nodes[p]; ok {
				return wrapErr("transaction", p, ErrNodeExists)
			}
			now := time.Now()
			m.nodes[p] = &node{value: append([]byte(nil), op.Value...), mtime: now}
			m.bumpCversionLocked(parentOf(p))
			m.notifyLocked(WatchEvent{Path: p, Value: op.Value, Stat: NodeStat{Mtime: now}, Created: true})
		case OpCreateSequential:
			m.seq++
			assigned := fmt.Sprintf("%s%010d", p, m.seq)
			now := time.Now()
			m.nodes[assigned] = &node{value: append([]byte(nil), op.Value...), mtime: now}
			m.bumpCversionLocked(parentOf(assigned))
			m.notifyLocked(WatchEvent{Path: assigned, Value: op.Value, Stat: NodeStat{Mtime: now}, Created: true})
		case OpDelete:
			m.deleteRecursiveLocked(p)
		}
	}
	return nil
}

func (m *MemClient) notifyLocked(ev WatchEvent) {
	for _, w := range m.watchers {
		if !strings.HasPrefix(ev.Path, w.prefix) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
	}
}

// Watch implements coord.Watcher.
func (m *MemClient) Watch(ctx context.Context, p string) (<-chan WatchEvent, error) {
	p = clean(p)
	prefix := p
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	ch := make(chan WatchEvent, 64)
	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = &watcher{ch: ch, prefix: prefix}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (m *MemClient) SubscribeConnState(callback func(ConnState)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.connSubs[id] = callback
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.connSubs, id)
		m.mu.Unlock()
	}
}

func (m *MemClient) Close() error {
	m.mu.Lock()
	for id, w := range m.watchers {
		close(w.ch)
		delete(m.watchers, id)
	}
	m.mu.Unlock()
	return nil
}

// --- test-only session simulation ---

func (m *MemClient) setState(s ConnState) {
	m.mu.Lock()
	m.connState = s
	subs := make([]func(ConnState), 0, len(m.connSubs))
	for _, cb := range m.connSubs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()
	for _, cb := range subs {
		cb(s)
	}
}

// Suspend simulates a transient connectivity loss.
func (m *MemClient) Suspend() { m.setState(StateSuspended) }

// LoseSession simulates session expiry: every ephemeral node is forfeit and
// StateLost is delivered to subscribers.
func (m *MemClient) LoseSession() {
	m.mu.Lock()
	for p, n := range m.nodes {
		if n.ephemeral {
			delete(m.nodes, p)
			m.bumpCversionLocked(parentOf(p))
			m.notifyLocked(WatchEvent{Path: p, Deleted: true})
		}
	}
	m.mu.Unlock()
	m.setState(StateLost)
}

// Reconnect simulates a fresh session (after LoseSession) or connectivity
// restoration (after Suspend).
func (m *MemClient) Reconnect() { m.setState(StateReconnected) }

var (
	_ Client  = (*MemClient)(nil)
	_ Watcher = (*MemClient)(nil)
)
