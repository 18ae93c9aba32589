package coord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"github.com/rs/zerolog"
)

// EtcdConfig configures the production Client backend.
type EtcdConfig struct {
	Endpoints         []string
	DialTimeout       time.Duration
	SessionTimeout    time.Duration
	ConnectionTimeout time.Duration
}

// EtcdClient is the production Client + Watcher, backed by
// go.etcd.io/etcd/client/v3. Grounded on the retrieved
// jakobht-cadence/service/sharddistributor etcd store (transaction/lease/
// watch usage); see DESIGN.md.
type EtcdClient struct {
	cli      *clientv3.Client
	log      zerolog.Logger
	leaseID  clientv3.LeaseID
	subsMu   sync.Mutex
	subs     map[int]func(ConnState)
	nextSub  int
	cancel   context.CancelFunc
	lostOnce sync.Once
}

// NewEtcdClient dials etcd, grants a session lease of cfg.SessionTimeout,
// and starts a keepalive loop. The lease backs every ephemeral node this
// Client creates, giving them ZooKeeper-style session-scoped lifetime.
func NewEtcdClient(cfg EtcdConfig, log zerolog.Logger) (*EtcdClient, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.ConnectionTimeout,
	})
	if err != nil {
		return nil, wrapErr("dial", "", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	lease, err := cli.Grant(ctx, int64(cfg.SessionTimeout.Seconds()))
	if err != nil {
		cancel()
		cli.Close()
		return nil, wrapErr("grant-lease", "", err)
	}

	keepAlive, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		cli.Close()
		return nil, wrapErr("keepalive", "", err)
	}

	ec := &EtcdClient{
		cli:     cli,
		log:     log,
		leaseID: lease.ID,
		subs:    make(map[int]func(ConnState)),
		cancel:  cancel,
	}

	go ec.watchKeepAlive(ctx, keepAlive)

	return ec, nil
}

func (c *EtcdClient) watchKeepAlive(ctx context.Context, ka <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ka:
			if !ok {
				c.lostOnce.Do(func() {
					c.log.Warn().Msg("etcd lease keepalive channel closed, session lost")
					c.broadcast(StateLost)
				})
				return
			}
		}
	}
}

func (c *EtcdClient) broadcast(s ConnState) {
	c.subsMu.Lock()
	cbs := make([]func(ConnState), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	c.subsMu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (c *EtcdClient) Exists(ctx context.Context, p string) (bool, error) {
	resp, err := c.cli.Get(ctx, p, clientv3.WithCountOnly())
	if err != nil {
		return false, wrapErr("exists", p, err)
	}
	return resp.Count > 0, nil
}

func (c *EtcdClient) Get(ctx context.Context, p string) ([]byte, NodeStat, error) {
	resp, err := c.cli.Get(ctx, p)
	if err != nil {
		return nil, NodeStat{}, wrapErr("get", p, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, NodeStat{}, wrapErr("get", p, ErrNoNode)
	}
	kv := resp.Kvs[0]
	cv, err := c.childCount(ctx, p)
	if err != nil {
		return nil, NodeStat{}, err
	}
	return kv.Value, NodeStat{Version: kv.ModRevision, Cversion: cv, Mtime: time.Now()}, nil
}

func (c *EtcdClient) childCount(ctx context.Context, p string) (int64, error) {
	prefix := strings.TrimSuffix(p, "/") + "/"
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, wrapErr("child-count", p, err)
	}
	return resp.Count, nil
}

func (c *EtcdClient) Children(ctx context.Context, p string) ([]string, error) {
	exists, err := c.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, wrapErr("children", p, ErrNoNode)
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, wrapErr("children", p, err)
	}
	seen := map[string]bool{}
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		name := strings.SplitN(rest, "/", 2)[0]
		if name != "" {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out, nil
}

func (c *EtcdClient) createTxn(ctx context.Context, p string, value []byte, opts ...clientv3.OpOption) error {
	txnResp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(p), "=", 0)).
		Then(clientv3.OpPut(p, string(value), opts...)).
		Commit()
	if err != nil {
		return wrapErr("create", p, err)
	}
	if !txnResp.Succeeded {
		return wrapErr("create", p, ErrNodeExists)
	}
	return nil
}

func (c *EtcdClient) CreatePersistent(ctx context.Context, p string, value []byte) error {
	return c.createTxn(ctx, p, value)
}

func (c *EtcdClient) CreateEphemeral(ctx context.Context, p string, value []byte) error {
	return c.createTxn(ctx, p, value, clientv3.WithLease(c.leaseID))
}

// CreateEphemeralSequential assigns a monotonically increasing suffix using
// a read-modify-write retry loop against a dedicated counter key, the same
// pattern the retrieved executorstore.go uses for its AssignShard retry
// loop (get current revision, compute next state, commit guarded by the
// revision check, retry on conflict).
func (c *EtcdClient) CreateEphemeralSequential(ctx context.Context, p string) (string, error) {
	counterKey := strings.TrimSuffix(p, "/") + "/.seq"
	for {
		resp, err := c.cli.Get(ctx, counterKey)
		if err != nil {
			return "", wrapErr("create-sequential", p, err)
		}
		var next int64 = 1
		var modRev int64
		cmp := clientv3.Compare(clientv3.CreateRevision(counterKey), "=", 0)
		if len(resp.Kvs) > 0 {
			modRev = resp.Kvs[0].ModRevision
			var n int64
			fmt.Sscanf(string(resp.Kvs[0].Value), "%d", &n)
			next = n + 1
			cmp = clientv3.Compare(clientv3.ModRevision(counterKey), "=", modRev)
		}
		assigned := fmt.Sprintf("%s%010d", p, next)

		txnResp, err := c.cli.Txn(ctx).
			If(cmp, clientv3.Compare(clientv3.CreateRevision(assigned), "=", 0)).
			Then(
				clientv3.OpPut(counterKey, fmt.Sprintf("%d", next)),
				clientv3.OpPut(assigned, "", clientv3.WithLease(c.leaseID)),
			).
			Commit()
		if err != nil {
			return "", wrapErr("create-sequential", p, err)
		}
		if txnResp.Succeeded {
			return assigned, nil
		}
		// Lost the race with another writer; retry with fresh state.
	}
}

func (c *EtcdClient) Set(ctx context.Context, p string, value []byte) error {
	_, err := c.cli.Put(ctx, p, string(value))
	if err != nil {
		return wrapErr("set", p, err)
	}
	return nil
}

func (c *EtcdClient) Delete(ctx context.Context, p string) error {
	if _, err := c.cli.Delete(ctx, p); err != nil {
		return wrapErr("delete", p, err)
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	if _, err := c.cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
		return wrapErr("delete", p, err)
	}
	return nil
}

// Transaction commits ops atomically. Every OpCheckVersion and
// OpCreatePersistent contributes an `If` comparison; every OpPut,
// OpCreatePersistent and OpDelete contributes `Then` operations. An
// OpCreateSequential is rejected with an error before anything is sent. A
// single failed comparison aborts the entire batch, matching spec.md
// §4.4.5's leader-version guard.
func (c *EtcdClient) Transaction(ctx context.Context, ops []Op) error {
	var cmps []clientv3.Cmp
	var thens []clientv3.Op

	for _, op := range ops {
		switch op.Kind {
		case OpCheckVersion:
			cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(op.Path), "=", op.Version))
		case OpPut:
			thens = append(thens, clientv3.OpPut(op.Path, string(op.Value)))
		case OpCreatePersistent:
			cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(op.Path), "=", 0))
			thens = append(thens, clientv3.OpPut(op.Path, string(op.Value)))
		case OpCreateSequential:
			// Sequential assignment requires a read, so it cannot be
			// folded into a single flat Txn; callers needing a sequential
			// node inside a larger transaction should call
			// CreateEphemeralSequential separately beforehand and fold
			// the resulting path into a plain OpPut here instead.
			return wrapErr("transaction", op.Path, fmt.Errorf("OpCreateSequential is not supported inside Transaction"))
		case OpDelete:
			thens = append(thens, clientv3.OpDelete(op.Path))
			thens = append(thens, clientv3.OpDelete(strings.TrimSuffix(op.Path, "/")+"/", clientv3.WithPrefix()))
		}
	}

	if len(thens) == 0 {
		return nil
	}

	txnResp, err := c.cli.Txn(ctx).If(cmps...).Then(thens...).Commit()
	if err != nil {
		return wrapErr("transaction", "", err)
	}
	if !txnResp.Succeeded {
		return wrapErr("transaction", "", ErrVersionMismatch)
	}
	return nil
}

func (c *EtcdClient) Watch(ctx context.Context, p string) (<-chan WatchEvent, error) {
	prefix := strings.TrimSuffix(p, "/") + "/"
	out := make(chan WatchEvent, 64)
	watchChan := c.cli.Watch(ctx, prefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				c.log.Warn().Err(err).Str("path", p).Msg("etcd watch error")
				return
			}
			for _, ev := range resp.Events {
				we := WatchEvent{
					Path: string(ev.Kv.Key),
					Stat: NodeStat{Version: ev.Kv.ModRevision, Mtime: time.Now()},
				}
				switch {
				case ev.Type == clientv3.EventTypeDelete:
					we.Deleted = true
				case ev.IsCreate():
					we.Value = ev.Kv.Value
					we.Created = true
				default:
					we.Value = ev.Kv.Value
					we.Modified = true
				}
				select {
				case out <- we:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *EtcdClient) SubscribeConnState(callback func(ConnState)) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = callback
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

func (c *EtcdClient) Close() error {
	c.cancel()
	return c.cli.Close()
}

var (
	_ Client  = (*EtcdClient)(nil)
	_ Watcher = (*EtcdClient)(nil)
)
