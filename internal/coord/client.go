package coord

import "context"

// OpKind tags the kind of operation carried by an Op within a Transaction.
type OpKind int

const (
	// OpCheckVersion aborts the transaction if Path's current Version does
	// not equal Version. Used to make the leader-lock check in spec.md
	// §4.4.5 ("prefixed with a check of /leader/host's version") atomic
	// with the writes that follow it.
	OpCheckVersion OpKind = iota
	// OpPut sets Path's value, creating it as a persistent node if absent.
	OpPut
	// OpCreatePersistent creates Path as a persistent node; fails the
	// transaction if Path already exists.
	OpCreatePersistent
	// OpCreateSequential creates a persistent-sequential child of Path.
	OpCreateSequential
	// OpDelete removes Path (and, recursively, its children).
	OpDelete
)

// Op is one operation within a Transaction batch.
type Op struct {
	Path    string
	Value   []byte
	Version int64
	Kind    OpKind
}

// CheckVersion returns an Op that aborts the transaction unless path's
// current version equals version.
func CheckVersion(path string, version int64) Op {
	return Op{Kind: OpCheckVersion, Path: path, Version: version}
}

// Put returns an Op that sets path's value.
func Put(path string, value []byte) Op {
	return Op{Kind: OpPut, Path: path, Value: value}
}

// CreatePersistent returns an Op that creates path as a persistent node.
func CreatePersistent(path string, value []byte) Op {
	return Op{Kind: OpCreatePersistent, Path: path, Value: value}
}

// CreateSequential returns an Op that creates a persistent-sequential child
// of path.
func CreateSequential(path string, value []byte) Op {
	return Op{Kind: OpCreateSequential, Path: path, Value: value}
}

// Delete returns an Op that removes path.
func Delete(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// Client is the interface the rest of the sharding core consumes. See
// spec.md §4.1 for the full contract.
type Client interface {
	// Exists reports whether path currently has a node.
	Exists(ctx context.Context, path string) (bool, error)

	// Get returns path's value and stat. Returns ErrNoNode if absent.
	Get(ctx context.Context, path string) ([]byte, NodeStat, error)

	// Children lists the immediate children of path (names, not full
	// paths). Returns ErrNoNode if path itself does not exist.
	Children(ctx context.Context, path string) ([]string, error)

	// CreatePersistent creates path with value, surviving session loss.
	// Returns ErrNodeExists if path is already present.
	CreatePersistent(ctx context.Context, path string, value []byte) error

	// CreateEphemeral creates path with value, bound to the current
	// session; the node disappears on StateLost. Returns ErrNodeExists
	// if path is already present — this is the leader-election primitive
	// (spec.md §4.4.1).
	CreateEphemeral(ctx context.Context, path string, value []byte) error

	// CreateEphemeralSequential creates a uniquely-suffixed ephemeral
	// child of path and returns the assigned full path.
	CreateEphemeralSequential(ctx context.Context, path string) (string, error)

	// Set writes value to path, creating it as a persistent node if it
	// does not already exist (an implicit check-then-set).
	Set(ctx context.Context, path string, value []byte) error

	// Delete removes path and, recursively, all of its children.
	// Deleting an absent path is not an error.
	Delete(ctx context.Context, path string) error

	// Transaction commits ops as a single atomic batch. Any OpCheckVersion
	// failure, or any create/delete conflict, aborts the whole batch and
	// returns ErrVersionMismatch or ErrNodeExists.
	Transaction(ctx context.Context, ops []Op) error

	// SubscribeConnState registers callback to receive connection-state
	// transitions. The returned func unregisters it.
	SubscribeConnState(callback func(ConnState)) (unsubscribe func())

	// Close releases the client's session and background resources.
	Close() error
}

// WatchEvent describes a single raw change observed on a watched path,
// consumed by the Tree Cache Manager (internal/treecache).
type WatchEvent struct {
	Path     string
	Value    []byte
	Stat     NodeStat
	Created  bool
	Modified bool
	Deleted  bool
}

// Watcher is implemented by Client backends that can stream raw node
// changes beneath a prefix. It is kept separate from Client because not
// every operation the sharding core performs needs a live feed, only the
// Tree Cache Manager does.
type Watcher interface {
	// Watch streams WatchEvents for every node beneath path (changes to
	// path itself are not reported) until ctx is cancelled or the backend
	// ends the watch; session loss alone does not stop it. The returned
	// channel is closed when watching stops for any reason.
	Watch(ctx context.Context, path string) (<-chan WatchEvent, error)
}
