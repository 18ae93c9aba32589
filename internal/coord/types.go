// Package coord implements the Coordination Client (CC): a thin adapter over
// a hierarchical, session-scoped metadata store supporting watches, ephemeral
// nodes, and per-node versions. It is the leaf dependency of the sharding
// core; every other package talks to the store only through this package.
package coord

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoNode is returned by Get/Children operations addressed at a path that
// does not exist in the store. Delete of an absent path is not an error.
var ErrNoNode = errors.New("coord: node does not exist")

// ErrNodeExists is returned by create operations addressed at a path that
// already exists.
var ErrNodeExists = errors.New("coord: node already exists")

// ErrVersionMismatch is returned when a transaction's version check fails,
// signaling that the node was modified concurrently since it was last read.
var ErrVersionMismatch = errors.New("coord: version check failed")

// NodeStat carries the metadata the sharding core needs about a node: its
// own modification version, a child-modification counter, and the time of
// its last write. Version increases on every Set of the node's own value;
// Cversion increases on every child create/delete beneath it.
type NodeStat struct {
	Mtime    time.Time
	Version  int64
	Cversion int64
}

// ConnState is the session connection state delivered to subscribers
// registered via Client.SubscribeConnState.
type ConnState int

const (
	// StateConnected indicates an active, healthy session.
	StateConnected ConnState = iota
	// StateSuspended indicates a transient connectivity loss; the session
	// may still be valid once connectivity returns.
	StateSuspended
	// StateLost indicates the session has expired; all ephemeral nodes
	// created under it, including a held leader lock, are forfeit.
	StateLost
	// StateReconnected indicates a new session has been established after
	// StateLost, or connectivity was restored after StateSuspended.
	StateReconnected
)

// String renders the connection state for logging.
func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateSuspended:
		return "SUSPENDED"
	case StateLost:
		return "LOST"
	case StateReconnected:
		return "RECONNECTED"
	default:
		return "UNKNOWN"
	}
}

// CoordinationError is the uniform error type returned for transient store
// failures. It never aborts the process; callers translate it into a
// Resync event or an alarm.
type CoordinationError struct {
	Op   string
	Path string
	Err  error
}

func (e *CoordinationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("coord: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("coord: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CoordinationError) Unwrap() error { return e.Err }

// wrapErr builds a CoordinationError around err (nil stays nil). Because
// CoordinationError implements Unwrap, callers can still errors.Is the
// result against ErrNoNode/ErrNodeExists/ErrVersionMismatch.
func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &CoordinationError{Op: op, Path: path, Err: err}
}
