// Package treecache implements the Tree Cache Manager (TCM): it materializes
// selected subtrees of the coordination store to a bounded depth and emits
// ordered change events to registered subscribers. See spec.md §4.2.
package treecache

import (
	"time"

	"github.com/dreamware/shardkeeper/internal/coord"
)

// EventType enumerates the kinds of event a Cache delivers to its
// listeners, per spec.md §4.2.
type EventType int

const (
	NodeAdded EventType = iota
	NodeUpdated
	NodeRemoved
	Initialized
	ConnectionSuspended
	ConnectionReconnected
	ConnectionLost
)

func (t EventType) String() string {
	switch t {
	case NodeAdded:
		return "NODE_ADDED"
	case NodeUpdated:
		return "NODE_UPDATED"
	case NodeRemoved:
		return "NODE_REMOVED"
	case Initialized:
		return "INITIALIZED"
	case ConnectionSuspended:
		return "CONNECTION_SUSPENDED"
	case ConnectionReconnected:
		return "CONNECTION_RECONNECTED"
	case ConnectionLost:
		return "CONNECTION_LOST"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to every listener of a Cache. Path/Data/Stat are only
// meaningful for NODE_* event types; connection events carry zero values
// for them.
type Event struct {
	Type  EventType
	Path  string
	Data  []byte
	Stat  coord.NodeStat
	Mtime time.Time
}
