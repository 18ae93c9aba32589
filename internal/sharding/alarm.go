package sharding

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/shardkeeper/internal/cluster"
)

// AlarmEvent is one alert raised by SE, per spec.md §4.4.7 and §7 (e.g. a
// turn that could not assign any executor to an enabled job).
type AlarmEvent struct {
	Job       string
	Executor  string
	Reason    string
	Detail    string
	Timestamp time.Time
}

// Alarm is the external collaborator SE reports operator-facing problems
// to. It never returns an error the engine must act on; alarm delivery
// failures are the sink's own concern.
type Alarm interface {
	Raise(ctx context.Context, ev AlarmEvent)
}

// HTTPAlarm posts AlarmEvents as JSON to a configured endpoint, reusing
// the teacher's PostJSON helper for the actual request.
type HTTPAlarm struct {
	URL string
}

// NewHTTPAlarm returns an Alarm sink that POSTs to url.
func NewHTTPAlarm(url string) *HTTPAlarm {
	return &HTTPAlarm{URL: url}
}

func (h *HTTPAlarm) Raise(ctx context.Context, ev AlarmEvent) {
	_ = cluster.PostJSON(ctx, h.URL, ev, nil)
}

// RecordingAlarm collects raised events in memory, for tests and for the
// no-sink-configured default.
type RecordingAlarm struct {
	mu     sync.Mutex
	events []AlarmEvent
}

// NewRecordingAlarm returns an empty RecordingAlarm.
func NewRecordingAlarm() *RecordingAlarm {
	return &RecordingAlarm{}
}

func (r *RecordingAlarm) Raise(_ context.Context, ev AlarmEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of every event raised so far.
func (r *RecordingAlarm) Events() []AlarmEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlarmEvent(nil), r.events...)
}
