// Package telemetry records product analytics events emitted by navigation sessions.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names
const (
	EventTripStarted    = "trip_started"
	EventRoutesResolved = "routes_resolved"
	EventRouteSelected  = "route_selected"
	EventStepAdvanced   = "step_advanced"
	EventPositionError  = "position_error"
	EventTripArrived    = "trip_arrived"
	EventTripEnded      = "trip_ended"
)

// DefaultBufferCapacity is how many events a BufferSink retains
const DefaultBufferCapacity = 1000

// Event is a single analytics event
type Event struct {
	Name       string         `json:"event"`
	SessionID  string         `json:"session_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink receives events. Implementations must be safe for concurrent use and must not block.
type Sink interface {
	Track(ctx context.Context, event Event)
}

// NopSink discards every event
type NopSink struct{}

func (NopSink) Track(context.Context, Event) {}

// ZapSink writes one structured log line per event
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink creates a sink that logs to log. A nil logger yields a no-op logger.
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log.Named("telemetry")}
}

func (s *ZapSink) Track(_ context.Context, event Event) {
	fields := make([]zap.Field, 0, len(event.Properties)+2)
	fields = append(fields, zap.String("session_id", event.SessionID), zap.Time("timestamp", event.Timestamp))

	keys := make([]string, 0, len(event.Properties))
	for k := range event.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, event.Properties[k]))
	}

	s.log.Info(event.Name, fields...)
}

// BufferSink keeps the most recent events in memory
type BufferSink struct {
	mu       sync.Mutex
	capacity int
	events   []Event
}

// NewBufferSink creates a buffer holding at most capacity events. Non-positive capacity uses the default.
func NewBufferSink(capacity int) *BufferSink {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &BufferSink{capacity: capacity}
}

func (s *BufferSink) Track(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
}

// Events returns a copy of the buffered events, oldest first
func (s *BufferSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Named returns the buffered events with the given name
func (s *BufferSink) Named(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns the number of buffered events per name
func (s *BufferSink) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.events {
		counts[e.Name]++
	}
	return counts
}

// Clear drops all buffered events
func (s *BufferSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// MultiSink fans events out to several sinks
type MultiSink []Sink

func (m MultiSink) Track(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Track(ctx, event)
		}
	}
}
