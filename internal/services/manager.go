package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/wandermate/navigation/server/internal/clients/credentials"
	"github.com/wandermate/navigation/server/internal/clients/geocoding"
	"github.com/wandermate/navigation/server/internal/config"
	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/telemetry"
	"github.com/wandermate/navigation/server/internal/lib/tracking"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs
	ErrSessionNotFound = errors.New("navigation session not found")
	// ErrInvalidDestination is returned when neither a valid coordinate nor an address is given
	ErrInvalidDestination = errors.New("invalid destination")
)

// CreateRequest describes a new trip. Destination wins over Address when both are set.
type CreateRequest struct {
	Destination     *geo.Coordinate
	Address         string
	DestinationName string
}

type managedSession struct {
	session *Session
	source  *tracking.PushSource
}

// SessionManager owns live sessions. Each session gets its own PushSource fed by client devices.
// Sessions idle for longer than the configured timeout are torn down by a background reaper.
type SessionManager struct {
	cfg         *config.Config
	routes      RouteProvider
	credentials credentials.Source
	geocoder    geocoding.Geocoder
	sink        telemetry.Sink
	now         func() time.Time

	// locationSource adapts a session's push source before the tracker subscribes to it
	locationSource func(*tracking.PushSource) tracking.Source

	mu       sync.RWMutex
	sessions map[string]*managedSession

	// Background reaper control. stopChan is replaced on every start.
	reaperMu sync.Mutex
	stopChan chan struct{}
	running  atomic.Bool
}

// NewSessionManager creates a manager. credentials and geocoder may be nil.
func NewSessionManager(cfg *config.Config, routes RouteProvider, creds credentials.Source, geocoder geocoding.Geocoder, sink telemetry.Sink) *SessionManager {
	return NewSessionManagerWithClock(cfg, routes, creds, geocoder, sink, time.Now)
}

// NewSessionManagerWithClock creates a manager whose sessions and trackers share the clock now
func NewSessionManagerWithClock(cfg *config.Config, routes RouteProvider, creds credentials.Source, geocoder geocoding.Geocoder, sink telemetry.Sink, now func() time.Time) *SessionManager {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &SessionManager{
		cfg:            cfg,
		routes:         routes,
		credentials:    creds,
		geocoder:       geocoder,
		sink:           sink,
		now:            now,
		locationSource: pushedLocations,
		sessions:       make(map[string]*managedSession),
	}
}

func pushedLocations(p *tracking.PushSource) tracking.Source { return p }

// Create resolves the destination, starts a session and registers it
func (m *SessionManager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	ctx = logging.EnsureLogger(ctx)
	destination, err := m.resolveDestination(ctx, req)
	if err != nil {
		return nil, err
	}

	name := req.DestinationName
	if name == "" {
		name = req.Address
	}

	source := tracking.NewPushSourceWithClock(m.now)
	tracker := tracking.NewTrackerWithClock(m.locationSource(source), m.cfg.TrackerOptions(), m.now)

	session := NewSession(uuid.New().String(), destination, name, Dependencies{
		Routes:      m.routes,
		Tracker:     tracker,
		Credentials: m.credentials,
		Sink:        m.sink,
		Navigation:  m.cfg.Navigation,
		Guidance:    m.cfg.Guidance(),
		Now:         m.now,
	})

	m.mu.Lock()
	m.sessions[session.ID()] = &managedSession{session: session, source: source}
	m.mu.Unlock()

	if err := session.Start(ctx); err != nil {
		m.remove(ctx, session.ID())
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	logging.Infow(ctx, "Navigation session created", "session_id", session.ID(),
		"destination", name, "routes", len(session.Options()))
	return session, nil
}

func (m *SessionManager) resolveDestination(ctx context.Context, req CreateRequest) (geo.Coordinate, error) {
	if req.Destination != nil {
		if !req.Destination.Valid() {
			return geo.Coordinate{}, fmt.Errorf("%w: coordinate out of range", ErrInvalidDestination)
		}
		return *req.Destination, nil
	}
	if req.Address == "" {
		return geo.Coordinate{}, fmt.Errorf("%w: destination or address required", ErrInvalidDestination)
	}
	if m.geocoder == nil {
		return geo.Coordinate{}, fmt.Errorf("%w: address lookup is not configured", ErrInvalidDestination)
	}

	coord, err := m.geocoder.Geocode(ctx, req.Address)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("failed to geocode %q: %w", req.Address, err)
	}
	return coord, nil
}

// Get returns a session by ID
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return managed.session, nil
}

// Source returns the push source feeding a session's tracker
func (m *SessionManager) Source(id string) (*tracking.PushSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	managed, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return managed.source, nil
}

// End ends a session. Ended sessions stay readable until the reaper removes them.
func (m *SessionManager) End(ctx context.Context, id string) (TripSummary, error) {
	session, err := m.Get(id)
	if err != nil {
		return TripSummary{}, err
	}
	return session.End(ctx), nil
}

// Len returns the number of registered sessions
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) remove(ctx context.Context, id string) {
	m.mu.Lock()
	managed, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		managed.session.Close(ctx)
	}
}

// StartReaper begins removing idle sessions every reap interval. A stopped reaper can be started again.
func (m *SessionManager) StartReaper(ctx context.Context) error {
	m.reaperMu.Lock()
	defer m.reaperMu.Unlock()

	if m.running.Load() {
		return nil // Already running
	}

	ctx = logging.EnsureLogger(ctx)
	stop := make(chan struct{})
	m.stopChan = stop
	m.running.Store(true)

	interval := m.cfg.Sessions.ReapInterval
	logging.Infow(ctx, "Starting session reaper", "interval", interval, "idle_timeout", m.cfg.Sessions.IdleTimeout)

	go m.reapLoop(ctx, interval, stop)

	return nil
}

// Stop gracefully stops the reaper
func (m *SessionManager) Stop() {
	m.reaperMu.Lock()
	defer m.reaperMu.Unlock()

	if !m.running.Load() {
		return
	}

	m.running.Store(false)
	close(m.stopChan)
}

// IsRunning returns whether the reaper is active
func (m *SessionManager) IsRunning() bool {
	return m.running.Load()
}

func (m *SessionManager) reapLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := perrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Session reaper: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Session reaper stopping due to context cancellation")
			return
		case <-stop:
			logging.Infow(ctx, "Session reaper stopping due to stop signal")
			return
		case <-ticker.C:
			if reaped := m.ReapIdle(ctx); reaped > 0 {
				logging.Infow(ctx, "Session reaper: removed idle sessions", "reaped", reaped)
			}
		}
	}
}

// ReapIdle tears down sessions with no activity within the idle timeout and returns how many were removed
func (m *SessionManager) ReapIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.Sessions.IdleTimeout)

	m.mu.RLock()
	var idle []string
	for id, managed := range m.sessions {
		if managed.session.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.remove(ctx, id)
	}
	return len(idle)
}

// Shutdown stops the reaper and ends every session
func (m *SessionManager) Shutdown(ctx context.Context) {
	ctx = logging.EnsureLogger(ctx)
	m.Stop()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, managed := range sessions {
		managed.session.Close(ctx)
	}
	logging.Infow(ctx, "Session manager shut down", "sessions", len(sessions))
}
