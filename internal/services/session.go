package services

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/wandermate/navigation/server/internal/clients/credentials"
	"github.com/wandermate/navigation/server/internal/config"
	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/guidance"
	"github.com/wandermate/navigation/server/internal/lib/routing"
	"github.com/wandermate/navigation/server/internal/lib/telemetry"
	"github.com/wandermate/navigation/server/internal/lib/tracking"
)

var (
	// ErrSessionEnded is returned when starting a session that has already ended
	ErrSessionEnded = errors.New("navigation session has ended")
	// ErrSessionStarted is returned when Start is called twice
	ErrSessionStarted = errors.New("navigation session already started")
)

// RouteProvider resolves ranked route alternatives. An empty result means no route is available.
type RouteProvider interface {
	Routes(ctx context.Context, origin, destination geo.Coordinate, token string) []routing.RouteOption
}

// Dependencies are the collaborators a session drives
type Dependencies struct {
	Routes      RouteProvider
	Tracker     *tracking.Tracker  // nil means no location source
	Credentials credentials.Source // nil means the directions source uses its configured key
	Sink        telemetry.Sink
	Observer    Observer
	Navigation  config.NavigationConfig
	Guidance    guidance.Config // zero value means guidance.DefaultConfig
	Now         func() time.Time
}

// Session tracks one trip toward a destination. All state is owned by the session and every
// operation runs under its lock, so position updates are applied one at a time in arrival order.
type Session struct {
	id              string
	destination     geo.Coordinate
	destinationName string

	routes      RouteProvider
	tracker     *tracking.Tracker
	credentials credentials.Source
	sink        telemetry.Sink
	observer    Observer
	nav         config.NavigationConfig
	guidanceCfg guidance.Config
	now         func() time.Time

	mu           sync.Mutex
	status       Status
	started      bool
	routesLoaded bool
	options      []routing.RouteOption
	selected     int
	selectedAt   time.Time
	engine       *guidance.Engine

	// liveSinceSelect is false until the first position after a route selection; until then the
	// display shows the selected route's totals
	liveSinceSelect bool
	lastPosition    *tracking.PositionSample
	firstPosition   *geo.Coordinate
	trail           []geo.Coordinate
	lastUpdate      *guidance.Update
	travelledKm     float64

	mapUnavailable bool
	gpsDegraded    bool
	arrived        bool

	sub          *tracking.Subscription
	startedAt    time.Time
	lastActivity time.Time
	display      DisplayState
	summary      *TripSummary
}

// NewSession creates a session in the initializing state. Call Start to fetch routes and begin tracking.
func NewSession(id string, destination geo.Coordinate, destinationName string, deps Dependencies) *Session {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	sink := deps.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	guidanceCfg := deps.Guidance
	if guidanceCfg == (guidance.Config{}) {
		guidanceCfg = guidance.DefaultConfig()
	}

	s := &Session{
		id:              id,
		destination:     destination,
		destinationName: destinationName,
		routes:          deps.Routes,
		tracker:         deps.Tracker,
		credentials:     deps.Credentials,
		sink:            sink,
		observer:        observer,
		nav:             deps.Navigation,
		guidanceCfg:     guidanceCfg,
		now:             now,
		status:          StatusInitializing,
		startedAt:       now(),
	}
	s.lastActivity = s.startedAt
	s.refreshDisplayLocked()
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Status returns the lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Display returns the latest display snapshot
func (s *Session) Display() DisplayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// Options returns the resolved route alternatives
func (s *Session) Options() []routing.RouteOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]routing.RouteOption(nil), s.options...)
}

// Summary returns the trip summary once the session has ended
func (s *Session) Summary() (TripSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return TripSummary{}, false
	}
	return *s.summary, true
}

// LastActivity returns when the session last received a position or command
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Start subscribes to the location source and fetches route alternatives. Route fetching is
// the only blocking step; location or credential failures leave the session in a degraded but
// usable state and are not returned as errors.
func (s *Session) Start(ctx context.Context) error {
	// The pump outlives ctx's deadline but keeps its logger
	ctx = logging.EnsureLogger(ctx)

	s.mu.Lock()
	switch {
	case s.status == StatusEnded:
		s.mu.Unlock()
		return ErrSessionEnded
	case s.started:
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.started = true
	s.track(ctx, telemetry.EventTripStarted, map[string]any{"destination": s.destinationName})
	s.mu.Unlock()

	s.startTracking(ctx)

	token := s.fetchToken(ctx)

	s.mu.Lock()
	origin := s.destination // placeholder until a position arrives
	if s.lastPosition != nil && s.lastPosition.Coordinate.Valid() {
		origin = s.lastPosition.Coordinate
	}
	ended := s.status == StatusEnded
	s.mu.Unlock()

	if ended {
		return nil
	}

	var options []routing.RouteOption
	if s.routes != nil {
		options = s.routes.Routes(ctx, origin, s.destination, token)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return nil
	}

	s.routesLoaded = true
	s.options = options
	// Positions that arrived while routes were loading still count toward the first route
	s.selectLocked(0, time.Time{})
	if s.lastPosition != nil {
		s.status = StatusTracking
	}

	if len(options) == 0 {
		logging.Warnw(ctx, "No routes available, showing route unavailable state", "session_id", s.id)
	}
	s.track(ctx, telemetry.EventRoutesResolved, map[string]any{"options": len(options)})

	s.refreshDisplayLocked()
	s.observer.Render(s.display)
	return nil
}

func (s *Session) startTracking(ctx context.Context) {
	if s.tracker == nil {
		s.mu.Lock()
		s.gpsDegraded = true
		s.mu.Unlock()
		return
	}

	sub, err := s.tracker.Start(ctx)
	if err != nil {
		logging.Warnw(ctx, "Location tracking unavailable", "session_id", s.id, "error", err)
		s.OnPositionError(ctx, err)
		return
	}

	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		sub.Cancel()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	go s.pump(context.WithoutCancel(ctx), sub)
}

func (s *Session) fetchToken(ctx context.Context) string {
	if s.credentials == nil {
		return ""
	}
	token, err := s.credentials.Token(ctx)
	if err != nil {
		logging.Warnw(ctx, "Routing credential unavailable, map disabled", "session_id", s.id, "error", err)
		s.mu.Lock()
		s.mapUnavailable = true
		s.mu.Unlock()
		return ""
	}
	return token
}

// pump feeds subscription output into the session until the subscription is cancelled
func (s *Session) pump(ctx context.Context, sub *tracking.Subscription) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := perrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Session pump: recovered from panic",
				"session_id", s.id, "error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	samples, errs := sub.Samples(), sub.Errors()
	for samples != nil || errs != nil {
		select {
		case sample, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			s.OnPositionUpdate(ctx, sample)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.OnPositionError(ctx, err)
		}
	}
}

// SelectRoute switches to options[index] and resets step progress. An out-of-range index is
// ignored and reported as false.
func (s *Session) SelectRoute(ctx context.Context, index int) (DisplayState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded || index < 0 || index >= len(s.options) {
		logging.Infow(ctx, "Ignoring route selection", "session_id", s.id, "index", index, "options", len(s.options))
		return s.display, false
	}

	s.selectLocked(index, s.now())
	s.lastActivity = s.now()
	s.track(ctx, telemetry.EventRouteSelected, map[string]any{"index": index, "label": s.options[index].Label})

	s.refreshDisplayLocked()
	s.observer.Render(s.display)
	return s.display, true
}

// selectLocked applies a route selection. Samples received before at are dropped.
func (s *Session) selectLocked(index int, at time.Time) {
	s.selected = index
	s.selectedAt = at
	s.liveSinceSelect = false
	s.lastUpdate = nil

	var steps []routing.RouteStep
	if index < len(s.options) {
		steps = s.options[index].Steps
	}
	s.engine = guidance.NewEngine(steps, s.destination, s.guidanceCfg)
}

// OnPositionUpdate applies a position sample. Samples received before the latest route
// selection, samples with invalid coordinates and samples after the session ended are dropped.
func (s *Session) OnPositionUpdate(ctx context.Context, sample tracking.PositionSample) DisplayState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return s.display
	}
	if !sample.ReceivedAt.IsZero() && sample.ReceivedAt.Before(s.selectedAt) {
		return s.display
	}
	if !sample.Coordinate.Valid() {
		logging.Warnw(ctx, "Dropping position with invalid coordinate", "session_id", s.id,
			"lat", sample.Coordinate.Latitude, "lng", sample.Coordinate.Longitude)
		return s.display
	}

	position := sample.Coordinate
	if s.lastPosition != nil {
		s.travelledKm += geo.Distance(s.lastPosition.Coordinate, position)
	} else {
		first := position
		s.firstPosition = &first
	}
	s.lastPosition = &sample
	s.trail = append(s.trail, position)
	s.lastActivity = s.now()
	s.gpsDegraded = false

	if s.routesLoaded && s.status == StatusInitializing {
		s.status = StatusTracking
	}

	if s.engine != nil {
		update := s.engine.Update(position)
		s.lastUpdate = &update
		s.liveSinceSelect = true
		if update.Advanced {
			s.track(ctx, telemetry.EventStepAdvanced, map[string]any{"step": update.StepIndex, "instruction": update.Current.Text})
		}
	}

	s.refreshDisplayLocked()

	if s.status == StatusTracking {
		s.observer.Recenter(position)
	}
	s.observer.Render(s.display)

	if s.status == StatusTracking && s.reachedDestinationLocked(position) {
		s.arrived = true
		s.track(ctx, telemetry.EventTripArrived, map[string]any{"distance_km": s.travelledKm})
		s.endLocked(ctx)
	}

	return s.display
}

// OnPositionError records a location source failure. The session keeps its last known position,
// treats speed as unknown and keeps running.
func (s *Session) OnPositionError(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return
	}

	s.gpsDegraded = true
	if s.lastPosition != nil {
		s.lastPosition.HasSpeed = false
		s.lastPosition.SpeedMetersPerSecond = 0
	}

	logging.Warnw(ctx, "Position source error", "session_id", s.id, "error", err)
	s.track(ctx, telemetry.EventPositionError, map[string]any{"error": err.Error(), "kind": positionErrorKind(err)})

	s.refreshDisplayLocked()
	s.observer.Render(s.display)
}

// End stops the session, releases the location subscription and returns the trip summary.
// Calling End again returns the same summary without touching the subscription.
func (s *Session) End(ctx context.Context) TripSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endLocked(ctx)
}

// Close is the teardown path for callers that are discarding the session
func (s *Session) Close(ctx context.Context) error {
	s.End(ctx)
	return nil
}

func (s *Session) endLocked(ctx context.Context) TripSummary {
	if s.summary != nil {
		return *s.summary
	}

	s.status = StatusEnded
	endedAt := s.now()

	if s.sub != nil {
		if err := s.sub.Cancel(); err != nil {
			logging.Warnw(ctx, "Failed to release location subscription", "session_id", s.id, "error", err)
		}
		s.sub = nil
	}

	summary := s.summarizeLocked(endedAt)
	s.summary = &summary

	s.refreshDisplayLocked()
	s.observer.Render(s.display)

	// Transient navigation state is discarded; the final display and summary remain readable
	s.engine = nil
	s.lastUpdate = nil
	s.lastPosition = nil

	s.track(ctx, telemetry.EventTripEnded, map[string]any{
		"arrived":     summary.Arrived,
		"distance_km": summary.DistanceKm,
		"duration_s":  summary.Duration.Seconds(),
	})
	logging.Infow(ctx, "Navigation session ended", "session_id", s.id, "arrived", summary.Arrived,
		"distance", summary.Distance, "duration", summary.DurationText)

	return summary
}

func (s *Session) summarizeLocked(endedAt time.Time) TripSummary {
	summary := TripSummary{
		SessionID:       s.id,
		DestinationName: s.destinationName,
		Destination:     s.destination,
		StartedAt:       s.startedAt,
		EndedAt:         endedAt,
		Duration:        endedAt.Sub(s.startedAt),
		Arrived:         s.arrived,
	}
	summary.DurationText = geo.FormatMinutes(summary.Duration.Minutes())

	if route, ok := s.selectedRouteLocked(); ok {
		summary.RouteLabel = route.Label
		summary.Path = append([]geo.Coordinate(nil), route.Geometry...)
	}
	if len(s.trail) >= 2 {
		summary.Path = append([]geo.Coordinate(nil), s.trail...)
	}

	switch {
	case s.firstPosition != nil:
		summary.DistanceKm = s.travelledKm
		summary.DistanceSource = "travelled"
	default:
		if route, ok := s.selectedRouteLocked(); ok {
			summary.DistanceKm = route.DistanceMeters / 1000
		}
		summary.DistanceSource = "planned"
	}
	summary.Distance = geo.FormatDistance(summary.DistanceKm)

	return summary
}

func (s *Session) selectedRouteLocked() (routing.RouteOption, bool) {
	if s.selected < 0 || s.selected >= len(s.options) {
		return routing.RouteOption{}, false
	}
	return s.options[s.selected], true
}

func (s *Session) reachedDestinationLocked(position geo.Coordinate) bool {
	if s.lastUpdate != nil && s.lastUpdate.State == guidance.StateCompleted {
		return true
	}
	return s.nav.ArrivalThresholdKm > 0 && geo.Distance(position, s.destination) < s.nav.ArrivalThresholdKm
}

// etaSpeedKmhLocked is the live speed, or the configured fallback when speed is zero or unknown
func (s *Session) etaSpeedKmhLocked() float64 {
	if s.lastPosition != nil && s.lastPosition.HasSpeed && s.lastPosition.SpeedMetersPerSecond > 0 {
		return geo.SpeedKmh(s.lastPosition.SpeedMetersPerSecond)
	}
	if s.nav.FallbackSpeedKmh > 0 {
		return s.nav.FallbackSpeedKmh
	}
	return geo.DefaultSpeedKmh
}

// refreshDisplayLocked derives the display from current state. ETA and distance are always
// recomputed from the selected route and latest position, never carried over.
func (s *Session) refreshDisplayLocked() {
	d := DisplayState{
		SessionID:         s.id,
		Status:            s.status,
		DestinationName:   s.destinationName,
		Destination:       s.destination,
		ETA:               CalculatingText,
		DistanceRemaining: CalculatingText,
		SelectedRoute:     s.selected,
		RouteCount:        len(s.options),
		RouteUnavailable:  s.routesLoaded && len(s.options) == 0,
		MapUnavailable:    s.mapUnavailable,
		GPSDegraded:       s.gpsDegraded,
		Arrived:           s.arrived,
		UpdatedAt:         s.now(),
	}

	if s.engine != nil {
		d.StepIndex = s.engine.StepIndex()
	}

	if s.lastUpdate != nil {
		current, next := s.lastUpdate.Current, s.lastUpdate.Next
		d.Current = &current
		d.Next = &next
		d.GuidanceState = s.lastUpdate.State
	}

	var position *geo.Coordinate
	if s.lastPosition != nil {
		p := s.lastPosition.Coordinate
		position = &p
		d.Position = position
		d.SpeedKmh = guidance.DisplaySpeedKmh(*s.lastPosition)
	}

	if route, ok := s.selectedRouteLocked(); ok {
		d.RouteLabel = route.Label
		if position != nil && s.liveSinceSelect {
			km := geo.Distance(*position, s.destination)
			d.DistanceRemainingKm = km
			d.DistanceRemaining = geo.FormatDistance(km)
			d.ETA = geo.ETA(km, s.etaSpeedKmhLocked())
			d.OffRoute = s.nav.OffRouteThresholdKm > 0 &&
				geo.DistanceToPath(*position, route.Geometry) > s.nav.OffRouteThresholdKm
		} else {
			d.DistanceRemainingKm = route.DistanceMeters / 1000
			d.DistanceRemaining = geo.FormatDistance(d.DistanceRemainingKm)
			d.ETA = geo.FormatMinutes(route.DurationSeconds / 60)
		}
	}

	s.display = d
}

func (s *Session) track(ctx context.Context, name string, props map[string]any) {
	s.sink.Track(ctx, telemetry.Event{
		Name:       name,
		SessionID:  s.id,
		Properties: props,
		Timestamp:  s.now(),
	})
}

func positionErrorKind(err error) string {
	switch {
	case errors.Is(err, tracking.ErrTimeout):
		return "timeout"
	case errors.Is(err, tracking.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, tracking.ErrPositionUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
