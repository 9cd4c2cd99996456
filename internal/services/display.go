package services

import (
	"time"

	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/guidance"
)

// Status is the session lifecycle state
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusTracking     Status = "tracking"
	StatusEnded        Status = "ended"
)

// CalculatingText is shown for ETA and distance until a route is available
const CalculatingText = "Calculating..."

// DisplayState is the derived view of a session rendered by clients
type DisplayState struct {
	SessionID       string         `json:"session_id"`
	Status          Status         `json:"status"`
	DestinationName string         `json:"destination_name,omitempty"`
	Destination     geo.Coordinate `json:"destination"`

	ETA                 string  `json:"eta"`
	DistanceRemaining   string  `json:"distance_remaining"`
	DistanceRemainingKm float64 `json:"distance_remaining_km"`

	GuidanceState guidance.State        `json:"guidance_state,omitempty"`
	StepIndex     int                   `json:"step_index"`
	Current       *guidance.Instruction `json:"current_instruction,omitempty"`
	Next          *guidance.Instruction `json:"next_instruction,omitempty"`

	Position *geo.Coordinate `json:"position,omitempty"`
	SpeedKmh float64         `json:"speed_kmh"`

	SelectedRoute int    `json:"selected_route"`
	RouteLabel    string `json:"route_label,omitempty"`
	RouteCount    int    `json:"route_count"`

	RouteUnavailable bool `json:"route_unavailable"`
	MapUnavailable   bool `json:"map_unavailable"`
	GPSDegraded      bool `json:"gps_degraded"`
	OffRoute         bool `json:"off_route"`
	Arrived          bool `json:"arrived"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TripSummary is returned when a session ends
type TripSummary struct {
	SessionID       string         `json:"session_id"`
	DestinationName string         `json:"destination_name,omitempty"`
	Destination     geo.Coordinate `json:"destination"`
	RouteLabel      string         `json:"route_label,omitempty"`

	// DistanceKm is the distance travelled when positions were received, the planned distance otherwise
	DistanceKm     float64       `json:"distance_km"`
	Distance       string        `json:"distance"`
	DistanceSource string        `json:"distance_source"` // "travelled" or "planned"
	Duration       time.Duration `json:"duration_ns"`
	DurationText   string        `json:"duration"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Arrived   bool      `json:"arrived"`

	// Path is the travelled track, or the selected route geometry when fewer than two positions arrived
	Path []geo.Coordinate `json:"-"`
}

// Observer receives side effects from a session. Calls are made synchronously while the session
// lock is held, so implementations must not call back into the session.
type Observer interface {
	// Recenter moves the map to the latest position while tracking
	Recenter(position geo.Coordinate)
	// Render publishes a new display snapshot
	Render(display DisplayState)
}

// NopObserver ignores every call
type NopObserver struct{}

func (NopObserver) Recenter(geo.Coordinate) {}
func (NopObserver) Render(DisplayState)     {}
