package routing

import (
	"context"
	"strings"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// ManeuverType is a normalized maneuver description such as "turn left", "straight" or "arrive".
// Adapters lower-case provider values and join type and modifier with a space.
type ManeuverType string

const (
	ManeuverStraight ManeuverType = "straight"
	ManeuverLeft     ManeuverType = "turn left"
	ManeuverRight    ManeuverType = "turn right"
	ManeuverDepart   ManeuverType = "depart"
	ManeuverArrive   ManeuverType = "arrive"
)

// NormalizeManeuver builds a ManeuverType from provider fields, e.g. ("TURN_SLIGHT_LEFT") or ("turn", "left")
func NormalizeManeuver(parts ...string) ManeuverType {
	var words []string
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(strings.ReplaceAll(part, "_", " ")))
		if part != "" {
			words = append(words, part)
		}
	}
	if len(words) == 0 {
		return ManeuverStraight
	}
	return ManeuverType(strings.Join(words, " "))
}

// RouteStep is a single maneuver along a route. Never mutated after the provider builds it.
type RouteStep struct {
	Maneuver       ManeuverType   `json:"maneuver"`
	Instruction    string         `json:"instruction"`
	Location       geo.Coordinate `json:"location"`
	DistanceMeters float64        `json:"distance_meters"`
}

// Kind identifies how a route alternative was selected
type Kind string

const (
	KindTrafficAware Kind = "traffic"
	KindShortest     Kind = "shortest"
	KindAlternative  Kind = "alternative"
)

// RouteOption is one complete path alternative from origin to destination.
// Options are immutable once built and may be shared without locking.
type RouteOption struct {
	ID              string           `json:"id"`
	Kind            Kind             `json:"kind"`
	Label           string           `json:"label"`
	Color           string           `json:"color"`
	Geometry        []geo.Coordinate `json:"geometry"`
	DurationSeconds float64          `json:"duration_seconds"`
	DistanceMeters  float64          `json:"distance_meters"`
	Steps           []RouteStep      `json:"steps"`
}

// Profile selects the kind of directions request
type Profile string

const (
	// ProfileTrafficAware requests the single best route using live traffic
	ProfileTrafficAware Profile = "traffic-aware"
	// ProfileAlternatives requests a set of alternative routes
	ProfileAlternatives Profile = "alternatives"
)

// DirectionsRequest is a single request to a directions source
type DirectionsRequest struct {
	Origin      geo.Coordinate
	Destination geo.Coordinate
	Profile     Profile
	Token       string
}

// DirectionsRoute is a directions result already mapped into strongly-typed fields by an adapter
type DirectionsRoute struct {
	Geometry        []geo.Coordinate
	Steps           []RouteStep
	DurationSeconds float64
	DistanceMeters  float64
}

// DirectionsSource fetches routes from a directions service.
// Implementations live in internal/clients and must not retry.
type DirectionsSource interface {
	Directions(ctx context.Context, req DirectionsRequest) ([]DirectionsRoute, error)
}
