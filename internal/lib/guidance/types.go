package guidance

import (
	"strings"

	"github.com/wandermate/navigation/server/internal/lib/routing"
)

// Icon names the arrow rendered next to an instruction
type Icon string

const (
	IconLeft        Icon = "arrow-left"
	IconRight       Icon = "arrow-right"
	IconStraight    Icon = "arrow-up"
	IconDestination Icon = "map-pin"
)

// IconFor maps a maneuver to an icon by substring match. Unknown maneuvers fall back to IconStraight.
func IconFor(maneuver routing.ManeuverType) Icon {
	m := strings.ToLower(string(maneuver))
	switch {
	case strings.Contains(m, "left"):
		return IconLeft
	case strings.Contains(m, "right"):
		return IconRight
	default:
		return IconStraight
	}
}

// State is the instruction engine state
type State string

const (
	// StateNoRoute means the route has no turn-by-turn data; straight-line fallback instructions are emitted
	StateNoRoute State = "no_route"
	// StateAtStep means a step is current
	StateAtStep State = "at_step"
	// StateCompleted means the final step threshold was crossed
	StateCompleted State = "completed"
)

// Instruction is a rendered maneuver
type Instruction struct {
	Text       string  `json:"text"`
	Icon       Icon    `json:"icon"`
	Distance   string  `json:"distance"`
	DistanceKm float64 `json:"distance_km"`
}

// Update is the engine output for a single position sample
type Update struct {
	State     State       `json:"state"`
	StepIndex int         `json:"step_index"`
	Advanced  bool        `json:"advanced"`
	Current   Instruction `json:"current"`
	Next      Instruction `json:"next"`
}

// Config holds the engine's tunable thresholds
type Config struct {
	// StepThresholdKm is the proximity at which a maneuver is considered reached
	StepThresholdKm float64
	// ApproachThresholdKm switches fallback guidance to "Approaching destination"
	ApproachThresholdKm float64
	// Strict panics on invariant violations instead of clamping
	Strict bool
}

// DefaultConfig returns the engine defaults: 50 m step threshold, 1 km approach threshold
func DefaultConfig() Config {
	return Config{
		StepThresholdKm:     0.05,
		ApproachThresholdKm: 1.0,
	}
}

// Fallback and placeholder texts
const (
	ContinueText    = "Continue toward destination"
	ApproachingText = "Approaching destination"
	ArriveText      = "Arrive at destination"
)
