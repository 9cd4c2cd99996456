// Package guidance implements turn-by-turn instruction tracking over a route's step list.
//
// The engine holds a monotonic current step index. Each position update scans the steps ahead
// of the current one in order and commits to the first step whose maneuver location lies within
// the step threshold. The index never moves backward; a new route selection requires a new Engine.
package guidance

import (
	"fmt"

	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/routing"
	"github.com/wandermate/navigation/server/internal/lib/tracking"
)

// Engine tracks progress through a single route's steps. It is not safe for concurrent use;
// the owning session serializes calls.
type Engine struct {
	cfg         Config
	steps       []routing.RouteStep
	destination geo.Coordinate
	current     int
	completed   bool
}

// NewEngine creates an engine positioned at step 0. An empty step list puts the engine in
// StateNoRoute, where guidance is derived from straight-line distance to the destination.
func NewEngine(steps []routing.RouteStep, destination geo.Coordinate, cfg Config) *Engine {
	return &Engine{
		cfg:         cfg,
		steps:       steps,
		destination: destination,
	}
}

// StepIndex returns the current step index
func (e *Engine) StepIndex() int {
	return e.current
}

// State returns the current engine state
func (e *Engine) State() State {
	switch {
	case len(e.steps) == 0:
		return StateNoRoute
	case e.completed:
		return StateCompleted
	default:
		return StateAtStep
	}
}

// Update advances the engine for a new position and renders the current/next instruction pair
func (e *Engine) Update(position geo.Coordinate) Update {
	if len(e.steps) == 0 {
		return e.fallback(position)
	}

	advanced := false
	if !e.completed {
		for j := e.current + 1; j < len(e.steps); j++ {
			if geo.Distance(position, e.steps[j].Location) < e.cfg.StepThresholdKm {
				e.advanceTo(j)
				advanced = true
				break
			}
		}

		last := len(e.steps) - 1
		if e.current == last && geo.Distance(position, e.steps[last].Location) < e.cfg.StepThresholdKm {
			e.completed = true
		}
	}

	return Update{
		State:     e.State(),
		StepIndex: e.current,
		Advanced:  advanced,
		Current:   e.stepInstruction(e.current, position),
		Next:      e.nextInstruction(position),
	}
}

// advanceTo moves the current index forward to j. An index past the end of the step list is an
// invariant violation: it panics in strict mode and is clamped to the last step otherwise.
func (e *Engine) advanceTo(j int) {
	if j >= len(e.steps) {
		if e.cfg.Strict {
			panic(fmt.Sprintf("guidance: step index %d out of range [0, %d)", j, len(e.steps)))
		}
		j = len(e.steps) - 1
	}
	if j > e.current {
		e.current = j
	}
}

func (e *Engine) stepInstruction(i int, position geo.Coordinate) Instruction {
	step := e.steps[i]
	distance := geo.Distance(position, step.Location)
	return Instruction{
		Text:       step.Instruction,
		Icon:       IconFor(step.Maneuver),
		Distance:   geo.FormatDistance(distance),
		DistanceKm: distance,
	}
}

func (e *Engine) nextInstruction(position geo.Coordinate) Instruction {
	if e.current+1 < len(e.steps) {
		return e.stepInstruction(e.current+1, position)
	}
	return e.arrival(position)
}

// arrival is the terminal placeholder shown once no further step exists
func (e *Engine) arrival(position geo.Coordinate) Instruction {
	distance := geo.Distance(position, e.destination)
	return Instruction{
		Text:       ArriveText,
		Icon:       IconDestination,
		Distance:   geo.FormatDistance(distance),
		DistanceKm: distance,
	}
}

func (e *Engine) fallback(position geo.Coordinate) Update {
	distance := geo.Distance(position, e.destination)

	text := ContinueText
	if distance < e.cfg.ApproachThresholdKm {
		text = ApproachingText
	}

	return Update{
		State:     StateNoRoute,
		StepIndex: 0,
		Current: Instruction{
			Text:       text,
			Icon:       IconStraight,
			Distance:   geo.FormatDistance(distance),
			DistanceKm: distance,
		},
		Next: e.arrival(position),
	}
}

// DisplaySpeedKmh returns the speed gauge value for a sample. Unknown speed is shown as zero;
// this coercion is a display policy only and is never applied to ETA computation.
func DisplaySpeedKmh(sample tracking.PositionSample) float64 {
	if !sample.HasSpeed {
		return 0
	}
	return geo.SpeedKmh(sample.SpeedMetersPerSecond)
}
