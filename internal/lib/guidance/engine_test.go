package guidance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/routing"
	"github.com/wandermate/navigation/server/internal/lib/tracking"
)

func twoStepRoute() []routing.RouteStep {
	return []routing.RouteStep{
		{Maneuver: routing.ManeuverDepart, Instruction: "Head east", Location: geo.Coordinate{Latitude: 0, Longitude: 0}},
		{Maneuver: routing.ManeuverRight, Instruction: "Turn right onto Main St", Location: geo.Coordinate{Latitude: 0, Longitude: 0.001}},
	}
}

func fourStepRoute() []routing.RouteStep {
	return []routing.RouteStep{
		{Maneuver: routing.ManeuverDepart, Instruction: "Head east", Location: geo.Coordinate{Latitude: 0, Longitude: 0}},
		{Maneuver: routing.ManeuverLeft, Instruction: "Turn left onto 1st Ave", Location: geo.Coordinate{Latitude: 0, Longitude: 0.01}},
		{Maneuver: routing.ManeuverRight, Instruction: "Turn right onto 2nd Ave", Location: geo.Coordinate{Latitude: 0.01, Longitude: 0.01}},
		{Maneuver: routing.ManeuverArrive, Instruction: "Arrive at Brooklyn Bridge", Location: geo.Coordinate{Latitude: 0.01, Longitude: 0.02}},
	}
}

func TestEngine_AdvancesWithinThreshold(t *testing.T) {
	destination := geo.Coordinate{Latitude: 0, Longitude: 0.001}
	engine := NewEngine(twoStepRoute(), destination, DefaultConfig())

	// ~56 m from step 1: outside the 50 m threshold
	update := engine.Update(geo.Coordinate{Latitude: 0, Longitude: 0.0005})
	assert.Equal(t, 0, update.StepIndex, "position outside the threshold must not advance")
	assert.False(t, update.Advanced)
	assert.Equal(t, StateAtStep, update.State)
	assert.Equal(t, "Head east", update.Current.Text)
	assert.Equal(t, "Turn right onto Main St", update.Next.Text)
	assert.Equal(t, IconRight, update.Next.Icon)

	// ~11 m from step 1: inside the threshold
	update = engine.Update(geo.Coordinate{Latitude: 0, Longitude: 0.0009})
	assert.Equal(t, 1, update.StepIndex)
	assert.True(t, update.Advanced)
	assert.Equal(t, "Turn right onto Main St", update.Current.Text)
	assert.Equal(t, "11 m", update.Current.Distance)
	assert.Equal(t, ArriveText, update.Next.Text, "last step is followed by the terminal placeholder")
	assert.Equal(t, IconDestination, update.Next.Icon)
	assert.Equal(t, StateCompleted, update.State, "crossing the final step threshold completes the route")
}

func TestEngine_NeverMovesBackward(t *testing.T) {
	steps := fourStepRoute()
	engine := NewEngine(steps, steps[3].Location, DefaultConfig())

	positions := []geo.Coordinate{
		{Latitude: 0, Longitude: 0.005},
		steps[1].Location,
		steps[0].Location, // back at the start
		{Latitude: 0.005, Longitude: 0.01},
		steps[2].Location,
		steps[1].Location, // back at an earlier maneuver
		{Latitude: 0, Longitude: 0},
	}

	previous := 0
	for _, p := range positions {
		update := engine.Update(p)
		assert.GreaterOrEqual(t, update.StepIndex, previous, "step index must be monotonic")
		previous = update.StepIndex
	}
	assert.Equal(t, 2, engine.StepIndex())
}

func TestEngine_PicksSmallestQualifyingStep(t *testing.T) {
	// Steps 1 and 2 share a location, so both qualify at once
	shared := geo.Coordinate{Latitude: 0, Longitude: 0.01}
	steps := []routing.RouteStep{
		{Maneuver: routing.ManeuverDepart, Instruction: "Head east", Location: geo.Coordinate{}},
		{Maneuver: routing.ManeuverLeft, Instruction: "Turn left", Location: shared},
		{Maneuver: routing.ManeuverRight, Instruction: "Then turn right", Location: shared},
		{Maneuver: routing.ManeuverArrive, Instruction: "Arrive", Location: geo.Coordinate{Latitude: 0.01, Longitude: 0.01}},
	}
	engine := NewEngine(steps, steps[3].Location, DefaultConfig())

	update := engine.Update(shared)
	assert.Equal(t, 1, update.StepIndex)
	assert.Equal(t, "Turn left", update.Current.Text)
	assert.Equal(t, "Then turn right", update.Next.Text)

	// The next update at the same spot moves on to the second maneuver
	update = engine.Update(shared)
	assert.Equal(t, 2, update.StepIndex)
}

func TestEngine_SkipsToLaterStep(t *testing.T) {
	steps := fourStepRoute()
	engine := NewEngine(steps, steps[3].Location, DefaultConfig())

	// Jumping straight to step 2 (e.g. after a GPS gap) commits to it
	update := engine.Update(steps[2].Location)
	assert.Equal(t, 2, update.StepIndex)
	assert.True(t, update.Advanced)
	assert.Equal(t, StateAtStep, update.State)
}

func TestEngine_NaNPositionDoesNotAdvance(t *testing.T) {
	steps := fourStepRoute()
	engine := NewEngine(steps, steps[3].Location, DefaultConfig())

	update := engine.Update(geo.Coordinate{Latitude: math.NaN(), Longitude: 0})
	assert.Equal(t, 0, update.StepIndex)
	assert.Equal(t, geo.Unavailable, update.Current.Distance)
}

func TestEngine_FallbackWithoutSteps(t *testing.T) {
	destination := geo.Coordinate{Latitude: 40.7306, Longitude: -73.9352}
	engine := NewEngine(nil, destination, DefaultConfig())

	far := engine.Update(geo.Coordinate{Latitude: 40.7128, Longitude: -74.0060})
	assert.Equal(t, StateNoRoute, far.State)
	assert.Equal(t, ContinueText, far.Current.Text)
	assert.Equal(t, IconStraight, far.Current.Icon)
	assert.Equal(t, "6.3 km", far.Current.Distance)
	assert.Equal(t, ArriveText, far.Next.Text)

	near := engine.Update(geo.Coordinate{Latitude: 40.7306, Longitude: -73.9400})
	assert.Equal(t, ApproachingText, near.Current.Text, "within 1 km the fallback switches to approaching")
	assert.Equal(t, StateNoRoute, engine.State())
}

func TestEngine_ClampsOutOfRangeAdvance(t *testing.T) {
	steps := fourStepRoute()
	engine := NewEngine(steps, steps[3].Location, DefaultConfig())

	engine.advanceTo(10)
	assert.Equal(t, 3, engine.StepIndex(), "out-of-range index is clamped to the last step")
}

func TestEngine_StrictPanicsOnOutOfRangeAdvance(t *testing.T) {
	steps := fourStepRoute()
	cfg := DefaultConfig()
	cfg.Strict = true
	engine := NewEngine(steps, steps[3].Location, cfg)

	assert.Panics(t, func() { engine.advanceTo(4) })
}

func TestIconFor(t *testing.T) {
	tests := []struct {
		maneuver routing.ManeuverType
		expected Icon
	}{
		{"turn left", IconLeft},
		{"turn slight left", IconLeft},
		{"TURN_RIGHT", IconRight},
		{"ramp right", IconRight},
		{"straight", IconStraight},
		{"depart", IconStraight},
		{"roundabout", IconStraight},
		{"", IconStraight},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IconFor(tt.maneuver), "maneuver %q", tt.maneuver)
	}
}

func TestDisplaySpeedKmh(t *testing.T) {
	known := tracking.PositionSample{SpeedMetersPerSecond: 10, HasSpeed: true}
	unknown := tracking.PositionSample{SpeedMetersPerSecond: 10}

	assert.InDelta(t, 36.0, DisplaySpeedKmh(known), 1e-9)
	assert.Equal(t, 0.0, DisplaySpeedKmh(unknown))
}

func TestEngine_SingleStepRoute(t *testing.T) {
	arrive := geo.Coordinate{Latitude: 0, Longitude: 0.001}
	steps := []routing.RouteStep{{Maneuver: routing.ManeuverArrive, Instruction: "Arrive", Location: arrive}}
	engine := NewEngine(steps, arrive, DefaultConfig())

	update := engine.Update(geo.Coordinate{})
	require.Equal(t, StateAtStep, update.State)

	update = engine.Update(arrive)
	assert.Equal(t, StateCompleted, update.State)
	assert.Equal(t, 0, update.StepIndex)
}
