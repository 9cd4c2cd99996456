package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// MockDirectionsSource is a mock implementation of DirectionsSource
type MockDirectionsSource struct {
	mock.Mock
}

func (m *MockDirectionsSource) Directions(ctx context.Context, req DirectionsRequest) ([]DirectionsRoute, error) {
	args := m.Called(ctx, req)
	routes, _ := args.Get(0).([]DirectionsRoute)
	return routes, args.Error(1)
}

var (
	origin      = geo.Coordinate{Latitude: 40.7128, Longitude: -74.0060}
	destination = geo.Coordinate{Latitude: 40.7306, Longitude: -73.9352}
)

func profileIs(profile Profile) interface{} {
	return mock.MatchedBy(func(req DirectionsRequest) bool { return req.Profile == profile })
}

func route(distance, duration float64) DirectionsRoute {
	return DirectionsRoute{
		Geometry:        []geo.Coordinate{origin, destination},
		DistanceMeters:  distance,
		DurationSeconds: duration,
		Steps: []RouteStep{
			{Maneuver: ManeuverDepart, Instruction: "Head east", Location: origin},
			{Maneuver: ManeuverArrive, Instruction: "Arrive", Location: destination},
		},
	}
}

func TestProvider_RanksOptions(t *testing.T) {
	source := &MockDirectionsSource{}
	source.On("Directions", mock.Anything, profileIs(ProfileTrafficAware)).Return([]DirectionsRoute{route(7200, 900)}, nil)
	source.On("Directions", mock.Anything, profileIs(ProfileAlternatives)).Return([]DirectionsRoute{
		route(7500, 1000),
		route(6800, 1100), // shortest
		route(9000, 950),
	}, nil)

	options := NewProvider(source).Routes(logging.EnsureLogger(t.Context()), origin, destination, "token")

	require.Len(t, options, 3)

	assert.Equal(t, KindTrafficAware, options[0].Kind)
	assert.Equal(t, "Fastest Route", options[0].Label)
	assert.Equal(t, 7200.0, options[0].DistanceMeters)

	assert.Equal(t, KindShortest, options[1].Kind)
	assert.Equal(t, 6800.0, options[1].DistanceMeters, "shortest must be the minimum-distance alternative")

	assert.Equal(t, KindAlternative, options[2].Kind)
	assert.Equal(t, 7500.0, options[2].DistanceMeters, "alternative is the first non-shortest alternative")

	ids := map[string]bool{}
	for _, option := range options {
		ids[option.ID] = true
		assert.NotEmpty(t, option.Color)
		assert.GreaterOrEqual(t, len(option.Geometry), 2)
	}
	assert.Len(t, ids, 3, "option ids must be unique")

	source.AssertExpectations(t)
}

func TestProvider_PassesTokenAndCoordinates(t *testing.T) {
	source := &MockDirectionsSource{}
	source.On("Directions", mock.Anything, mock.MatchedBy(func(req DirectionsRequest) bool {
		return req.Token == "secret" && req.Origin == origin && req.Destination == destination
	})).Return([]DirectionsRoute{route(7200, 900)}, nil).Twice()

	options := NewProvider(source).Routes(logging.EnsureLogger(t.Context()), origin, destination, "secret")
	assert.Len(t, options, 2)

	source.AssertExpectations(t)
}

func TestProvider_TrafficFailureOmitted(t *testing.T) {
	source := &MockDirectionsSource{}
	source.On("Directions", mock.Anything, profileIs(ProfileTrafficAware)).Return(nil, errors.New("rate limit exceeded"))
	source.On("Directions", mock.Anything, profileIs(ProfileAlternatives)).Return([]DirectionsRoute{
		route(7500, 1000),
		route(6800, 1100),
	}, nil)

	options := NewProvider(source).Routes(logging.EnsureLogger(t.Context()), origin, destination, "token")

	require.Len(t, options, 2)
	assert.Equal(t, KindShortest, options[0].Kind)
	assert.Equal(t, KindAlternative, options[1].Kind)
}

func TestProvider_SingleAlternative(t *testing.T) {
	source := &MockDirectionsSource{}
	source.On("Directions", mock.Anything, profileIs(ProfileTrafficAware)).Return([]DirectionsRoute{route(7200, 900)}, nil)
	source.On("Directions", mock.Anything, profileIs(ProfileAlternatives)).Return([]DirectionsRoute{route(7500, 1000)}, nil)

	options := NewProvider(source).Routes(logging.EnsureLogger(t.Context()), origin, destination, "token")

	require.Len(t, options, 2)
	assert.Equal(t, KindTrafficAware, options[0].Kind)
	assert.Equal(t, KindShortest, options[1].Kind)
}

func TestProvider_TotalFailure(t *testing.T) {
	source := &MockDirectionsSource{}
	source.On("Directions", mock.Anything, mock.Anything).Return(nil, errors.New("network unreachable"))

	options := NewProvider(source).Routes(logging.EnsureLogger(t.Context()), origin, destination, "")

	assert.Empty(t, options, "total failure is an empty result, not an error")
	source.AssertNumberOfCalls(t, "Directions", 2)
}

func TestProvider_FailureWithoutRequestLogger(t *testing.T) {
	source := &MockDirectionsSource{}
	source.On("Directions", mock.Anything, mock.Anything).Return(nil, errors.New("network unreachable"))

	var options []RouteOption
	assert.NotPanics(t, func() {
		options = NewProvider(source).Routes(context.Background(), origin, destination, "")
	}, "failure logging works on a context with no logger attached")
	assert.Empty(t, options)
}

func TestProvider_SynthesizesMissingGeometry(t *testing.T) {
	midpoint := geo.Coordinate{Latitude: 40.72, Longitude: -73.97}
	source := &MockDirectionsSource{}
	source.On("Directions", mock.Anything, profileIs(ProfileTrafficAware)).Return([]DirectionsRoute{{
		DistanceMeters:  7000,
		DurationSeconds: 800,
		Steps: []RouteStep{
			{Maneuver: ManeuverLeft, Instruction: "Turn left", Location: midpoint},
		},
	}}, nil)
	source.On("Directions", mock.Anything, profileIs(ProfileAlternatives)).Return([]DirectionsRoute{}, nil)

	options := NewProvider(source).Routes(logging.EnsureLogger(t.Context()), origin, destination, "token")

	require.Len(t, options, 1)
	assert.Equal(t, []geo.Coordinate{origin, midpoint, destination}, options[0].Geometry)
}

func TestNormalizeManeuver(t *testing.T) {
	assert.Equal(t, ManeuverLeft, NormalizeManeuver("TURN_LEFT"))
	assert.Equal(t, ManeuverType("turn slight right"), NormalizeManeuver("turn", "slight right"))
	assert.Equal(t, ManeuverStraight, NormalizeManeuver("STRAIGHT"))
	assert.Equal(t, ManeuverStraight, NormalizeManeuver("", " "))
	assert.Equal(t, ManeuverArrive, NormalizeManeuver("arrive", ""))
}
