package routing

import (
	"context"
	"sync"

	"github.com/dpup/prefab/logging"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// Provider fetches route alternatives and ranks them: traffic-aware first, then the shortest
// alternative, then one other alternative. Failed requests are omitted, so the result holds
// between zero and three options.
type Provider struct {
	source DirectionsSource
}

// NewProvider creates a Provider backed by a directions source
func NewProvider(source DirectionsSource) *Provider {
	return &Provider{source: source}
}

// Routes requests the traffic-aware route and the alternatives concurrently, one attempt each.
// It never returns an error: an empty slice means no route is available.
func (p *Provider) Routes(ctx context.Context, origin, destination geo.Coordinate, token string) []RouteOption {
	ctx = logging.EnsureLogger(ctx)

	var (
		wg           sync.WaitGroup
		traffic      []DirectionsRoute
		alternatives []DirectionsRoute
	)

	fetch := func(profile Profile, out *[]DirectionsRoute) {
		defer wg.Done()
		routes, err := p.source.Directions(ctx, DirectionsRequest{
			Origin:      origin,
			Destination: destination,
			Profile:     profile,
			Token:       token,
		})
		if err != nil {
			logging.Warnw(ctx, "Directions request failed, omitting option",
				"profile", string(profile), "error", err)
			return
		}
		*out = routes
	}

	wg.Add(2)
	go fetch(ProfileTrafficAware, &traffic)
	go fetch(ProfileAlternatives, &alternatives)
	wg.Wait()

	var options []RouteOption

	if len(traffic) > 0 {
		options = append(options, p.buildOption(KindTrafficAware, traffic[0], origin, destination))
	}

	shortest := -1
	for i, route := range alternatives {
		if shortest < 0 || route.DistanceMeters < alternatives[shortest].DistanceMeters {
			shortest = i
		}
	}
	if shortest >= 0 {
		options = append(options, p.buildOption(KindShortest, alternatives[shortest], origin, destination))
	}

	for i, route := range alternatives {
		if i != shortest {
			options = append(options, p.buildOption(KindAlternative, route, origin, destination))
			break
		}
	}

	logging.Infow(ctx, "Route alternatives resolved", "options", len(options))
	return options
}

var kindPresentation = map[Kind]struct{ label, color string }{
	KindTrafficAware: {"Fastest Route", "blue"},
	KindShortest:     {"Shortest Route", "green"},
	KindAlternative:  {"Alternative Route", "orange"},
}

// buildOption converts a directions result into an immutable RouteOption
func (p *Provider) buildOption(kind Kind, route DirectionsRoute, origin, destination geo.Coordinate) RouteOption {
	geometry := route.Geometry
	if len(geometry) < 2 {
		geometry = synthesizeGeometry(route.Steps, origin, destination)
	} else {
		geometry = append([]geo.Coordinate(nil), geometry...)
	}

	distance := route.DistanceMeters
	if distance < 0 {
		distance = 0
	}
	duration := route.DurationSeconds
	if duration < 0 {
		duration = 0
	}

	presentation := kindPresentation[kind]
	return RouteOption{
		ID:              string(kind),
		Kind:            kind,
		Label:           presentation.label,
		Color:           presentation.color,
		Geometry:        geometry,
		DurationSeconds: duration,
		DistanceMeters:  distance,
		Steps:           append([]RouteStep(nil), route.Steps...),
	}
}

// synthesizeGeometry builds a path through the step locations when the source omitted geometry
func synthesizeGeometry(steps []RouteStep, origin, destination geo.Coordinate) []geo.Coordinate {
	geometry := []geo.Coordinate{origin}
	for _, step := range steps {
		geometry = append(geometry, step.Location)
	}
	return append(geometry, destination)
}
