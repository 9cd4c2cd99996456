package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/kr/pretty"
	"go.uber.org/zap"

	"github.com/wandermate/navigation/server/internal/clients/mapbox"
	"github.com/wandermate/navigation/server/internal/config"
	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/kmlexport"
	"github.com/wandermate/navigation/server/internal/lib/routing"
	"github.com/wandermate/navigation/server/internal/lib/telemetry"
	"github.com/wandermate/navigation/server/internal/lib/tracking"
	"github.com/wandermate/navigation/server/internal/services"
)

// consoleObserver prints one line per rendered display
type consoleObserver struct {
	last string
}

func (o *consoleObserver) Recenter(geo.Coordinate) {}

func (o *consoleObserver) Render(d services.DisplayState) {
	instruction := "-"
	if d.Current != nil {
		instruction = fmt.Sprintf("%s (%s)", d.Current.Text, d.Current.Distance)
	}
	line := fmt.Sprintf("[%-12s] step %d  %-40s  ETA %-8s  remaining %-8s  %5.1f km/h",
		d.Status, d.StepIndex, instruction, d.ETA, d.DistanceRemaining, d.SpeedKmh)
	if d.OffRoute {
		line += "  OFF ROUTE"
	}
	if line != o.last {
		fmt.Println(line)
		o.last = line
	}
}

// staticRoutes serves a fixed set of options when no directions API is configured
type staticRoutes []routing.RouteOption

func (s staticRoutes) Routes(context.Context, geo.Coordinate, geo.Coordinate, string) []routing.RouteOption {
	return s
}

func main() {
	var (
		apiKey    = flag.String("api-key", "", "Mapbox token (or MAPBOX_ACCESS_TOKEN); without one a demo route is used")
		originStr = flag.String("origin", "40.712800,-74.006000", "Origin coordinates (lat,lon)")
		destStr   = flag.String("dest", "40.758000,-73.985500", "Destination coordinates (lat,lon)")
		speed     = flag.Float64("speed", 100, "Simulated speed in m/s; fast by default so a city trip replays in about a minute")
		interval  = flag.Duration("interval", 50*time.Millisecond, "Wall-clock time between simulated readings")
		route     = flag.Int("route", 0, "Route alternative to follow")
		kmlPath   = flag.String("kml", "", "Write the finished trip as KML to this file")
		timeout   = flag.Duration("timeout", 2*time.Minute, "Give up after this long")
	)
	flag.Parse()

	origin, err := parseCoordinate(*originStr)
	if err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	destination, err := parseCoordinate(*destStr)
	if err != nil {
		log.Fatalf("Invalid destination coordinates: %v", err)
	}

	ctx := logging.EnsureLogger(context.Background())

	key := *apiKey
	if key == "" {
		key = os.Getenv("MAPBOX_ACCESS_TOKEN")
	}

	var provider services.RouteProvider
	if key != "" {
		provider = routing.NewProvider(mapbox.NewClient(key))
	} else {
		fmt.Println("No Mapbox token, following a synthetic demo route")
		provider = staticRoutes{demoRoute(origin, destination)}
	}

	options := provider.Routes(ctx, origin, destination, "")
	if len(options) == 0 {
		log.Fatal("No routes available")
	}
	if *route < 0 || *route >= len(options) {
		log.Fatalf("Route %d out of range, %d available", *route, len(options))
	}
	path := options[*route].Geometry

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	events := telemetry.NewBufferSink(telemetry.DefaultBufferCapacity)

	cfg := config.DefaultConfig()
	source := tracking.NewSimulatedSource(path, *speed, *interval)
	session := services.NewSession("simulation", destination, "Destination", services.Dependencies{
		Routes:     staticRoutes(options),
		Tracker:    tracking.NewTracker(source, tracking.Options{HighAccuracy: true}),
		Sink:       telemetry.MultiSink{events, telemetry.NewZapSink(logger)},
		Observer:   &consoleObserver{},
		Navigation: cfg.Navigation,
		Guidance:   cfg.Guidance(),
	})

	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	if *route != 0 {
		session.SelectRoute(ctx, *route)
	}

	deadline := time.After(*timeout)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

wait:
	for session.Status() != services.StatusEnded {
		select {
		case <-deadline:
			fmt.Println("Timed out, ending trip")
			break wait
		case <-ticker.C:
		}
	}

	summary := session.End(ctx)
	fmt.Printf("\nTrip summary\n============\n")
	pretty.Println(summary)
	fmt.Printf("\nEvents: %v\n", events.Counts())

	if *kmlPath != "" {
		f, err := os.Create(*kmlPath)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *kmlPath, err)
		}
		defer f.Close()

		doc := kmlexport.TripSummary(kmlexport.Trip{
			Name:        summary.DestinationName,
			Destination: summary.Destination,
			Path:        summary.Path,
			DistanceKm:  summary.DistanceKm,
			Duration:    summary.Duration,
			Arrived:     summary.Arrived,
		})
		if err := kmlexport.Write(f, doc); err != nil {
			log.Fatalf("Failed to write KML: %v", err)
		}
		fmt.Printf("Wrote %s\n", *kmlPath)
	}
}

// demoRoute builds a two-leg route: along the origin's latitude, then north or south to the destination
func demoRoute(origin, destination geo.Coordinate) routing.RouteOption {
	corner := geo.Coordinate{Latitude: origin.Latitude, Longitude: destination.Longitude}
	geometry := []geo.Coordinate{origin, corner, destination}
	distance := geo.PathLength(geometry)

	turn := routing.ManeuverLeft
	if destination.Latitude < origin.Latitude {
		turn = routing.ManeuverRight
	}

	return routing.RouteOption{
		ID:              "demo",
		Kind:            routing.KindTrafficAware,
		Label:           "Demo",
		Color:           "blue",
		Geometry:        geometry,
		DistanceMeters:  distance * 1000,
		DurationSeconds: distance / geo.DefaultSpeedKmh * 3600,
		Steps: []routing.RouteStep{
			{Maneuver: routing.ManeuverDepart, Instruction: "Head along the street", Location: origin},
			{Maneuver: turn, Instruction: "Turn at the corner", Location: corner},
			{Maneuver: routing.ManeuverArrive, Instruction: "Arrive at destination", Location: destination},
		},
	}
}

func parseCoordinate(s string) (geo.Coordinate, error) {
	var c geo.Coordinate
	if _, err := fmt.Sscanf(s, "%f,%f", &c.Latitude, &c.Longitude); err != nil {
		return c, err
	}
	if !c.Valid() {
		return c, fmt.Errorf("coordinate out of range: %s", s)
	}
	return c, nil
}
