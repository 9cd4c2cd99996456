package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dpup/prefab/logging"
	"github.com/kr/pretty"

	"github.com/wandermate/navigation/server/internal/clients/google"
	"github.com/wandermate/navigation/server/internal/clients/mapbox"
	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/routing"
)

func main() {
	var (
		provider  = flag.String("provider", "mapbox", "Directions provider: mapbox or google")
		apiKey    = flag.String("api-key", "", "API key (or set MAPBOX_ACCESS_TOKEN / GOOGLE_API_KEY env var)")
		originStr = flag.String("origin", "40.712800,-74.006000", "Origin coordinates (lat,lon)")
		destStr   = flag.String("dest", "40.758000,-73.985500", "Destination coordinates (lat,lon)")
		verbose   = flag.Bool("verbose", false, "Dump every option including steps")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Directions Test Tool\n\n")
		fmt.Printf("Fetches ranked route alternatives the way a navigation session does.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_TOKEN\n", os.Args[0])
		fmt.Printf("  %s -provider=google -origin=\"37.7749,-122.4194\" -dest=\"37.8080,-122.4177\"\n", os.Args[0])
		fmt.Printf("  MAPBOX_ACCESS_TOKEN=your_token %s -verbose\n", os.Args[0])
		return
	}

	// Get API key from flag or environment
	key := *apiKey
	if key == "" {
		switch *provider {
		case "google":
			key = os.Getenv("GOOGLE_API_KEY")
			if key == "" {
				key = os.Getenv("GOOGLE_ROUTES_API_KEY") // fallback
			}
		default:
			key = os.Getenv("MAPBOX_ACCESS_TOKEN")
		}
	}
	if key == "" {
		log.Fatal("API key required. Use -api-key flag or MAPBOX_ACCESS_TOKEN/GOOGLE_API_KEY env var")
	}

	origin, err := parseCoordinate(*originStr)
	if err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	destination, err := parseCoordinate(*destStr)
	if err != nil {
		log.Fatalf("Invalid destination coordinates: %v", err)
	}

	var source routing.DirectionsSource
	switch *provider {
	case "google":
		source = google.NewClient(key)
	case "mapbox":
		source = mapbox.NewClient(key)
	default:
		log.Fatalf("Unknown provider %q", *provider)
	}

	fmt.Printf("Directions Test (%s)\n", *provider)
	fmt.Printf("======================\n")
	fmt.Printf("Origin: %.6f, %.6f\n", origin.Latitude, origin.Longitude)
	fmt.Printf("Destination: %.6f, %.6f\n", destination.Latitude, destination.Longitude)
	fmt.Printf("Straight line: %s\n", geo.FormatDistance(geo.Distance(origin, destination)))
	fmt.Printf("\n")

	options := routing.NewProvider(source).Routes(logging.EnsureLogger(context.Background()), origin, destination, "")
	if len(options) == 0 {
		log.Fatal("No routes available")
	}

	for i, option := range options {
		fmt.Printf("%d. %-10s %8s %8s  %d steps, %d points\n", i, option.Label,
			geo.FormatDistance(option.DistanceMeters/1000),
			geo.FormatMinutes(option.DurationSeconds/60),
			len(option.Steps), len(option.Geometry))
	}

	if *verbose {
		fmt.Printf("\n")
		pretty.Println(options)
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
