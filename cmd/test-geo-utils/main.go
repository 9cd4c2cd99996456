package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "point-distance":
		handlePointDistance()
	case "path-distance":
		handlePathDistance()
	case "decode-polyline":
		handleDecodePolyline()
	case "encode-polyline":
		handleEncodePolyline()
	case "eta":
		handleETA()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handlePointDistance() {
	fs := flag.NewFlagSet("point-distance", flag.ExitOnError)
	lat1 := fs.Float64("lat1", 0, "Latitude of first point")
	lng1 := fs.Float64("lng1", 0, "Longitude of first point")
	lat2 := fs.Float64("lat2", 0, "Latitude of second point")
	lng2 := fs.Float64("lng2", 0, "Longitude of second point")

	fs.Parse(os.Args[2:])

	if *lat1 == 0 && *lng1 == 0 && *lat2 == 0 && *lng2 == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils point-distance --lat1 40.7128 --lng1 -74.0060 --lat2 40.7580 --lng2 -73.9855")
		fmt.Println("  (City Hall to Times Square)")
		os.Exit(1)
	}

	p1 := geo.Coordinate{Latitude: *lat1, Longitude: *lng1}
	p2 := geo.Coordinate{Latitude: *lat2, Longitude: *lng2}
	if !p1.Valid() || !p2.Valid() {
		log.Fatal("Coordinates out of range")
	}

	km := geo.Distance(p1, p2)

	fmt.Printf("Distance between points:\n")
	fmt.Printf("  Point 1: (%.6f, %.6f)\n", p1.Latitude, p1.Longitude)
	fmt.Printf("  Point 2: (%.6f, %.6f)\n", p2.Latitude, p2.Longitude)
	fmt.Printf("  Distance: %.2f meters (%s, %.2f miles)\n",
		km*1000, geo.FormatDistance(km), km*0.621371)
}

func handlePathDistance() {
	fs := flag.NewFlagSet("path-distance", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude of point")
	lng := fs.Float64("lng", 0, "Longitude of point")
	polylineStr := fs.String("polyline", "", "Encoded polyline string")
	coordsStr := fs.String("coords", "", "Path as \"lat,lng;lat,lng;...\" (alternative to --polyline)")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" && *coordsStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils path-distance --lat 40.7200 --lng -74.0000 --coords \"40.7128,-74.0060;40.7580,-73.9855\"")
		fmt.Println("  (Off-route distance from a point to a path)")
		os.Exit(1)
	}

	path, err := parsePath(*polylineStr, *coordsStr)
	if err != nil {
		log.Fatalf("Error reading path: %v", err)
	}

	point := geo.Coordinate{Latitude: *lat, Longitude: *lng}
	km := geo.DistanceToPath(point, path)

	fmt.Printf("Distance from point to path:\n")
	fmt.Printf("  Point: (%.6f, %.6f)\n", point.Latitude, point.Longitude)
	fmt.Printf("  Path: %d points, %s long\n", len(path), geo.FormatDistance(geo.PathLength(path)))
	fmt.Printf("  Distance: %s\n", geo.FormatDistance(km))
}

func handleDecodePolyline() {
	fs := flag.NewFlagSet("decode-polyline", flag.ExitOnError)
	polylineStr := fs.String("polyline", "", "Encoded polyline string to decode")
	verbose := fs.Bool("verbose", false, "Show all decoded points")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils decode-polyline --polyline \"_p~iF~ps|U_ulLnnqC_mqNvxq`@\"")
		fmt.Println("  test-geo-utils decode-polyline --polyline \"encoded_string\" --verbose")
		os.Exit(1)
	}

	points, err := geo.DecodePolyline(*polylineStr)
	if err != nil {
		log.Fatalf("Error decoding polyline: %v", err)
	}

	fmt.Printf("Polyline decoded successfully:\n")
	fmt.Printf("  Input: %s\n", *polylineStr)
	fmt.Printf("  Points: %d\n", len(points))
	fmt.Printf("  Length: %s\n", geo.FormatDistance(geo.PathLength(points)))

	if len(points) > 0 {
		fmt.Printf("  Start: (%.6f, %.6f)\n", points[0].Latitude, points[0].Longitude)
		if len(points) > 1 {
			fmt.Printf("  End: (%.6f, %.6f)\n", points[len(points)-1].Latitude, points[len(points)-1].Longitude)
		}
	}

	if *verbose && len(points) > 0 {
		fmt.Printf("  All points:\n")
		for i, point := range points {
			fmt.Printf("    %d: (%.6f, %.6f)\n", i+1, point.Latitude, point.Longitude)
		}
	}
}

func handleEncodePolyline() {
	fs := flag.NewFlagSet("encode-polyline", flag.ExitOnError)
	coordsStr := fs.String("coords", "", "Path as \"lat,lng;lat,lng;...\"")

	fs.Parse(os.Args[2:])

	points, err := parseCoordinatePairs(*coordsStr)
	if err != nil {
		log.Fatalf("Error parsing coordinates: %v", err)
	}

	fmt.Println(geo.EncodePolyline(points))
}

func handleETA() {
	fs := flag.NewFlagSet("eta", flag.ExitOnError)
	km := fs.Float64("km", 0, "Remaining distance in kilometers")
	speed := fs.Float64("speed", 0, "Speed in m/s; zero uses the fallback speed")

	fs.Parse(os.Args[2:])

	speedKmh := geo.SpeedKmh(*speed)
	if speedKmh <= 0 {
		speedKmh = geo.DefaultSpeedKmh
	}

	fmt.Printf("ETA for %s at %.1f km/h: %s\n", geo.FormatDistance(*km), speedKmh, geo.ETA(*km, speedKmh))
}

func printUsage() {
	fmt.Printf(`test-geo-utils - Geographic utility testing tool

USAGE:
    test-geo-utils <command> [options]

COMMANDS:
    point-distance      Calculate great-circle distance between two points
    path-distance       Calculate minimum distance from a point to a path
    decode-polyline     Decode an encoded polyline string to coordinates
    encode-polyline     Encode coordinates as a polyline string
    eta                 Format the ETA for a distance and speed
    help                Show this help message

EXAMPLES:
    # City Hall to Times Square
    test-geo-utils point-distance --lat1 40.7128 --lng1 -74.0060 --lat2 40.7580 --lng2 -73.9855

    # Distance from a point to a path
    test-geo-utils path-distance --lat 40.72 --lng -74.0 --coords "40.7128,-74.0060;40.7580,-73.9855"

    # Decode polyline to see coordinates
    test-geo-utils decode-polyline --polyline "encoded_string" --verbose

    # ETA for 6.3 km with unknown speed
    test-geo-utils eta --km 6.3
`)
}

func parsePath(polylineStr, coordsStr string) ([]geo.Coordinate, error) {
	if polylineStr != "" {
		return geo.DecodePolyline(polylineStr)
	}
	return parseCoordinatePairs(coordsStr)
}

// Helper function to parse coordinate pairs from string
func parseCoordinatePairs(coordStr string) ([]geo.Coordinate, error) {
	if coordStr == "" {
		return nil, fmt.Errorf("empty coordinate string")
	}

	pairs := strings.Split(coordStr, ";")
	points := make([]geo.Coordinate, 0, len(pairs))

	for _, pair := range pairs {
		coords := strings.Split(strings.TrimSpace(pair), ",")
		if len(coords) != 2 {
			return nil, fmt.Errorf("invalid coordinate pair: %s", pair)
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude: %s", coords[0])
		}

		lng, err := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude: %s", coords[1])
		}

		points = append(points, geo.Coordinate{Latitude: lat, Longitude: lng})
	}

	return points, nil
}
