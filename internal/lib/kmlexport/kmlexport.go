// Package kmlexport renders route alternatives and completed trips as KML documents.
package kmlexport

import (
	"fmt"
	"image/color"
	"io"
	"time"

	"github.com/twpayne/go-kml"

	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/routing"
)

var routeColors = map[string]color.Color{
	"blue":   color.RGBA{R: 0x1d, G: 0x4e, B: 0xd8, A: 0xff},
	"green":  color.RGBA{R: 0x16, G: 0xa3, B: 0x4a, A: 0xff},
	"orange": color.RGBA{R: 0xea, G: 0x58, B: 0x0c, A: 0xff},
}

var defaultColor = color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 0xff}

// RouteSet describes the alternatives offered for a trip
type RouteSet struct {
	DestinationName string
	Destination     geo.Coordinate
	Routes          []routing.RouteOption
	Selected        int // -1 when nothing is selected
}

// Trip describes a finished or in-progress trip
type Trip struct {
	Name        string
	Destination geo.Coordinate
	Path        []geo.Coordinate // travelled track, or the planned route when no track exists
	DistanceKm  float64
	Duration    time.Duration
	Arrived     bool
}

// Routes builds a KML document with one styled placemark per route and a destination pin
func Routes(set RouteSet) *kml.CompoundElement {
	var styles []kml.Element
	var placemarks []kml.Element

	for i, route := range set.Routes {
		width := 4.0
		if i == set.Selected {
			width = 8.0
		}
		style := kml.SharedStyle(
			fmt.Sprintf("route-%d", i),
			kml.LineStyle(
				kml.Color(colorFor(route.Color)),
				kml.Width(width),
			),
		)
		styles = append(styles, style)

		placemarks = append(placemarks, kml.Placemark(
			kml.Name(route.Label),
			kml.Description(fmt.Sprintf("%s, %s",
				geo.FormatDistance(route.DistanceMeters/1000),
				geo.FormatMinutes(route.DurationSeconds/60))),
			kml.StyleURL(style.URL()),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(toKML(route.Geometry)...),
			),
		))
	}

	placemarks = append(placemarks, destinationPin(set.DestinationName, set.Destination))

	children := append([]kml.Element{kml.Name(documentName(set.DestinationName))}, styles...)
	children = append(children, placemarks...)
	return kml.KML(kml.Document(children...))
}

// TripSummary builds a KML document with the travelled track and the destination
func TripSummary(trip Trip) *kml.CompoundElement {
	status := "Ended"
	if trip.Arrived {
		status = "Arrived"
	}

	elements := []kml.Element{kml.Name(documentName(trip.Name))}
	if len(trip.Path) > 0 {
		elements = append(elements, kml.Placemark(
			kml.Name("Track"),
			kml.Description(fmt.Sprintf("%s: %s in %s",
				status, geo.FormatDistance(trip.DistanceKm), geo.FormatMinutes(trip.Duration.Minutes()))),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(toKML(trip.Path)...),
			),
		))
	}
	elements = append(elements, destinationPin(trip.Name, trip.Destination))

	return kml.KML(kml.Document(elements...))
}

// Write encodes a KML document with indentation
func Write(w io.Writer, doc *kml.CompoundElement) error {
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

func destinationPin(name string, c geo.Coordinate) kml.Element {
	if name == "" {
		name = "Destination"
	}
	return kml.Placemark(
		kml.Name(name),
		kml.Point(kml.Coordinates(kml.Coordinate{Lon: c.Longitude, Lat: c.Latitude})),
	)
}

func documentName(name string) string {
	if name == "" {
		return "Trip"
	}
	return name
}

func colorFor(name string) color.Color {
	if c, ok := routeColors[name]; ok {
		return c
	}
	return defaultColor
}

func toKML(coords []geo.Coordinate) []kml.Coordinate {
	out := make([]kml.Coordinate, len(coords))
	for i, c := range coords {
		out[i] = kml.Coordinate{Lon: c.Longitude, Lat: c.Latitude}
	}
	return out
}
