package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/routing"
)

// DefaultBaseURL is the Google Routes API v2 endpoint
const DefaultBaseURL = "https://routes.googleapis.com"

// fieldMask is REQUIRED by the Routes API or it returns an error
const fieldMask = "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline," +
	"routes.legs.endLocation,routes.legs.steps.distanceMeters,routes.legs.steps.startLocation," +
	"routes.legs.steps.navigationInstruction"

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to Google Routes API v2 as a routing.DirectionsSource
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// NewClient creates a new Google Routes API client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, DefaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with an injected transport, used by tests
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: doer,
	}
}

// Directions implements routing.DirectionsSource. The traffic-aware profile asks for the single
// best route under live traffic; the alternatives profile ignores traffic and asks for alternates.
// req.Token overrides the configured API key when set.
func (c *Client) Directions(ctx context.Context, req routing.DirectionsRequest) ([]routing.DirectionsRoute, error) {
	apiKey := req.Token
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("google routes: missing API key")
	}

	requestBody := map[string]interface{}{
		"origin":      waypoint(req.Origin),
		"destination": waypoint(req.Destination),
		"travelMode":  "DRIVE",
	}
	switch req.Profile {
	case routing.ProfileAlternatives:
		requestBody["routingPreference"] = "TRAFFIC_UNAWARE"
		requestBody["computeAlternativeRoutes"] = true
	default:
		requestBody["routingPreference"] = "TRAFFIC_AWARE"
		requestBody["computeAlternativeRoutes"] = false
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/directions/v2:computeRoutes", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("X-Goog-Api-Key", apiKey)
	httpReq.Header.Set("X-Goog-FieldMask", fieldMask)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response RoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	routes := make([]routing.DirectionsRoute, 0, len(response.Routes))
	for _, r := range response.Routes {
		route, err := convertRoute(r)
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func waypoint(c geo.Coordinate) map[string]interface{} {
	return map[string]interface{}{
		"location": map[string]interface{}{
			"latLng": map[string]interface{}{
				"latitude":  c.Latitude,
				"longitude": c.Longitude,
			},
		},
	}
}

// convertRoute maps a Routes API route onto the normalized directions shape
func convertRoute(route Route) (routing.DirectionsRoute, error) {
	durationSeconds, err := parseDuration(route.Duration)
	if err != nil {
		return routing.DirectionsRoute{}, fmt.Errorf("failed to parse duration: %w", err)
	}

	var geometry []geo.Coordinate
	if route.Polyline.EncodedPolyline != "" {
		geometry, err = geo.DecodePolyline(route.Polyline.EncodedPolyline)
		if err != nil {
			return routing.DirectionsRoute{}, fmt.Errorf("failed to decode polyline: %w", err)
		}
	}

	var steps []routing.RouteStep
	for _, leg := range route.Legs {
		for _, step := range leg.Steps {
			steps = append(steps, routing.RouteStep{
				Maneuver:       routing.NormalizeManeuver(step.NavigationInstruction.Maneuver),
				Instruction:    step.NavigationInstruction.Instructions,
				Location:       step.StartLocation.LatLng.coordinate(),
				DistanceMeters: float64(step.DistanceMeters),
			})
		}
	}
	// Routes API has no explicit arrival step
	if len(route.Legs) > 0 && len(steps) > 0 {
		if end := route.Legs[len(route.Legs)-1].EndLocation; end != nil {
			steps = append(steps, routing.RouteStep{
				Maneuver:    routing.ManeuverArrive,
				Instruction: "Arrive at destination",
				Location:    end.LatLng.coordinate(),
			})
		}
	}

	return routing.DirectionsRoute{
		Geometry:        geometry,
		Steps:           steps,
		DurationSeconds: float64(durationSeconds),
		DistanceMeters:  float64(route.DistanceMeters),
	}, nil
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (int32, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	// Simple parser for "Ns" format
	if len(durationStr) > 1 && durationStr[len(durationStr)-1] == 's' {
		durationStr = durationStr[:len(durationStr)-1]
	}

	var seconds int32
	_, err := fmt.Sscanf(durationStr, "%d", &seconds)
	return seconds, err
}

// RoutesResponse represents the API response structure
type RoutesResponse struct {
	Routes []Route `json:"routes"`
}

// Route represents a single route in the response
type Route struct {
	Duration       string   `json:"duration"`
	DistanceMeters int32    `json:"distanceMeters"`
	Polyline       Polyline `json:"polyline"`
	Legs           []Leg    `json:"legs"`
}

// Polyline represents the route polyline
type Polyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

// Leg is the part of a route between two waypoints
type Leg struct {
	EndLocation *Location `json:"endLocation,omitempty"`
	Steps       []Step    `json:"steps"`
}

// Step is a single navigation step
type Step struct {
	DistanceMeters        int32                 `json:"distanceMeters"`
	StartLocation         Location              `json:"startLocation"`
	NavigationInstruction NavigationInstruction `json:"navigationInstruction"`
}

// Location wraps a LatLng
type Location struct {
	LatLng LatLng `json:"latLng"`
}

// LatLng is a WGS84 point
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l LatLng) coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// NavigationInstruction is the human-readable step description
type NavigationInstruction struct {
	Maneuver     string `json:"maneuver"` // e.g. "TURN_LEFT", "DEPART"
	Instructions string `json:"instructions"`
}
