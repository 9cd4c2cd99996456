// Package mapbox adapts the Mapbox Directions API v5 to routing.DirectionsSource.
package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wandermate/navigation/server/internal/lib/geo"
	"github.com/wandermate/navigation/server/internal/lib/routing"
)

// DefaultBaseURL is the Mapbox API host
const DefaultBaseURL = "https://api.mapbox.com"

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to Mapbox Directions
type Client struct {
	accessToken string
	httpClient  HTTPDoer
	baseURL     string
}

// NewClient creates a new Mapbox Directions client
func NewClient(accessToken string) *Client {
	return NewClientWithHTTPDoer(accessToken, DefaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with an injected transport, used by tests
func NewClientWithHTTPDoer(accessToken, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		accessToken: accessToken,
		baseURL:     baseURL,
		httpClient:  doer,
	}
}

// Directions implements routing.DirectionsSource. The traffic-aware profile uses driving-traffic
// without alternatives; the alternatives profile uses plain driving with alternatives enabled.
// req.Token overrides the configured access token when set.
func (c *Client) Directions(ctx context.Context, req routing.DirectionsRequest) ([]routing.DirectionsRoute, error) {
	token := req.Token
	if token == "" {
		token = c.accessToken
	}
	if token == "" {
		return nil, fmt.Errorf("mapbox directions: missing access token")
	}

	profile, alternatives := "driving-traffic", "false"
	if req.Profile == routing.ProfileAlternatives {
		profile, alternatives = "driving", "true"
	}

	query := url.Values{}
	query.Set("alternatives", alternatives)
	query.Set("steps", "true")
	query.Set("geometries", "polyline")
	query.Set("overview", "full")
	query.Set("access_token", token)

	endpoint := fmt.Sprintf("%s/directions/v5/mapbox/%s/%s;%s?%s",
		c.baseURL, profile, lonLat(req.Origin), lonLat(req.Destination), query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

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

	var response DirectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	switch response.Code {
	case "Ok":
	case "NoRoute", "NoSegment":
		return nil, nil
	default:
		return nil, fmt.Errorf("directions error %s: %s", response.Code, response.Message)
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

func lonLat(c geo.Coordinate) string {
	return fmt.Sprintf("%f,%f", c.Longitude, c.Latitude)
}

func convertRoute(route Route) (routing.DirectionsRoute, error) {
	var geometry []geo.Coordinate
	if route.Geometry != "" {
		var err error
		geometry, err = geo.DecodePolyline(route.Geometry)
		if err != nil {
			return routing.DirectionsRoute{}, fmt.Errorf("failed to decode geometry: %w", err)
		}
	}

	var steps []routing.RouteStep
	for _, leg := range route.Legs {
		for _, step := range leg.Steps {
			steps = append(steps, routing.RouteStep{
				Maneuver:       maneuverType(step.Maneuver),
				Instruction:    step.Maneuver.Instruction,
				Location:       step.Maneuver.coordinate(),
				DistanceMeters: step.Distance,
			})
		}
	}

	return routing.DirectionsRoute{
		Geometry:        geometry,
		Steps:           steps,
		DurationSeconds: route.Duration,
		DistanceMeters:  route.Distance,
	}, nil
}

// maneuverType joins type and modifier, e.g. "turn" + "left". Depart and arrive ignore the
// modifier since it names the side of the street rather than a turn.
func maneuverType(m Maneuver) routing.ManeuverType {
	switch m.Type {
	case "depart", "arrive":
		return routing.NormalizeManeuver(m.Type)
	}
	return routing.NormalizeManeuver(m.Type, m.Modifier)
}

// DirectionsResponse represents the API response structure
type DirectionsResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []Route `json:"routes"`
}

// Route represents a single route in the response
type Route struct {
	Duration float64 `json:"duration"` // seconds
	Distance float64 `json:"distance"` // meters
	Geometry string  `json:"geometry"` // polyline, precision 5
	Legs     []Leg   `json:"legs"`
}

// Leg is the part of a route between two waypoints
type Leg struct {
	Steps []Step `json:"steps"`
}

// Step is a single navigation step
type Step struct {
	Distance float64  `json:"distance"`
	Maneuver Maneuver `json:"maneuver"`
}

// Maneuver describes what happens at the start of a step
type Maneuver struct {
	Type        string     `json:"type"`
	Modifier    string     `json:"modifier,omitempty"`
	Instruction string     `json:"instruction"`
	Location    [2]float64 `json:"location"` // [lon, lat]
}

func (m Maneuver) coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: m.Location[1], Longitude: m.Location[0]}
}
