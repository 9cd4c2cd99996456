package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/wandermate/navigation/server/internal/cache"
	"github.com/wandermate/navigation/server/internal/clients/weather"
	"github.com/wandermate/navigation/server/internal/config"
	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// ErrWeatherUnavailable is returned when no point along the route has conditions
var ErrWeatherUnavailable = errors.New("weather unavailable for route")

// Labels for the sampled route points
const (
	PointStart       = "Start"
	PointMidpoint    = "Midpoint"
	PointDestination = "Destination"
)

// WeatherClient is the weather API queried for route points
type WeatherClient interface {
	CurrentWeather(ctx context.Context, coord geo.Coordinate) (*weather.Conditions, error)
	Alerts(ctx context.Context, coord geo.Coordinate) ([]weather.Alert, error)
}

// WeatherPoint is the conditions at one sampled point of the route
type WeatherPoint struct {
	Location   string              `json:"location"`
	Coordinate geo.Coordinate      `json:"coordinate"`
	Time       string              `json:"time"`
	Conditions *weather.Conditions `json:"conditions,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at,omitempty"`
	Stale      bool                `json:"stale,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// RouteWeather is the weather along a session's selected route
type RouteWeather struct {
	SessionID      string              `json:"session_id"`
	RouteLabel     string              `json:"route_label,omitempty"`
	Current        *weather.Conditions `json:"current,omitempty"`
	Route          []WeatherPoint      `json:"route"`
	Alerts         []weather.Alert     `json:"alerts"`
	Recommendation string              `json:"recommendation"`
}

// RouteWeatherService samples the start, midpoint and destination of a route and reports the
// conditions at each. Conditions are cached per point; when a refresh fails the expired entry is
// served and marked stale.
type RouteWeatherService struct {
	client WeatherClient
	cache  *cache.Cache
	cfg    config.WeatherConfig
	now    func() time.Time
}

// NewRouteWeatherService creates a service backed by client and c
func NewRouteWeatherService(client WeatherClient, c *cache.Cache, cfg config.WeatherConfig) *RouteWeatherService {
	return NewRouteWeatherServiceWithClock(client, c, cfg, time.Now)
}

// NewRouteWeatherServiceWithClock creates a service that stamps fresh conditions using now
func NewRouteWeatherServiceWithClock(client WeatherClient, c *cache.Cache, cfg config.WeatherConfig, now func() time.Time) *RouteWeatherService {
	return &RouteWeatherService{client: client, cache: c, cfg: cfg, now: now}
}

// ForSession reports the weather along the session's selected route. Without a route only the
// start (if a position is known) and the destination are sampled.
func (s *RouteWeatherService) ForSession(ctx context.Context, session *Session) (RouteWeather, error) {
	display := session.Display()
	result := RouteWeather{
		SessionID: session.ID(),
		Alerts:    []weather.Alert{},
	}

	var (
		geometry []geo.Coordinate
		duration float64
	)
	options := session.Options()
	if display.SelectedRoute >= 0 && display.SelectedRoute < len(options) {
		route := options[display.SelectedRoute]
		result.RouteLabel = route.Label
		geometry = route.Geometry
		duration = route.DurationSeconds
	}

	points := samplePoints(display, geometry, duration)
	available := 0
	for i := range points {
		s.fill(ctx, &points[i])
		if points[i].Conditions != nil {
			available++
		}
	}
	result.Route = points

	if available == 0 {
		return RouteWeather{}, ErrWeatherUnavailable
	}
	if points[0].Location == PointStart {
		result.Current = points[0].Conditions
	}

	if s.cfg.Alerts {
		result.Alerts = s.alerts(ctx, points)
	}
	result.Recommendation = recommend(points, result.Alerts)

	logging.Infow(ctx, "Route weather resolved", "session_id", session.ID(),
		"points", len(points), "available", available, "alerts", len(result.Alerts))
	return result, nil
}

// samplePoints picks where to query: start, midpoint by path length, and destination.
// The start is the live position when known, otherwise the route origin.
func samplePoints(display DisplayState, geometry []geo.Coordinate, durationSeconds float64) []WeatherPoint {
	var points []WeatherPoint

	var start *geo.Coordinate
	switch {
	case display.Position != nil:
		start = display.Position
	case len(geometry) > 0:
		start = &geometry[0]
	}
	if start != nil {
		points = append(points, WeatherPoint{Location: PointStart, Coordinate: *start, Time: "Now"})
	}

	if len(geometry) >= 2 {
		points = append(points, WeatherPoint{
			Location:   PointMidpoint,
			Coordinate: geo.PointAlong(geometry, geo.PathLength(geometry)/2),
			Time:       arrivalText(durationSeconds / 2),
		})
	}

	destinationTime := geo.Unavailable
	if len(geometry) >= 2 {
		destinationTime = arrivalText(durationSeconds)
	}
	return append(points, WeatherPoint{
		Location:   PointDestination,
		Coordinate: display.Destination,
		Time:       destinationTime,
	})
}

func arrivalText(seconds float64) string {
	if seconds < 60 {
		return "Now"
	}
	return "In " + geo.FormatMinutes(seconds/60)
}

// fill sets the point's conditions from cache or the weather API
func (s *RouteWeatherService) fill(ctx context.Context, point *WeatherPoint) {
	key := conditionsKey(point.Coordinate)

	var cached weather.Conditions
	if !s.cache.IsStale(key) {
		entry, exists, err := s.cache.GetWithMetadata(key, &cached)
		if err == nil && exists {
			point.Conditions = &cached
			point.UpdatedAt = entry.CreatedAt
			return
		}
	}

	fresh, err := s.client.CurrentWeather(ctx, point.Coordinate)
	if err != nil {
		entry, exists, cacheErr := s.cache.GetWithMetadata(key, &cached)
		if exists && cacheErr == nil {
			logging.Warnw(ctx, "Weather refresh failed, serving stale conditions",
				"location", point.Location, "cached_at", entry.CreatedAt, "error", err)
			point.Conditions = &cached
			point.UpdatedAt = entry.CreatedAt
			point.Stale = true
			return
		}
		logging.Warnw(ctx, "Weather unavailable for route point", "location", point.Location, "error", err)
		point.Error = "weather unavailable"
		return
	}

	if err := s.cache.Set(key, fresh, s.cfg.CacheTTL, "openweathermap"); err != nil {
		logging.Warnw(ctx, "Failed to cache weather conditions", "error", err)
	}
	point.Conditions = fresh
	point.UpdatedAt = s.now()
}

// alerts collects alerts for every sampled point, deduplicated by ID and ordered by start.
// Alert failures never fail the request.
func (s *RouteWeatherService) alerts(ctx context.Context, points []WeatherPoint) []weather.Alert {
	seen := make(map[string]bool)
	all := []weather.Alert{}

	for _, point := range points {
		var alerts []weather.Alert
		err := s.cache.GetOrLoad(alertsKey(point.Coordinate), &alerts, s.cfg.CacheTTL, "openweathermap",
			func() (interface{}, error) {
				return s.client.Alerts(ctx, point.Coordinate)
			})
		if err != nil {
			logging.Warnw(ctx, "Weather alerts unavailable for route point", "location", point.Location, "error", err)
			continue
		}
		for _, alert := range alerts {
			if seen[alert.ID] {
				continue
			}
			seen[alert.ID] = true
			all = append(all, alert)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all
}

// Cache keys round to three decimals, roughly 100 m
func conditionsKey(c geo.Coordinate) string {
	return fmt.Sprintf("weather:%.3f,%.3f", c.Latitude, c.Longitude)
}

func alertsKey(c geo.Coordinate) string {
	return fmt.Sprintf("weather-alerts:%.3f,%.3f", c.Latitude, c.Longitude)
}

// recommend summarizes the worst conditions along the route
func recommend(points []WeatherPoint, alerts []weather.Alert) string {
	if len(alerts) > 0 {
		events := make([]string, 0, len(alerts))
		for _, alert := range alerts {
			events = append(events, alert.Event)
		}
		return fmt.Sprintf("Weather alerts on your route: %s. Check conditions before you leave.", strings.Join(events, ", "))
	}

	var (
		hazard, wet, lowVisibility bool
		destination                *weather.Conditions
	)
	for _, point := range points {
		c := point.Conditions
		if c == nil {
			continue
		}
		switch c.Main {
		case "Thunderstorm", "Snow", "Tornado", "Squall":
			hazard = true
		case "Rain", "Drizzle":
			wet = true
		}
		if c.VisibilityMeters > 0 && c.VisibilityMeters < 1000 {
			lowVisibility = true
		}
		if point.Location == PointDestination {
			destination = c
		}
	}

	switch {
	case hazard:
		return "Hazardous weather along the route. Allow extra travel time."
	case wet:
		return "Rain expected along the route. Drive carefully."
	case lowVisibility:
		return "Low visibility along the route. Use headlights and reduce speed."
	case destination != nil && destination.TemperatureCelsius < 10:
		return "Cool at your destination. Bring a jacket."
	default:
		return "Good weather for your journey."
	}
}
