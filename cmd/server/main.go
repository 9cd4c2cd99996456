package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wandermate/navigation/server/internal/cache"
	"github.com/wandermate/navigation/server/internal/clients/credentials"
	"github.com/wandermate/navigation/server/internal/clients/geocoding"
	"github.com/wandermate/navigation/server/internal/clients/google"
	"github.com/wandermate/navigation/server/internal/clients/mapbox"
	"github.com/wandermate/navigation/server/internal/clients/weather"
	"github.com/wandermate/navigation/server/internal/config"
	"github.com/wandermate/navigation/server/internal/lib/routing"
	"github.com/wandermate/navigation/server/internal/lib/telemetry"
	"github.com/wandermate/navigation/server/internal/services"
)

func main() {
	configPath := flag.String("config", "", "YAML config file; when empty, sections are read from prefab.yaml and PF__ env vars")
	flag.Parse()

	// Load configuration using Prefab's config system
	appConfig := loadConfig(*configPath)

	ctx := logging.EnsureLogger(context.Background())

	// Initialize cache shared by credentials and geocoding
	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Sessions.ReapInterval)

	// Initialize external API clients
	directions := newDirectionsSource(appConfig.Directions)
	routeProvider := routing.NewProvider(directions)
	creds := newCredentialSource(appConfig.Directions.Credentials, cacheInstance)
	geocoder := newGeocoder(appConfig.Geocoding, cacheInstance)

	// Telemetry goes to the structured log and an in-memory buffer exposed for inspection
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create telemetry logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	events := telemetry.NewBufferSink(appConfig.Telemetry.BufferCapacity)
	sink := telemetry.MultiSink{events}
	if appConfig.Telemetry.LogEvents {
		sink = append(sink, telemetry.NewZapSink(zapLogger))
	}

	manager := services.NewSessionManager(appConfig, routeProvider, creds, geocoder, sink)
	if err := manager.StartReaper(ctx); err != nil {
		log.Printf("Failed to start session reaper: %v", err)
	}

	routeWeather := newRouteWeather(appConfig.Weather, cacheInstance)

	logging.Infow(ctx, "Navigation API Server starting",
		"directions", appConfig.Directions.Provider,
		"geocoding", appConfig.Geocoding.Provider,
		"weather", routeWeather != nil)

	handlers := services.NewHandlers(manager, routeWeather)

	// Create Prefab server with GRPC reflection enabled
	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	opts := []prefab.ServerOption{
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithJSONHandler("GET /api/v1/telemetry", telemetryHandler(events, cacheInstance)),
	}
	server := prefab.New(append(opts, handlers.ServerOptions()...)...)

	// Standard gRPC health checks for load balancers
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server.ServiceRegistrar(), healthServer)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	healthServer.Shutdown()
	manager.Shutdown(ctx)
}

// loadConfig loads configuration from a YAML file when given, otherwise from Prefab's config
// system (prefab.yaml and environment variables with PF__ prefix). Defaults fill unset keys.
func loadConfig(path string) *config.Config {
	if path != "" {
		appConfig, err := config.LoadFile(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		return appConfig
	}

	appConfig := config.DefaultConfig()

	// Unmarshal specific sections from Prefab's config using exact key paths
	sections := map[string]any{
		"navigation": &appConfig.Navigation,
		"tracking":   &appConfig.Tracking,
		"directions": &appConfig.Directions,
		"geocoding":  &appConfig.Geocoding,
		"sessions":   &appConfig.Sessions,
		"telemetry":  &appConfig.Telemetry,
		"weather":    &appConfig.Weather,
	}
	for key, section := range sections {
		if err := prefab.Config.Unmarshal(key, section); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", key, err)
		}
	}

	if err := appConfig.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	return appConfig
}

const directionsTimeout = 30 * time.Second

func newDirectionsSource(cfg config.DirectionsConfig) routing.DirectionsSource {
	switch cfg.Provider {
	case "google":
		if cfg.Google.APIKey == "" {
			log.Printf("Google Routes API key not configured; relying on per-session credentials")
		}
		return google.NewClientWithHTTPDoer(cfg.Google.APIKey, cfg.Google.BaseURL, &http.Client{Timeout: directionsTimeout})
	default:
		return mapbox.NewClientWithHTTPDoer(cfg.Mapbox.AccessToken, cfg.Mapbox.BaseURL, &http.Client{Timeout: directionsTimeout})
	}
}

// newCredentialSource returns nil when the provider's static key should be used
func newCredentialSource(cfg config.CredentialsConfig, c *cache.Cache) credentials.Source {
	var source credentials.Source
	switch {
	case cfg.Endpoint != "":
		source = credentials.NewHTTPSource(cfg.Endpoint)
	case cfg.EnvVar != "":
		source = credentials.EnvSource{Var: cfg.EnvVar, File: cfg.EnvFile}
	default:
		return nil
	}
	if cfg.CacheTTL > 0 {
		source = credentials.NewCachedSource(source, c, cfg.CacheTTL)
	}
	return source
}

// newRouteWeather returns nil when no OpenWeatherMap key is configured
func newRouteWeather(cfg config.WeatherConfig, c *cache.Cache) *services.RouteWeatherService {
	if cfg.APIKey == "" {
		log.Printf("OpenWeatherMap API key not configured; route weather disabled")
		return nil
	}
	client := weather.NewClientWithHTTPDoer(cfg.APIKey, cfg.BaseURL, &http.Client{Timeout: directionsTimeout})
	return services.NewRouteWeatherService(client, c, cfg)
}

func newGeocoder(cfg config.GeocodingConfig, c *cache.Cache) geocoding.Geocoder {
	var geocoder geocoding.Geocoder
	switch cfg.Provider {
	case "google":
		g, err := geocoding.NewGoogleGeocoder(cfg.GoogleAPIKey)
		if err != nil {
			log.Printf("Google geocoder unavailable, address lookup disabled: %v", err)
			return nil
		}
		geocoder = g
	default:
		geocoder = geocoding.NewNominatimGeocoder(cfg.NominatimURL, cfg.UserAgent)
	}
	if cfg.CacheTTL > 0 {
		geocoder = geocoding.NewCachedGeocoder(geocoder, c, cfg.CacheTTL)
	}
	return geocoder
}

// TelemetryResponse reports buffered event counts and shared cache usage
type TelemetryResponse struct {
	Counts map[string]int   `json:"counts"`
	Cache  cache.CacheStats `json:"cache"`
}

func telemetryHandler(events *telemetry.BufferSink, c *cache.Cache) prefab.JSONHandler {
	return func(r *http.Request) (any, error) {
		return TelemetryResponse{Counts: events.Counts(), Cache: c.Stats()}, nil
	}
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>navigation</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">navigation</span>

Live turn-by-turn navigation sessions. Devices post positions, clients poll
the derived display state.

<span class="header">API Endpoints:</span>

  POST   /api/v1/sessions                  - Start a trip (destination or address)
  GET    /api/v1/sessions/{id}             - Current display state
  POST   /api/v1/sessions/{id}/positions   - Report a position or location error
  POST   /api/v1/sessions/{id}/route       - Select a route alternative
  GET    /api/v1/sessions/{id}/routes      - Route alternatives
  GET    /api/v1/sessions/{id}/routes.kml  - Route alternatives as KML
  GET    /api/v1/sessions/{id}/weather     - Weather at start, midpoint and destination
  DELETE /api/v1/sessions/{id}             - End the trip and get its summary
  GET    /api/v1/sessions/{id}/trip.kml    - Finished trip as KML
  GET    /api/v1/telemetry                 - Event counts and cache usage

<span class="header">Example Usage:</span>
  curl -X POST -d '{"address": "Brooklyn Bridge"}' /api/v1/sessions
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		logging.Errorw(r.Context(), "Failed to write homepage HTML", "error", err)
	}
}
