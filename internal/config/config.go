package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wandermate/navigation/server/internal/lib/guidance"
	"github.com/wandermate/navigation/server/internal/lib/tracking"
)

// Config represents the complete server configuration.
// The server reads each section from prefab.yaml (PF__ env overrides); harness tools use LoadFile.
type Config struct {
	Navigation NavigationConfig `yaml:"navigation" koanf:"navigation"`
	Tracking   TrackingConfig   `yaml:"tracking" koanf:"tracking"`
	Directions DirectionsConfig `yaml:"directions" koanf:"directions"`
	Geocoding  GeocodingConfig  `yaml:"geocoding" koanf:"geocoding"`
	Sessions   SessionsConfig   `yaml:"sessions" koanf:"sessions"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" koanf:"telemetry"`
	Weather    WeatherConfig    `yaml:"weather" koanf:"weather"`
}

// NavigationConfig holds guidance thresholds
type NavigationConfig struct {
	StepThresholdKm     float64 `yaml:"step_threshold_km" koanf:"step_threshold_km" validate:"gt=0"`
	FallbackSpeedKmh    float64 `yaml:"fallback_speed_kmh" koanf:"fallback_speed_kmh" validate:"gt=0"`
	ApproachThresholdKm float64 `yaml:"approach_threshold_km" koanf:"approach_threshold_km" validate:"gt=0"`
	ArrivalThresholdKm  float64 `yaml:"arrival_threshold_km" koanf:"arrival_threshold_km" validate:"gte=0"`
	OffRouteThresholdKm float64 `yaml:"off_route_threshold_km" koanf:"off_route_threshold_km" validate:"gt=0"`
	StrictInvariants    bool    `yaml:"strict_invariants" koanf:"strict_invariants"`
}

// TrackingConfig holds location subscription options
type TrackingConfig struct {
	HighAccuracy bool          `yaml:"high_accuracy" koanf:"high_accuracy"`
	MaxStaleness time.Duration `yaml:"max_staleness" koanf:"max_staleness" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" koanf:"timeout" validate:"gte=0"`
}

// DirectionsConfig selects and configures the routing API
type DirectionsConfig struct {
	Provider    string            `yaml:"provider" koanf:"provider" validate:"oneof=mapbox google"`
	Mapbox      MapboxConfig      `yaml:"mapbox" koanf:"mapbox"`
	Google      GoogleConfig      `yaml:"google" koanf:"google"`
	Credentials CredentialsConfig `yaml:"credentials" koanf:"credentials"`
}

// MapboxConfig holds Mapbox Directions settings
type MapboxConfig struct {
	AccessToken string `yaml:"access_token" koanf:"access_token"`
	BaseURL     string `yaml:"base_url" koanf:"base_url" validate:"omitempty,url"`
}

// GoogleConfig holds Google Routes API settings
type GoogleConfig struct {
	APIKey  string `yaml:"api_key" koanf:"api_key"`
	BaseURL string `yaml:"base_url" koanf:"base_url" validate:"omitempty,url"`
}

// CredentialsConfig describes where the per-request routing token comes from.
// Endpoint takes precedence over EnvVar; with neither, the static provider key is used.
type CredentialsConfig struct {
	Endpoint string        `yaml:"endpoint" koanf:"endpoint" validate:"omitempty,url"`
	EnvVar   string        `yaml:"env_var" koanf:"env_var"`
	EnvFile  string        `yaml:"env_file" koanf:"env_file"`
	CacheTTL time.Duration `yaml:"cache_ttl" koanf:"cache_ttl" validate:"gte=0"`
}

// GeocodingConfig configures destination address lookup
type GeocodingConfig struct {
	Provider     string        `yaml:"provider" koanf:"provider" validate:"oneof=nominatim google"`
	NominatimURL string        `yaml:"nominatim_url" koanf:"nominatim_url" validate:"omitempty,url"`
	UserAgent    string        `yaml:"user_agent" koanf:"user_agent"`
	GoogleAPIKey string        `yaml:"google_api_key" koanf:"google_api_key"`
	CacheTTL     time.Duration `yaml:"cache_ttl" koanf:"cache_ttl" validate:"gte=0"`
}

// SessionsConfig controls session lifetime
type SessionsConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout" koanf:"idle_timeout" validate:"gt=0"`
	ReapInterval time.Duration `yaml:"reap_interval" koanf:"reap_interval" validate:"gt=0"`
}

// TelemetryConfig controls the analytics event sink
type TelemetryConfig struct {
	BufferCapacity int  `yaml:"buffer_capacity" koanf:"buffer_capacity" validate:"gte=0"`
	LogEvents      bool `yaml:"log_events" koanf:"log_events"`
}

// WeatherConfig configures conditions along a session's route. Weather is disabled without an API key.
type WeatherConfig struct {
	APIKey   string        `yaml:"api_key" koanf:"api_key"`
	BaseURL  string        `yaml:"base_url" koanf:"base_url" validate:"omitempty,url"`
	CacheTTL time.Duration `yaml:"cache_ttl" koanf:"cache_ttl" validate:"gte=0"`
	Alerts   bool          `yaml:"alerts" koanf:"alerts"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Navigation: NavigationConfig{
			StepThresholdKm:     0.05,
			FallbackSpeedKmh:    50,
			ApproachThresholdKm: 1.0,
			ArrivalThresholdKm:  0.05,
			OffRouteThresholdKm: 0.1,
		},
		Tracking: TrackingConfig{
			HighAccuracy: true,
			MaxStaleness: time.Second,
			Timeout:      5 * time.Second,
		},
		Directions: DirectionsConfig{
			Provider: "mapbox",
			Mapbox: MapboxConfig{
				BaseURL: "https://api.mapbox.com",
			},
			Google: GoogleConfig{
				BaseURL: "https://routes.googleapis.com",
			},
			Credentials: CredentialsConfig{
				EnvVar:   "MAPBOX_ACCESS_TOKEN",
				EnvFile:  ".env",
				CacheTTL: 30 * time.Minute,
			},
		},
		Geocoding: GeocodingConfig{
			Provider:     "nominatim",
			NominatimURL: "https://nominatim.openstreetmap.org",
			UserAgent:    "wandermate-navigation/1.0",
			CacheTTL:     24 * time.Hour,
		},
		Sessions: SessionsConfig{
			IdleTimeout:  10 * time.Minute,
			ReapInterval: time.Minute,
		},
		Telemetry: TelemetryConfig{
			BufferCapacity: 1000,
			LogEvents:      true,
		},
		Weather: WeatherConfig{
			BaseURL:  "https://api.openweathermap.org",
			CacheTTL: 10 * time.Minute,
			Alerts:   true,
		},
	}
}

// LoadFile reads a YAML file over the defaults and validates the result
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section against its validate tags
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Guidance returns the instruction engine configuration
func (c *Config) Guidance() guidance.Config {
	return guidance.Config{
		StepThresholdKm:     c.Navigation.StepThresholdKm,
		ApproachThresholdKm: c.Navigation.ApproachThresholdKm,
		Strict:              c.Navigation.StrictInvariants,
	}
}

// TrackerOptions returns the location subscription options
func (c *Config) TrackerOptions() tracking.Options {
	return tracking.Options{
		HighAccuracy: c.Tracking.HighAccuracy,
		MaxStaleness: c.Tracking.MaxStaleness,
		Timeout:      c.Tracking.Timeout,
	}
}
