// Package geocoding resolves destination addresses to coordinates.
package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/wandermate/navigation/server/internal/cache"
	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// ErrNotFound is returned when an address has no match
var ErrNotFound = errors.New("address not found")

// Geocoder resolves a free-form address
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

// HTTPDoer is the subset of *http.Client used by HTTP geocoders
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimGeocoder queries an OpenStreetMap Nominatim search endpoint
type NominatimGeocoder struct {
	baseURL    string
	userAgent  string
	httpClient HTTPDoer
}

// NewNominatimGeocoder creates a geocoder for baseURL. Nominatim's usage policy requires a
// descriptive User-Agent.
func NewNominatimGeocoder(baseURL, userAgent string) *NominatimGeocoder {
	return NewNominatimGeocoderWithHTTPDoer(baseURL, userAgent, &http.Client{Timeout: 10 * time.Second})
}

// NewNominatimGeocoderWithHTTPDoer creates a geocoder with an injected transport, used by tests
func NewNominatimGeocoderWithHTTPDoer(baseURL, userAgent string, doer HTTPDoer) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &NominatimGeocoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: doer,
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode returns the first Nominatim match for address
func (g *NominatimGeocoder) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	query := url.Values{}
	query.Set("q", address)
	query.Set("format", "json")
	query.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, "GET", g.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("failed to create request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return geo.Coordinate{}, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return geo.Coordinate{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(results) == 0 {
		return geo.Coordinate{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}

	return geo.Coordinate{Latitude: lat, Longitude: lng}, nil
}

// GoogleGeocoder uses the Google Maps Geocoding API
type GoogleGeocoder struct {
	client *maps.Client
}

// NewGoogleGeocoder creates a geocoder with the given API key and optional client options
func NewGoogleGeocoder(apiKey string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("maps.NewClient: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

// Geocode returns the first Google match for address
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	results, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(results) == 0 {
		return geo.Coordinate{}, ErrNotFound
	}

	location := results[0].Geometry.Location
	return geo.Coordinate{Latitude: location.Lat, Longitude: location.Lng}, nil
}

// CachedGeocoder memoizes successful lookups. Misses and errors are not cached.
type CachedGeocoder struct {
	next  Geocoder
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachedGeocoder wraps next with a TTL cache
func NewCachedGeocoder(next Geocoder, c *cache.Cache, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{next: next, cache: c, ttl: ttl}
}

func (g *CachedGeocoder) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	key := "geocode:" + strings.ToLower(strings.TrimSpace(address))

	var coord geo.Coordinate
	err := g.cache.GetOrLoad(key, &coord, g.ttl, "geocoder", func() (interface{}, error) {
		return g.next.Geocode(ctx, address)
	})
	if err != nil {
		return geo.Coordinate{}, err
	}
	return coord, nil
}
