package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// DefaultBaseURL is the OpenWeatherMap API endpoint
const DefaultBaseURL = "https://api.openweathermap.org"

// HTTPDoer is the subset of *http.Client used by the client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to OpenWeatherMap API
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// NewClient creates a new OpenWeatherMap API client
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

// Conditions is the current weather at a point
type Conditions struct {
	Coordinate         geo.Coordinate `json:"coordinate"`
	LocationName       string         `json:"location_name"`
	Main               string         `json:"main"`
	Description        string         `json:"description"`
	Icon               string         `json:"icon"`
	TemperatureCelsius float64        `json:"temperature_c"`
	FeelsLikeCelsius   float64        `json:"feels_like_c"`
	HumidityPercent    int            `json:"humidity_percent"`
	WindSpeedMps       float64        `json:"wind_speed_mps"`
	VisibilityMeters   int            `json:"visibility_m"`
	ObservedAt         time.Time      `json:"observed_at"`
}

// Alert is an official weather warning covering a point
type Alert struct {
	ID          string    `json:"id"`
	SenderName  string    `json:"sender_name"`
	Event       string    `json:"event"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
}

// CurrentWeather retrieves current conditions for a coordinate
func (c *Client) CurrentWeather(ctx context.Context, coord geo.Coordinate) (*Conditions, error) {
	params := c.params(coord)
	params.Set("units", "metric")

	var response CurrentResponse
	if err := c.get(ctx, "/data/2.5/weather", params, &response); err != nil {
		return nil, err
	}

	conditions := &Conditions{
		Coordinate:         geo.Coordinate{Latitude: response.Coord.Lat, Longitude: response.Coord.Lon},
		LocationName:       response.Name,
		TemperatureCelsius: response.Main.Temp,
		FeelsLikeCelsius:   response.Main.FeelsLike,
		HumidityPercent:    response.Main.Humidity,
		WindSpeedMps:       response.Wind.Speed,
		VisibilityMeters:   response.Visibility,
		ObservedAt:         time.Unix(response.Dt, 0).UTC(),
	}
	if len(response.Weather) > 0 {
		conditions.Main = response.Weather[0].Main
		conditions.Description = response.Weather[0].Description
		conditions.Icon = response.Weather[0].Icon
	}
	return conditions, nil
}

// Alerts retrieves active weather alerts using One Call API 3.0
func (c *Client) Alerts(ctx context.Context, coord geo.Coordinate) ([]Alert, error) {
	params := c.params(coord)
	params.Set("exclude", "current,minutely,hourly,daily")

	var response OneCallResponse
	if err := c.get(ctx, "/data/3.0/onecall", params, &response); err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}

	alerts := make([]Alert, 0, len(response.Alerts))
	for _, a := range response.Alerts {
		alerts = append(alerts, Alert{
			// sender + event + start identifies an alert across neighbouring points
			ID:          fmt.Sprintf("%s_%s_%d", a.SenderName, a.Event, a.Start),
			SenderName:  a.SenderName,
			Event:       a.Event,
			Start:       time.Unix(a.Start, 0).UTC(),
			End:         time.Unix(a.End, 0).UTC(),
			Description: a.Description,
			Tags:        a.Tags,
		})
	}
	return alerts, nil
}

func (c *Client) params(coord geo.Coordinate) url.Values {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.6f", coord.Latitude))
	params.Set("lon", fmt.Sprintf("%.6f", coord.Longitude))
	params.Set("appid", c.apiKey)
	return params
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("openweathermap: missing API key")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	// Free tier allows 60 calls per minute
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limit exceeded (60/minute)")
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CurrentResponse represents the current weather API response
type CurrentResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Pressure  int     `json:"pressure"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Visibility int    `json:"visibility"`
	Name       string `json:"name"`
	Dt         int64  `json:"dt"`
}

// OneCallResponse represents One Call API response with alerts
type OneCallResponse struct {
	Lat    float64        `json:"lat"`
	Lon    float64        `json:"lon"`
	Alerts []OneCallAlert `json:"alerts,omitempty"`
}

// OneCallAlert represents a weather alert from One Call API
type OneCallAlert struct {
	SenderName  string   `json:"sender_name"`
	Event       string   `json:"event"`
	Start       int64    `json:"start"`
	End         int64    `json:"end"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}
