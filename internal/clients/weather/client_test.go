package weather

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

// Helper function to load test fixture data
func loadTestFixture(t *testing.T, filename string) string {
	data, err := os.ReadFile("../../../tests/testdata/openweather/" + filename)
	require.NoError(t, err, "Failed to load test fixture %s", filename)
	return string(data)
}

// Helper function to create mock HTTP response
func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

var cityHall = geo.Coordinate{Latitude: 40.7128, Longitude: -74.0060}

func TestCurrentWeather_Success(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, loadTestFixture(t, "current_manhattan.json")), nil)

	client := NewClientWithHTTPDoer("test-api-key", "", mockHTTP)
	conditions, err := client.CurrentWeather(context.Background(), cityHall)

	require.NoError(t, err)
	assert.Equal(t, "New York", conditions.LocationName)
	assert.Equal(t, "Clouds", conditions.Main)
	assert.Equal(t, "scattered clouds", conditions.Description)
	assert.Equal(t, "03d", conditions.Icon)
	assert.InDelta(t, 21.4, conditions.TemperatureCelsius, 1e-9)
	assert.Equal(t, 62, conditions.HumidityPercent)
	assert.InDelta(t, 4.6, conditions.WindSpeedMps, 1e-9)
	assert.Equal(t, 10000, conditions.VisibilityMeters)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), conditions.ObservedAt)
	mockHTTP.AssertExpectations(t)
}

func TestCurrentWeather_RequestFormat(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		q := req.URL.Query()
		return req.Method == "GET" &&
			req.URL.Host == "api.openweathermap.org" &&
			req.URL.Path == "/data/2.5/weather" &&
			q.Get("lat") == "40.712800" &&
			q.Get("lon") == "-74.006000" &&
			q.Get("appid") == "test-api-key" &&
			q.Get("units") == "metric"
	})).Return(createMockResponse(200, loadTestFixture(t, "current_manhattan.json")), nil)

	_, err := NewClientWithHTTPDoer("test-api-key", "", mockHTTP).CurrentWeather(context.Background(), cityHall)
	require.NoError(t, err)
	mockHTTP.AssertExpectations(t)
}

func TestAlerts_WithAlerts(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/data/3.0/onecall" &&
			req.URL.Query().Get("exclude") == "current,minutely,hourly,daily"
	})).Return(createMockResponse(200, loadTestFixture(t, "alerts_manhattan.json")), nil)

	alerts, err := NewClientWithHTTPDoer("test-api-key", "", mockHTTP).Alerts(context.Background(), cityHall)

	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "Heat Advisory", alerts[0].Event)
	assert.Equal(t, "NWS New York NY", alerts[0].SenderName)
	assert.Equal(t, "NWS New York NY_Heat Advisory_1717246800", alerts[0].ID)
	assert.Equal(t, time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC), alerts[0].Start)
	assert.Contains(t, alerts[1].Tags, "Air quality")
}

func TestAlerts_NoAlerts(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, loadTestFixture(t, "alerts_empty.json")), nil)

	alerts, err := NewClientWithHTTPDoer("test-api-key", "", mockHTTP).Alerts(context.Background(), cityHall)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestCurrentWeather_Errors(t *testing.T) {
	tests := []struct {
		name     string
		response *http.Response
		err      error
		expected string
	}{
		{"rate limit", createMockResponse(429, ""), nil, "rate limit exceeded"},
		{"unauthorized", createMockResponse(401, ""), nil, "invalid API key"},
		{"server error", createMockResponse(500, "upstream down"), nil, "API error 500: upstream down"},
		{"invalid json", createMockResponse(200, `{"invalid": json}`), nil, "failed to decode response"},
		{"transport", nil, errors.New("connection refused"), "failed to execute request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockHTTP := &MockHTTPDoer{}
			mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(tt.response, tt.err)

			_, err := NewClientWithHTTPDoer("test-api-key", "", mockHTTP).CurrentWeather(context.Background(), cityHall)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expected)
		})
	}
}

func TestCurrentWeather_MissingKey(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}

	_, err := NewClientWithHTTPDoer("", "", mockHTTP).CurrentWeather(context.Background(), cityHall)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing API key")
	mockHTTP.AssertNotCalled(t, "Do", mock.Anything)
}
