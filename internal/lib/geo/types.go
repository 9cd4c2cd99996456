package geo

// Coordinate represents a geographic position in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within latitude [-90, 90] and longitude [-180, 180].
// NaN values are never valid.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

const (
	// EarthRadiusKm is the mean Earth radius used by the Haversine formula
	EarthRadiusKm = 6371.0

	// DefaultSpeedKmh is the fallback travel speed used when live speed is zero or unknown.
	// It is a tuning knob, not a physical constant.
	DefaultSpeedKmh = 50.0

	// Unavailable is rendered wherever a computation cannot produce a finite value
	Unavailable = "N/A"
)
