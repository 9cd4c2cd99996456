package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

// Distance calculates great-circle distance in kilometers between two coordinates using the Haversine formula.
// Inputs are not validated: NaN or out-of-range coordinates produce NaN or meaningless output,
// so callers must check Coordinate.Valid first when the input is untrusted.
func Distance(a, b Coordinate) float64 {
	// Convert degrees to radians
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dlat := (b.Latitude - a.Latitude) * math.Pi / 180
	dlon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// DistanceMeters is Distance expressed in meters
func DistanceMeters(a, b Coordinate) float64 {
	return Distance(a, b) * 1000
}

// SpeedKmh converts meters per second to kilometers per hour
func SpeedKmh(metersPerSecond float64) float64 {
	return metersPerSecond * 3.6
}

// ETA formats the remaining travel time for distanceKm at speedKmh.
// minutes = round(distanceKm/speedKmh*60); below an hour it renders "12 min", otherwise "1 hr 5 min".
// speedKmh must be positive; substituting DefaultSpeedKmh for zero or unknown live speed is the caller's job.
func ETA(distanceKm, speedKmh float64) string {
	return FormatMinutes(distanceKm / speedKmh * 60)
}

// FormatMinutes renders a minute count using the same hour/minute split as ETA.
// Non-finite or negative values render as Unavailable.
func FormatMinutes(minutes float64) string {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes < 0 {
		return Unavailable
	}

	m := int(math.Round(minutes))
	if m < 60 {
		return fmt.Sprintf("%d min", m)
	}
	return fmt.Sprintf("%d hr %d min", m/60, m%60)
}

// FormatDistance renders a distance for display: "850 m" below one kilometer, "2.3 km" otherwise
func FormatDistance(km float64) string {
	if math.IsNaN(km) || math.IsInf(km, 0) || km < 0 {
		return Unavailable
	}
	if km < 1 {
		return fmt.Sprintf("%d m", int(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1f km", km)
}

// PathLength returns the length of a path in kilometers
func PathLength(points []Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// PointAlong returns the point km kilometers along path, clamped to the path ends.
// An empty path yields the zero coordinate.
func PointAlong(path []Coordinate, km float64) Coordinate {
	if len(path) == 0 {
		return Coordinate{}
	}
	if km <= 0 || len(path) == 1 {
		return path[0]
	}

	remaining := km
	for i := 1; i < len(path); i++ {
		a, b := path[i-1], path[i]
		segment := Distance(a, b)
		if segment <= 0 {
			continue
		}
		if remaining <= segment {
			f := remaining / segment
			return Coordinate{
				Latitude:  a.Latitude + f*(b.Latitude-a.Latitude),
				Longitude: a.Longitude + f*(b.Longitude-a.Longitude),
			}
		}
		remaining -= segment
	}
	return path[len(path)-1]
}

// DistanceToPath calculates the minimum distance in kilometers from a point to a path.
// An empty path yields +Inf.
func DistanceToPath(point Coordinate, path []Coordinate) float64 {
	if len(path) == 0 {
		return math.Inf(1)
	}
	if len(path) == 1 {
		return Distance(point, path[0])
	}

	minDistance := math.Inf(1)
	for i := 0; i < len(path)-1; i++ {
		d := distanceToSegment(point, path[i], path[i+1])
		if d < minDistance {
			minDistance = d
		}
	}
	return minDistance
}

// distanceToSegment calculates the distance from point to the great-circle segment start-end in kilometers
func distanceToSegment(point, start, end Coordinate) float64 {
	distanceToStart := Distance(start, point)
	distanceToEnd := Distance(end, point)
	segmentLength := Distance(start, end)

	// Degenerate segment
	if segmentLength < 0.001 {
		return math.Min(distanceToStart, distanceToEnd)
	}

	lat1 := start.Latitude * math.Pi / 180
	lon1 := start.Longitude * math.Pi / 180
	lat2 := end.Latitude * math.Pi / 180
	lon2 := end.Longitude * math.Pi / 180
	lat3 := point.Latitude * math.Pi / 180
	lon3 := point.Longitude * math.Pi / 180

	d13 := distanceToStart / EarthRadiusKm

	// Bearing start->end and start->point
	y := math.Sin(lon2-lon1) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	bearingSegment := math.Atan2(y, x)

	y = math.Sin(lon3-lon1) * math.Cos(lat3)
	x = math.Cos(lat1)*math.Sin(lat3) - math.Sin(lat1)*math.Cos(lat3)*math.Cos(lon3-lon1)
	bearingPoint := math.Atan2(y, x)

	// Projection falls behind the segment start
	if math.Cos(bearingPoint-bearingSegment) < 0 {
		return distanceToStart
	}

	dxt := math.Asin(math.Sin(d13) * math.Sin(bearingPoint-bearingSegment))
	alongTrack := math.Acos(math.Cos(d13)/math.Cos(dxt)) * EarthRadiusKm

	// Projection falls beyond the segment end
	if alongTrack > segmentLength {
		return distanceToEnd
	}

	return math.Abs(dxt) * EarthRadiusKm
}

// DecodePolyline decodes an encoded polyline string (precision 5) into coordinates
func DecodePolyline(encoded string) ([]Coordinate, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	points := make([]Coordinate, len(coords))
	for i, coord := range coords {
		points[i] = Coordinate{Latitude: coord[0], Longitude: coord[1]}
		if !points[i].Valid() {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// EncodePolyline encodes coordinates into a polyline string (precision 5)
func EncodePolyline(points []Coordinate) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}
