package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// Location source failures. All of them are transient from the session's point of view.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("position acquisition timed out")
)

// Options configures a location subscription
type Options struct {
	HighAccuracy bool          `json:"high_accuracy"`
	MaxStaleness time.Duration `json:"max_staleness"` // oldest cached reading a source may hand out
	Timeout      time.Duration `json:"timeout"`       // longest wait for a reading before ErrTimeout
}

// DefaultOptions returns high accuracy, 1s max staleness and a 5s timeout
func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		MaxStaleness: time.Second,
		Timeout:      5 * time.Second,
	}
}

// Reading is a raw update from a location source. Speed is nil when the source does not know it.
// ReceivedAt is when the reading reached the server; zero for sources that do not record it.
type Reading struct {
	Coordinate geo.Coordinate
	Speed      *float64 // meters per second
	Timestamp  time.Time
	ReceivedAt time.Time
}

// PositionSample is a normalized reading delivered to subscribers
type PositionSample struct {
	Coordinate           geo.Coordinate `json:"coordinate"`
	SpeedMetersPerSecond float64        `json:"speed_mps"`
	HasSpeed             bool           `json:"has_speed"`
	Timestamp            time.Time      `json:"timestamp"`   // source timestamp
	ReceivedAt           time.Time      `json:"received_at"` // arrival at the source, or tracker clock at delivery
}

// Source is a continuous location source such as a device GPS feed
type Source interface {
	Subscribe(ctx context.Context, opts Options) (Stream, error)
}

// Stream is an active platform subscription. Close releases it.
type Stream interface {
	Readings() <-chan Reading
	Errors() <-chan error
	Close() error
}

// Normalize converts a raw reading into a sample. A nil or negative speed becomes unknown;
// the coordinate is passed through untouched. The reading's own ReceivedAt wins over deliveredAt.
func Normalize(r Reading, deliveredAt time.Time) PositionSample {
	sample := PositionSample{
		Coordinate: r.Coordinate,
		Timestamp:  r.Timestamp,
		ReceivedAt: r.ReceivedAt,
	}
	if sample.ReceivedAt.IsZero() {
		sample.ReceivedAt = deliveredAt
	}
	if r.Speed != nil && *r.Speed >= 0 {
		sample.SpeedMetersPerSecond = *r.Speed
		sample.HasSpeed = true
	}
	return sample
}
