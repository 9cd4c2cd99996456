package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

// SimulatedSource replays a path at constant speed. Used by the navigation harness and tests.
type SimulatedSource struct {
	path     []geo.Coordinate
	speedMps float64
	interval time.Duration
	now      func() time.Time
}

// NewSimulatedSource creates a source that moves along path at speedMps, emitting every interval
func NewSimulatedSource(path []geo.Coordinate, speedMps float64, interval time.Duration) *SimulatedSource {
	return &SimulatedSource{
		path:     path,
		speedMps: speedMps,
		interval: interval,
		now:      time.Now,
	}
}

// Subscribe starts the replay. The readings channel closes after the final path point.
func (s *SimulatedSource) Subscribe(ctx context.Context, opts Options) (Stream, error) {
	if len(s.path) == 0 {
		return nil, ErrPositionUnavailable
	}
	if s.interval <= 0 {
		return nil, errors.New("simulated source interval must be positive")
	}

	stream := &simulatedStream{
		readings: make(chan Reading),
		errors:   make(chan error),
		done:     make(chan struct{}),
	}
	go stream.replay(s)
	return stream, nil
}

// PositionAt returns the point travelledKm along the path, clamped to the path end
func (s *SimulatedSource) PositionAt(travelledKm float64) geo.Coordinate {
	return geo.PointAlong(s.path, travelledKm)
}

type simulatedStream struct {
	readings chan Reading
	errors   chan error
	done     chan struct{}
	once     sync.Once
}

func (s *simulatedStream) Readings() <-chan Reading { return s.readings }
func (s *simulatedStream) Errors() <-chan error     { return s.errors }

func (s *simulatedStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *simulatedStream) replay(src *SimulatedSource) {
	defer close(s.readings)

	total := geo.PathLength(src.path)
	stepKm := src.speedMps * src.interval.Seconds() / 1000
	speed := src.speedMps

	ticker := time.NewTicker(src.interval)
	defer ticker.Stop()

	travelled := 0.0
	for {
		reading := Reading{
			Coordinate: src.PositionAt(travelled),
			Speed:      &speed,
			Timestamp:  src.now(),
		}
		select {
		case s.readings <- reading:
		case <-s.done:
			return
		}

		if travelled >= total || stepKm <= 0 {
			return
		}
		travelled += stepKm

		select {
		case <-ticker.C:
		case <-s.done:
			return
		}
	}
}
