package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wandermate/navigation/server/internal/lib/geo"
)

func speed(v float64) *float64 { return &v }

func receiveSample(t *testing.T, sub *Subscription) PositionSample {
	t.Helper()
	select {
	case s, ok := <-sub.Samples():
		require.True(t, ok, "samples channel closed unexpectedly")
		return s
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sample")
	}
	return PositionSample{}
}

func receiveError(t *testing.T, sub *Subscription) error {
	t.Helper()
	select {
	case err, ok := <-sub.Errors():
		require.True(t, ok, "errors channel closed unexpectedly")
		return err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
	}
	return nil
}

func TestNormalize(t *testing.T) {
	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	coord := geo.Coordinate{Latitude: 40.7128, Longitude: -74.0060}

	known := Normalize(Reading{Coordinate: coord, Speed: speed(12.5)}, received)
	assert.True(t, known.HasSpeed)
	assert.Equal(t, 12.5, known.SpeedMetersPerSecond)
	assert.Equal(t, coord, known.Coordinate)
	assert.Equal(t, received, known.ReceivedAt)

	missing := Normalize(Reading{Coordinate: coord}, received)
	assert.False(t, missing.HasSpeed, "nil speed is unknown, not zero")

	arrived := received.Add(-3 * time.Second)
	stamped := Normalize(Reading{Coordinate: coord, ReceivedAt: arrived}, received)
	assert.Equal(t, arrived, stamped.ReceivedAt, "arrival time recorded by the source wins")

	negative := Normalize(Reading{Coordinate: coord, Speed: speed(-1)}, received)
	assert.False(t, negative.HasSpeed, "negative speed is treated as unknown")
	assert.Equal(t, 0.0, negative.SpeedMetersPerSecond)
}

func TestTracker_DeliversSamplesInOrder(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	source := NewPushSourceWithClock(func() time.Time { return clock })
	tracker := NewTrackerWithClock(source, Options{HighAccuracy: true}, func() time.Time { return clock.Add(time.Minute) })

	sub, err := tracker.Start(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, source.Push(Reading{Coordinate: geo.Coordinate{Latitude: float64(i)}, Speed: speed(float64(i))}))
	}

	for i := 0; i < 5; i++ {
		s := receiveSample(t, sub)
		assert.Equal(t, float64(i), s.Coordinate.Latitude)
		assert.Equal(t, clock, s.ReceivedAt, "stamped at push, not at delivery")
	}
}

func TestPushSource_StampsArrivalTime(t *testing.T) {
	pushedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := pushedAt
	source := NewPushSourceWithClock(func() time.Time { return clock })

	stream, err := source.Subscribe(context.Background(), DefaultOptions())
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, source.Push(Reading{Coordinate: geo.Coordinate{Latitude: 1}}))
	explicit := pushedAt.Add(-time.Hour)
	require.NoError(t, source.Push(Reading{Coordinate: geo.Coordinate{Latitude: 2}, ReceivedAt: explicit}))

	// Delivery happens later; the recorded arrival time must not move
	clock = pushedAt.Add(10 * time.Second)

	first := <-stream.Readings()
	assert.Equal(t, pushedAt, first.ReceivedAt)
	second := <-stream.Readings()
	assert.Equal(t, explicit, second.ReceivedAt, "caller-supplied arrival time is kept")

	deliveredAt := pushedAt.Add(time.Hour)
	tracker := NewTrackerWithClock(source, DefaultOptions(), func() time.Time { return deliveredAt })
	require.NoError(t, stream.Close())
	sub, err := tracker.Start(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, source.Push(Reading{Coordinate: geo.Coordinate{Latitude: 3}}))
	assert.Equal(t, clock, receiveSample(t, sub).ReceivedAt)
}

func TestTracker_SurfacesEachErrorOnce(t *testing.T) {
	source := NewPushSource()
	tracker := NewTracker(source, Options{})

	sub, err := tracker.Start(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, source.Fail(ErrPositionUnavailable))
	require.NoError(t, source.Push(Reading{Coordinate: geo.Coordinate{Latitude: 1}}))

	assert.ErrorIs(t, receiveError(t, sub), ErrPositionUnavailable)
	assert.Equal(t, 1.0, receiveSample(t, sub).Coordinate.Latitude, "stream keeps running after an error")

	select {
	case err := <-sub.Errors():
		t.Fatalf("unexpected second error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTracker_CancelIsIdempotent(t *testing.T) {
	source := NewPushSource()
	tracker := NewTracker(source, DefaultOptions())

	sub, err := tracker.Start(context.Background())
	require.NoError(t, err)
	require.True(t, source.Active())

	assert.NoError(t, sub.Cancel())
	assert.NoError(t, sub.Cancel())
	assert.True(t, sub.Canceled())
	assert.False(t, source.Active(), "cancel releases the platform stream")

	assert.Eventually(t, func() bool {
		_, ok := <-sub.Samples()
		return !ok
	}, time.Second, 10*time.Millisecond, "samples channel closes after cancel")

	assert.ErrorIs(t, source.Push(Reading{}), ErrNoSubscriber)
}

func TestTracker_StartFailsWhenDenied(t *testing.T) {
	source := NewPushSource()
	source.Deny()

	sub, err := NewTracker(source, DefaultOptions()).Start(context.Background())
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestTracker_TimeoutWithoutReadings(t *testing.T) {
	source := NewPushSource()
	tracker := NewTracker(source, Options{Timeout: 20 * time.Millisecond})

	sub, err := tracker.Start(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	assert.ErrorIs(t, receiveError(t, sub), ErrTimeout)

	// A reading still gets through after a timeout
	require.NoError(t, source.Push(Reading{Coordinate: geo.Coordinate{Latitude: 2}}))
	for {
		select {
		case s := <-sub.Samples():
			assert.Equal(t, 2.0, s.Coordinate.Latitude)
			return
		case err := <-sub.Errors():
			require.True(t, errors.Is(err, ErrTimeout))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for sample")
		}
	}
}

func TestPushSource_ReplaysFreshCachedReading(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	source := NewPushSourceWithClock(func() time.Time { return now })

	assert.ErrorIs(t, source.Push(Reading{Coordinate: geo.Coordinate{Latitude: 3}, Timestamp: now.Add(-500 * time.Millisecond)}), ErrNoSubscriber)

	stream, err := source.Subscribe(context.Background(), Options{MaxStaleness: time.Second})
	require.NoError(t, err)

	select {
	case r := <-stream.Readings():
		assert.Equal(t, 3.0, r.Coordinate.Latitude)
	default:
		t.Fatal("fresh cached reading was not replayed")
	}
	require.NoError(t, stream.Close())

	// Too old to replay
	source.Push(Reading{Coordinate: geo.Coordinate{Latitude: 4}, Timestamp: now.Add(-2 * time.Second)})
	stream, err = source.Subscribe(context.Background(), Options{MaxStaleness: time.Second})
	require.NoError(t, err)
	defer stream.Close()

	select {
	case r := <-stream.Readings():
		t.Fatalf("stale reading replayed: %+v", r)
	default:
	}
}

func TestPushSource_SingleSubscriber(t *testing.T) {
	source := NewPushSource()

	stream, err := source.Subscribe(context.Background(), DefaultOptions())
	require.NoError(t, err)

	_, err = source.Subscribe(context.Background(), DefaultOptions())
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	require.NoError(t, stream.Close())
	again, err := source.Subscribe(context.Background(), DefaultOptions())
	require.NoError(t, err)
	again.Close()
}

func TestSimulatedSource_ReplaysPathToEnd(t *testing.T) {
	path := []geo.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 0.01}}
	// 0.6 km per tick over a ~1.1 km path: start, one interior point, end
	source := NewSimulatedSource(path, 600000, time.Millisecond)

	stream, err := source.Subscribe(context.Background(), DefaultOptions())
	require.NoError(t, err)
	defer stream.Close()

	var readings []Reading
	for r := range stream.Readings() {
		readings = append(readings, r)
	}

	require.Len(t, readings, 3)
	assert.Equal(t, path[0], readings[0].Coordinate)
	assert.Equal(t, path[1], readings[len(readings)-1].Coordinate)
	require.NotNil(t, readings[0].Speed)
	assert.Equal(t, 600000.0, *readings[0].Speed)
}

func TestSimulatedSource_PositionAt(t *testing.T) {
	path := []geo.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 0.01}}
	source := NewSimulatedSource(path, 10, time.Second)

	half := source.PositionAt(geo.Distance(path[0], path[1]) / 2)
	assert.InDelta(t, 0.005, half.Longitude, 1e-9)
	assert.Equal(t, path[1], source.PositionAt(100))
	assert.Equal(t, path[0], source.PositionAt(-1))
}

func TestSimulatedSource_EmptyPath(t *testing.T) {
	_, err := NewSimulatedSource(nil, 10, time.Second).Subscribe(context.Background(), DefaultOptions())
	assert.ErrorIs(t, err, ErrPositionUnavailable)
}
