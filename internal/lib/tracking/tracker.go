// Package tracking wraps a continuous location source into a cancellable stream of position samples.
//
// The caller owns the Subscription returned by Tracker.Start and must call Cancel on every exit
// path. The tracker performs no implicit cleanup: an uncancelled subscription keeps the
// underlying platform stream open.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker starts subscriptions against a location source
type Tracker struct {
	source Source
	opts   Options
	now    func() time.Time
}

// NewTracker creates a tracker for source with the given subscription options
func NewTracker(source Source, opts Options) *Tracker {
	return NewTrackerWithClock(source, opts, time.Now)
}

// NewTrackerWithClock creates a tracker that stamps samples using now
func NewTrackerWithClock(source Source, opts Options, now func() time.Time) *Tracker {
	return &Tracker{source: source, opts: opts, now: now}
}

// Start subscribes to the location source. No retry is attempted if the source refuses.
func (t *Tracker) Start(ctx context.Context) (*Subscription, error) {
	stream, err := t.source.Subscribe(ctx, t.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to location source: %w", err)
	}

	sub := &Subscription{
		stream:  stream,
		samples: make(chan PositionSample, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}
	go sub.run(t.opts.Timeout, t.now)

	return sub, nil
}

// Subscription is a live sample stream with an explicit cancellation handle
type Subscription struct {
	stream   Stream
	samples  chan PositionSample
	errors   chan error
	done     chan struct{}
	once     sync.Once
	canceled atomic.Bool
}

// Samples delivers normalized samples in arrival order. Closed after Cancel.
func (s *Subscription) Samples() <-chan PositionSample {
	return s.samples
}

// Errors delivers each source error once, plus ErrTimeout for every timeout window without a reading.
// Closed after Cancel.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Cancel releases the underlying stream. Only the first call has any effect; later calls return nil.
func (s *Subscription) Cancel() error {
	var err error
	s.once.Do(func() {
		s.canceled.Store(true)
		close(s.done)
		err = s.stream.Close()
	})
	return err
}

// Canceled reports whether Cancel has been called
func (s *Subscription) Canceled() bool {
	return s.canceled.Load()
}

func (s *Subscription) run(timeout time.Duration, now func() time.Time) {
	defer close(s.errors)
	defer close(s.samples)

	var (
		timer    *time.Timer
		timeoutC <-chan time.Time
	)
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	readings := s.stream.Readings()
	errs := s.stream.Errors()

	for readings != nil || errs != nil {
		select {
		case <-s.done:
			return

		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			if timer != nil {
				resetTimer(timer, timeout)
			}
			select {
			case s.samples <- Normalize(r, now()):
			case <-s.done:
				return
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.deliverError(err)

		case <-timeoutC:
			s.deliverError(ErrTimeout)
			timer.Reset(timeout)
		}
	}

	// Source ended on its own; hold the channels open until the owner cancels
	<-s.done
}

func (s *Subscription) deliverError(err error) {
	select {
	case s.errors <- err:
	case <-s.done:
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
