package tracking

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadySubscribed is returned when a push source already has a live stream
	ErrAlreadySubscribed = errors.New("location source already has an active subscription")
	// ErrNoSubscriber is returned when a reading is pushed with no live stream
	ErrNoSubscriber = errors.New("no active location subscription")
	// ErrBufferFull is returned when the subscriber has fallen too far behind
	ErrBufferFull = errors.New("location stream buffer full")
)

const pushBufferSize = 64

// PushSource is a Source fed by an external producer, typically HTTP position posts from a
// client device. At most one stream is active at a time.
type PushSource struct {
	mu     sync.Mutex
	now    func() time.Time
	last   *Reading
	stream *pushStream
	denied bool
}

// NewPushSource creates an empty push source
func NewPushSource() *PushSource {
	return NewPushSourceWithClock(time.Now)
}

// NewPushSourceWithClock creates a push source that judges staleness using now
func NewPushSourceWithClock(now func() time.Time) *PushSource {
	return &PushSource{now: now}
}

// Deny makes subsequent Subscribe calls fail with ErrPermissionDenied
func (p *PushSource) Deny() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = true
}

// Subscribe opens a stream. A cached reading younger than opts.MaxStaleness is replayed first.
func (p *PushSource) Subscribe(ctx context.Context, opts Options) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denied {
		return nil, ErrPermissionDenied
	}
	if p.stream != nil && !p.stream.isClosed() {
		return nil, ErrAlreadySubscribed
	}

	stream := &pushStream{
		readings: make(chan Reading, pushBufferSize),
		errors:   make(chan error, pushBufferSize),
	}
	if p.last != nil && opts.MaxStaleness > 0 && p.now().Sub(p.last.Timestamp) <= opts.MaxStaleness {
		stream.readings <- *p.last
	}
	p.stream = stream

	return stream, nil
}

// Push delivers a reading to the active stream and caches it for future subscribers.
// Readings without an arrival time are stamped with the source clock.
func (p *PushSource) Push(r Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = p.now()
	}

	cached := r
	p.last = &cached

	if p.stream == nil {
		return ErrNoSubscriber
	}
	return p.stream.sendReading(r)
}

// Fail delivers a source error to the active stream
func (p *PushSource) Fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNoSubscriber
	}
	return p.stream.sendError(err)
}

// Active reports whether a stream is currently open
func (p *PushSource) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil && !p.stream.isClosed()
}

type pushStream struct {
	mu       sync.Mutex
	readings chan Reading
	errors   chan error
	closed   bool
}

func (s *pushStream) Readings() <-chan Reading { return s.readings }
func (s *pushStream) Errors() <-chan error     { return s.errors }

func (s *pushStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.readings)
	close(s.errors)
	return nil
}

func (s *pushStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *pushStream) sendReading(r Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSubscriber
	}
	select {
	case s.readings <- r:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *pushStream) sendError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNoSubscriber
	}
	select {
	case s.errors <- err:
		return nil
	default:
		return ErrBufferFull
	}
}
