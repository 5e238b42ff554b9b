package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeshield/pkg/telemetry"
)

// DefaultMaxConcurrency bounds simultaneously admitted scans.
const DefaultMaxConcurrency = 3

// Counter is the shared in-flight counter behind a Gate.
type Counter interface {
	// TryAcquire takes a slot if fewer than max are held.
	TryAcquire(ctx context.Context, max int) (bool, error)
	Release(ctx context.Context) error
	Value(ctx context.Context) (int, error)
}

// AtomicCounter is a process-local Counter.
type AtomicCounter struct {
	n atomic.Int64
}

func (c *AtomicCounter) TryAcquire(_ context.Context, max int) (bool, error) {
	for {
		cur := c.n.Load()
		if cur >= int64(max) {
			return false, nil
		}
		if c.n.CompareAndSwap(cur, cur+1) {
			return true, nil
		}
	}
}

func (c *AtomicCounter) Release(context.Context) error {
	c.n.Add(-1)
	return nil
}

func (c *AtomicCounter) Value(context.Context) (int, error) {
	return int(c.n.Load()), nil
}

// Gate admits at most Max concurrent holders and rejects the rest with a BusyError.
type Gate struct {
	counter Counter
	max     int
}

// NewGate returns a gate over counter. A nil counter selects an AtomicCounter.
func NewGate(max int, counter Counter) *Gate {
	if max <= 0 {
		max = DefaultMaxConcurrency
	}
	if counter == nil {
		counter = &AtomicCounter{}
	}
	return &Gate{counter: counter, max: max}
}

// Acquire takes a slot. The returned release func is safe to call more than
// once and must be called on every exit path.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	ok, err := g.counter.TryAcquire(ctx, g.max)
	if err != nil {
		return nil, err
	}
	if !ok {
		telemetry.ScanRejected("busy")
		return nil, &BusyError{Max: g.max}
	}
	telemetry.ScanAdmitted()

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = g.counter.Release(releaseCtx)
			telemetry.ScanReleased()
		})
	}, nil
}

// InFlight reports the number of held slots.
func (g *Gate) InFlight(ctx context.Context) int {
	n, err := g.counter.Value(ctx)
	if err != nil {
		return 0
	}
	return n
}

// Max returns the configured capacity.
func (g *Gate) Max() int { return g.max }
