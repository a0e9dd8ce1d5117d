package timectrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrFrameOverrun reports that an allocation cycle was still running (or ran
// longer than the frame period) when the next frame tick fired. The
// allocation model is strictly synchronous, so an overrun is a scheduling
// violation, never something to paper over by overlapping cycles.
var ErrFrameOverrun = errors.New("frame cycle overran its period")

// CycleFunc is invoked once per frame tick with the frame number, starting
// at 1. It runs synchronously on the timer goroutine.
type CycleFunc func(ctx context.Context, frame uint) error

// FrameTimer drives one controller instance: it fires a fixed-period frame
// tick and runs the cycle callback to completion before the next tick may be
// served. Multiple controller instances get one FrameTimer each.
type FrameTimer struct {
	period time.Duration

	mu      sync.Mutex
	frame   uint
	inCycle bool
}

// NewFrameTimer constructs a timer with the given frame period.
func NewFrameTimer(period time.Duration) (*FrameTimer, error) {
	if period <= 0 {
		return nil, fmt.Errorf("frame period must be positive, got %v", period)
	}
	return &FrameTimer{period: period}, nil
}

// Frame returns the number of the last frame that started.
func (ft *FrameTimer) Frame() uint {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.frame
}

// Run ticks until the context is cancelled, invoking cycle once per frame.
// It returns nil on cancellation. A cycle error stops the timer and is
// returned as-is; a cycle that is still marked running when the next tick is
// served stops the timer with ErrFrameOverrun.
func (ft *FrameTimer) Run(ctx context.Context, cycle CycleFunc) error {
	ticker := time.NewTicker(ft.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ft.mu.Lock()
			if ft.inCycle {
				ft.mu.Unlock()
				return fmt.Errorf("%w: frame %d", ErrFrameOverrun, ft.frame)
			}
			ft.inCycle = true
			ft.frame++
			frame := ft.frame
			ft.mu.Unlock()

			start := time.Now()
			err := cycle(ctx, frame)
			elapsed := time.Since(start)

			ft.mu.Lock()
			ft.inCycle = false
			ft.mu.Unlock()

			if err != nil {
				return err
			}
			if elapsed > ft.period {
				return fmt.Errorf("%w: frame %d took %v with period %v",
					ErrFrameOverrun, frame, elapsed, ft.period)
			}
		}
	}
}
