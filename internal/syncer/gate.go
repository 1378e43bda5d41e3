package syncer

import (
	"context"
	"sync"
)

// controlGate carries the pause and cancel signals into the record loop.
// The loop calls checkpoint at every record boundary; control actions flip
// the flags from another goroutine.
type controlGate struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	resumeCh  chan struct{} // open while paused, closed on resume
	cancelCh  chan struct{} // closed on cancel
}

func newControlGate() *controlGate {
	return &controlGate{cancelCh: make(chan struct{})}
}

// Pause flags the gate. The loop blocks at its next checkpoint. Pausing an
// already paused gate is a no-op.
func (g *controlGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused || g.cancelled {
		return
	}

	g.paused = true
	g.resumeCh = make(chan struct{})
}

// Resume clears the pause flag and wakes any blocked checkpoint.
func (g *controlGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		return
	}

	g.paused = false
	close(g.resumeCh)
}

// Cancel trips the terminal flag and wakes any blocked checkpoint. The next
// checkpoint returns ErrCancelled.
func (g *controlGate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancelled {
		return
	}

	g.cancelled = true
	close(g.cancelCh)

	if g.paused {
		g.paused = false
		close(g.resumeCh)
	}
}

// Paused reports the pause flag.
func (g *controlGate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.paused
}

// Cancelled reports the terminal flag without blocking.
func (g *controlGate) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.cancelled
}

// checkpoint honors the control signals: cancel first, then pause. A paused
// checkpoint blocks until resume, cancel, or context death.
func (g *controlGate) checkpoint(ctx context.Context) error {
	for {
		g.mu.Lock()

		if g.cancelled {
			g.mu.Unlock()

			return ErrCancelled
		}

		if !g.paused {
			g.mu.Unlock()

			return nil
		}

		resumeCh := g.resumeCh
		g.mu.Unlock()

		select {
		case <-resumeCh:
			// Re-check: the wake may have been a cancel.
		case <-g.cancelCh:
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
