// Package unthreader optionally serializes side-effectful steps across
// a job's workers, so that cache misses and HTTP requests can be forced
// into single file or ratelimited regardless of worker count.
package unthreader

import (
	"sync"
	"time"
)

// Mode selects how Unthread behaves.
type Mode int

const (
	// Off performs no serialization; guards are free.
	Off Mode = iota
	// Serialize forces callers into single file across workers.
	Serialize
	// Ratelimit is Serialize plus a minimum interval between the starts
	// of consecutive guard holds.
	Ratelimit
)

// Unthreader is shared by all workers of a job.
type Unthreader struct {
	mode        Mode
	minInterval time.Duration

	mu        sync.Mutex
	lastStart time.Time
}

// New builds an Unthreader. minInterval is only read in Ratelimit mode.
func New(mode Mode, minInterval time.Duration) *Unthreader {
	return &Unthreader{mode: mode, minInterval: minInterval}
}

// NewOff returns a no-op Unthreader.
func NewOff() *Unthreader { return New(Off, 0) }

// Mode returns the configured mode.
func (u *Unthreader) Mode() Mode { return u.mode }

// Handle is a task's re-entrant view of the Unthreader. A component
// that already holds the guard may acquire it again without
// deadlocking; only the outermost release unlocks. A Handle belongs to
// a single task and must not be shared across goroutines.
type Handle struct {
	u     *Unthreader
	depth int
}

// NewHandle creates the per-task handle.
func NewHandle(u *Unthreader) *Handle {
	return &Handle{u: u}
}

// Acquire takes the guard (a no-op in Off mode or when already held)
// and returns the matching release.
func (h *Handle) Acquire() (release func()) {
	if h == nil || h.u == nil || h.u.mode == Off {
		return func() {}
	}
	h.depth++
	if h.depth > 1 {
		return func() { h.depth-- }
	}

	h.u.mu.Lock()
	if h.u.mode == Ratelimit {
		if wait := h.u.minInterval - time.Since(h.u.lastStart); wait > 0 && !h.u.lastStart.IsZero() {
			time.Sleep(wait)
		}
		h.u.lastStart = time.Now()
	}
	return func() {
		h.depth--
		h.u.mu.Unlock()
	}
}
