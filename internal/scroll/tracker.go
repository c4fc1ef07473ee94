// Package scroll answers "is the viewport near the bottom" from
// viewport geometry alone, so message mutations never force scroll
// jumps.
package scroll

import "sync"

// DefaultNearBottomPx is the distance from the bottom, in pixels,
// within which the viewport counts as "at bottom".
const DefaultNearBottomPx = 100

// Viewport exposes the scrollable element's geometry. All values are
// in pixels.
type Viewport interface {
	ScrollTop() float64
	ScrollHeight() float64
	ClientHeight() float64
}

// Snapshot is one consistent read of the scroll position. Readers
// always get the whole triple from a single recompute.
type Snapshot struct {
	ScrollTop          float64
	DistanceFromBottom float64
	IsNearBottom       bool
}

// Tracker derives bottom proximity from a viewport. Attach one
// viewport per active chat; Detach before swapping so no stale
// viewport is ever read.
type Tracker struct {
	threshold float64

	mu   sync.RWMutex
	vp   Viewport
	snap Snapshot
}

func NewTracker(thresholdPx float64) *Tracker {
	if thresholdPx <= 0 {
		thresholdPx = DefaultNearBottomPx
	}
	return &Tracker{
		threshold: thresholdPx,
		snap:      Snapshot{IsNearBottom: true},
	}
}

// Attach binds a viewport and computes the initial snapshot.
func (t *Tracker) Attach(vp Viewport) {
	t.mu.Lock()
	t.vp = vp
	t.snap = t.compute(vp)
	t.mu.Unlock()
}

// Detach releases the viewport. Subsequent OnScroll calls are no-ops
// and the last snapshot stays readable.
func (t *Tracker) Detach() {
	t.mu.Lock()
	t.vp = nil
	t.mu.Unlock()
}

// OnScroll recomputes the snapshot. The UI layer calls this on every
// scroll tick of the attached viewport.
func (t *Tracker) OnScroll() {
	t.mu.Lock()
	if t.vp != nil {
		t.snap = t.compute(t.vp)
	}
	t.mu.Unlock()
}

// Snapshot returns the latest consistent position reading.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Tracker) compute(vp Viewport) Snapshot {
	distance := vp.ScrollHeight() - vp.ClientHeight() - vp.ScrollTop()
	if distance < 0 {
		distance = 0
	}
	return Snapshot{
		ScrollTop:          vp.ScrollTop(),
		DistanceFromBottom: distance,
		IsNearBottom:       distance <= t.threshold,
	}
}
