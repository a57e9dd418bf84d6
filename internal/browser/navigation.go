package browser

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// navTracker turns main-frame navigation events into a waitable signal.
// A navigation counts as settled once the main frame has committed a new
// document and that document's load event has fired, both after the last arm.
type navTracker struct {
	mu        sync.Mutex
	committed bool
	settled   bool
	changed   chan struct{}
}

func newNavTracker() *navTracker {
	return &navTracker{changed: make(chan struct{})}
}

// arm forgets earlier navigations. Called right before any action that may navigate.
func (n *navTracker) arm() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.committed = false
	n.settled = false
}

func (n *navTracker) frameCommitted() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.committed = true
	n.settled = false
}

func (n *navTracker) loadFired() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.committed {
		return
	}
	n.settled = true
	close(n.changed)
	n.changed = make(chan struct{})
}

// wait blocks until a navigation has settled since the last arm, then re-arms.
func (n *navTracker) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		n.mu.Lock()
		if n.settled {
			n.committed = false
			n.settled = false
			n.mu.Unlock()
			return nil
		}
		changed := n.changed
		n.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("%w after %v", ErrNavigationTimeout, timeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNavigationTimeout, ctx.Err())
		}
	}
}
