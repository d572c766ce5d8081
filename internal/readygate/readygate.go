// Package readygate implements the three-signal "all stores ready"
// and-gate used at startup: the sequence-number map, removed-payloads
// set, and protected-entry store each load from disk independently, and
// a node isn't ready to serve traffic until all three have finished.
// This models that composition with a plain counter and no
// reactive-library dependency.
package readygate

import "sync"

// Gate fires its callback exactly once, after all of its signals have
// reported ready.
type Gate struct {
	mu       sync.Mutex
	remaining int
	fired    bool
	onReady  func()
}

// New constructs a Gate that waits for n independent signals before
// calling onReady. Calling Signal more than n times is a no-op after the
// gate has fired.
func New(n int, onReady func()) *Gate {
	if n < 0 {
		n = 0
	}
	g := &Gate{remaining: n, onReady: onReady}
	if n == 0 {
		g.fire()
	}
	return g
}

// Signal reports that one of the awaited stores finished loading.
func (g *Gate) Signal() {
	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		return
	}
	g.remaining--
	ready := g.remaining <= 0
	g.mu.Unlock()
	if ready {
		g.fire()
	}
}

func (g *Gate) fire() {
	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		return
	}
	g.fired = true
	cb := g.onReady
	g.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Ready reports whether the gate has already fired.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}
