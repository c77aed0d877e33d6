package call

import (
	"sync"
	"time"
)

// Deferred is one scheduled action with a cancellation token. A superseding
// event cancels the token deterministically; an uncancelled firing is the
// trigger for recovery, not an error.
type Deferred struct {
	timer *time.Timer

	mu       sync.Mutex
	settled  bool
	canceled bool
}

// Schedule runs fn after d unless cancelled first. fn runs at most once.
func Schedule(d time.Duration, fn func()) *Deferred {
	a := &Deferred{}
	a.timer = time.AfterFunc(d, func() {
		a.mu.Lock()
		if a.canceled {
			a.mu.Unlock()
			return
		}
		a.settled = true
		a.mu.Unlock()
		fn()
	})
	return a
}

// Cancel stops the action if it has not fired yet. Safe to call repeatedly
// and from any goroutine.
func (a *Deferred) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled || a.canceled {
		return
	}
	a.canceled = true
	a.timer.Stop()
}

// Fired reports whether the action has run.
func (a *Deferred) Fired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled
}
