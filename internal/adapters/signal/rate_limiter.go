package signal

import (
	"sync"
	"time"

	"github.com/nmezh/huddle/internal/core"
)

// senderRateLimiter caps inbound envelopes per remote member over a sliding
// window. Signaling is chatty around renegotiation but bounded; a flood
// means a broken or hostile remote and gets dropped.
type senderRateLimiter struct {
	mu       sync.Mutex
	history  map[core.MemberAddr][]time.Time
	limit    int
	interval time.Duration
}

func newSenderRateLimiter(limit int, interval time.Duration) *senderRateLimiter {
	return &senderRateLimiter{
		history:  make(map[core.MemberAddr][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *senderRateLimiter) Allow(addr core.MemberAddr) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	events := rl.history[addr]
	kept := events[:0]
	for _, t := range events {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.limit {
		rl.history[addr] = kept
		return false
	}
	rl.history[addr] = append(kept, now)
	return true
}

func (rl *senderRateLimiter) Forget(addr core.MemberAddr) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, addr)
}
