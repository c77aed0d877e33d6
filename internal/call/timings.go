// Package call implements the group-call negotiation engine: per-member
// connection lifecycle, offer/answer/candidate sequencing, reconciliation of
// redundant and stale links, and presenter selection. Signaling delivery is
// best effort and unordered, so everything here is built to converge rather
// than to assume.
package call

import (
	"math/rand"
	"time"
)

// Timings groups the engine's timeout constants. The values are empirically
// chosen; they are kept configurable instead of derived.
type Timings struct {
	// StaleAfter is how long a link may sit unconnected before it is
	// considered stale and eligible for reaping.
	StaleAfter time.Duration
	// UnavailableAfter is how long an offer waits for an answer or a
	// connection before the member is flagged unavailable.
	UnavailableAfter time.Duration
	// GoneAfter is how long a member may stay without any link before it is
	// dropped entirely.
	GoneAfter time.Duration
	// InviteTTL is how long incoming-call invitations survive without a
	// refreshing announcement.
	InviteTTL time.Duration
	// ReconcileEvery is the per-member reconciliation cadence.
	ReconcileEvery time.Duration
	// JitterMin/JitterMax bound the randomized delay in front of destructive
	// reconciliation actions, so both ends of a race do not act in lockstep.
	JitterMin time.Duration
	JitterMax time.Duration
	// PresenterEvery is the presenter policy cadence; PresenterHold is the
	// post-switch hysteresis.
	PresenterEvery time.Duration
	PresenterHold  time.Duration
	// DethroneMargin is the smoothed-loudness lead a challenger needs to
	// replace the current presenter.
	DethroneMargin float64
}

func DefaultTimings() Timings {
	return Timings{
		StaleAfter:       30 * time.Second,
		UnavailableAfter: 30 * time.Second,
		GoneAfter:        60 * time.Second,
		InviteTTL:        45 * time.Second,
		ReconcileEvery:   time.Second,
		JitterMin:        time.Second,
		JitterMax:        4 * time.Second,
		PresenterEvery:   2 * time.Second,
		PresenterHold:    2 * time.Second,
		DethroneMargin:   0.01,
	}
}

// jitter returns a randomized delay in [JitterMin, JitterMax].
func (t Timings) jitter() time.Duration {
	span := t.JitterMax - t.JitterMin
	if span <= 0 {
		return t.JitterMin
	}
	return t.JitterMin + time.Duration(rand.Int63n(int64(span)))
}
