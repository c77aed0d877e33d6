package call

import (
	"time"

	"github.com/nmezh/huddle/internal/core"
)

// MemberLevel pairs a member with its smoothed loudness.
type MemberLevel struct {
	Addr  core.MemberAddr
	Level float64
}

// PresenterInput is everything the policy looks at for one evaluation.
type PresenterInput struct {
	Local   core.MemberAddr
	Current core.MemberAddr
	// Since is when Current last changed; switches within Hold are skipped.
	Since   time.Time
	Pinned  core.MemberAddr
	Remotes []MemberLevel
	Now     time.Time
}

// PresenterSelector picks which member's media is foregrounded. Stateless:
// the session owns current/pinned and feeds them back in.
type PresenterSelector struct {
	// Margin is the loudness lead a challenger needs over the incumbent.
	Margin float64
	// Hold suppresses switches right after a previous one.
	Hold time.Duration
}

// Select returns the member to present and whether that is a change. A
// pinned member is never displaced until unpinned; with one remote that
// remote is always presented; with several, the loudest wins but must beat
// the incumbent by Margin to avoid flicker on near-equal levels.
func (s PresenterSelector) Select(in PresenterInput) (core.MemberAddr, bool) {
	if !in.Pinned.IsZero() {
		return in.Pinned, in.Pinned != in.Current
	}
	if !in.Current.IsZero() && in.Now.Sub(in.Since) < s.Hold {
		return in.Current, false
	}

	switch len(in.Remotes) {
	case 0:
		return in.Local, in.Local != in.Current
	case 1:
		return in.Remotes[0].Addr, in.Remotes[0].Addr != in.Current
	}

	var loudest MemberLevel
	var incumbent *MemberLevel
	for i, r := range in.Remotes {
		if r.Level > loudest.Level || loudest.Addr.IsZero() {
			loudest = r
		}
		if r.Addr == in.Current {
			incumbent = &in.Remotes[i]
		}
	}

	// The local member stays out of the running unless it is already
	// presented; then it holds until a remote takes over.
	if incumbent != nil && loudest.Level-incumbent.Level < s.Margin {
		return in.Current, false
	}
	return loudest.Addr, loudest.Addr != in.Current
}
