package call

import (
	"sync"

	"github.com/nmezh/huddle/internal/core"
)

// LocalStream models the outgoing track set. It is shared read-many across
// all members' attachment logic but mutated only by the session (device
// switch, mute toggle, screen-share toggle), always followed by a
// replace-track broadcast, so members only ever see one old or one new track
// per kind.
type LocalStream struct {
	mu     sync.RWMutex
	tracks []core.LocalTrack
}

func NewLocalStream(tracks []core.LocalTrack) *LocalStream {
	return &LocalStream{tracks: tracks}
}

// Tracks returns a snapshot of the current track set.
func (s *LocalStream) Tracks() []core.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.LocalTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// TrackOfKind returns the first track of the given kind, or nil.
func (s *LocalStream) TrackOfKind(kind core.MediaKind) core.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// SetEnabled flips the mute flag on every track of the kind and reports
// whether any track matched.
func (s *LocalStream) SetEnabled(kind core.MediaKind, enabled bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := false
	for _, t := range s.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
			found = true
		}
	}
	return found
}

// Replace swaps the track of t's kind for t and returns the replaced track,
// or nil when the kind was not present (t is then appended).
func (s *LocalStream) Replace(t core.LocalTrack) core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, old := range s.tracks {
		if old.Kind() == t.Kind() {
			s.tracks[i] = t
			return old
		}
	}
	s.tracks = append(s.tracks, t)
	return nil
}

// StripKind removes and returns all tracks of the kind.
func (s *LocalStream) StripKind(kind core.MediaKind) []core.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tracks[:0]
	var removed []core.LocalTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	s.tracks = kept
	return removed
}

// StopAll stops every track. Used on session destruction and on stream
// rebuilds.
func (s *LocalStream) StopAll() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()
	for _, t := range tracks {
		_ = t.Stop()
	}
}
