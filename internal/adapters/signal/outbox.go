package signal

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nmezh/huddle/internal/core"
)

const (
	// debounceQuiet delays a batch while more candidates keep arriving;
	// debounceCap bounds the total delay for a steadily trickling gatherer.
	debounceQuiet = 200 * time.Millisecond
	debounceCap   = 600 * time.Millisecond
)

type outboxKey struct {
	to   core.MemberAddr
	peer core.PeerID
}

type outboxEntry struct {
	call       core.CallID
	candidates []webrtc.ICECandidateInit
	quiet      *time.Timer
	cap        *time.Timer
}

// candidateOutbox batches trickled ICE candidates per (member, peer link)
// destination. A batch ships after a quiet period, at the cap, or when the
// engine reports gathering completed.
type candidateOutbox struct {
	send func(typ string, call core.CallID, to *core.MemberAddr, payload any) error

	mu      sync.Mutex
	entries map[outboxKey]*outboxEntry
	stopped bool
}

func newCandidateOutbox(send func(string, core.CallID, *core.MemberAddr, any) error) *candidateOutbox {
	return &candidateOutbox{
		send:    send,
		entries: make(map[outboxKey]*outboxEntry),
	}
}

func (o *candidateOutbox) add(call core.CallID, to core.MemberAddr, peer core.PeerID, cands []webrtc.ICECandidateInit) {
	if len(cands) == 0 {
		return
	}
	key := outboxKey{to: to, peer: peer}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	e, ok := o.entries[key]
	if !ok {
		e = &outboxEntry{call: call}
		e.cap = time.AfterFunc(debounceCap, func() { o.flush(to, peer) })
		o.entries[key] = e
	}
	e.candidates = append(e.candidates, cands...)
	if e.quiet != nil {
		e.quiet.Stop()
	}
	e.quiet = time.AfterFunc(debounceQuiet, func() { o.flush(to, peer) })
}

// flush ships the pending batch for the key, if any.
func (o *candidateOutbox) flush(to core.MemberAddr, peer core.PeerID) {
	key := outboxKey{to: to, peer: peer}

	o.mu.Lock()
	e, ok := o.entries[key]
	if ok {
		delete(o.entries, key)
		e.quiet.Stop()
		e.cap.Stop()
	}
	o.mu.Unlock()
	if !ok || len(e.candidates) == 0 {
		return
	}

	_ = o.send(core.SignalCandidates, e.call, &to, core.CandidatesPayload{
		PeerID:     peer,
		Candidates: e.candidates,
	})
}

func (o *candidateOutbox) stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	for key, e := range o.entries {
		if e.quiet != nil {
			e.quiet.Stop()
		}
		e.cap.Stop()
		delete(o.entries, key)
	}
}
