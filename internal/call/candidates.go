package call

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/nmezh/huddle/internal/core"
)

// CandidateQueue buffers remote ICE candidates that arrive before the
// addressed peer connection is ready to consume them. Entries are created
// lazily on first arrival and removed on drain, so a candidate is either
// applied or queued, never dropped.
type CandidateQueue struct {
	mu     sync.Mutex
	byPeer map[core.PeerID][]webrtc.ICECandidateInit
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{byPeer: make(map[core.PeerID][]webrtc.ICECandidateInit)}
}

// Enqueue appends candidates for the given peer id in arrival order.
func (q *CandidateQueue) Enqueue(id core.PeerID, cands []webrtc.ICECandidateInit) {
	if len(cands) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byPeer[id] = append(q.byPeer[id], cands...)
}

// Drain removes and returns everything queued for the peer id, preserving
// FIFO order. The second return is false when nothing was queued.
func (q *CandidateQueue) Drain(id core.PeerID) ([]webrtc.ICECandidateInit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cands, ok := q.byPeer[id]
	if !ok {
		return nil, false
	}
	delete(q.byPeer, id)
	return cands, true
}

// Len reports the number of peer ids with queued candidates.
func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byPeer)
}
