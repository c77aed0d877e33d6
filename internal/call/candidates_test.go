package call

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmezh/huddle/internal/core"
)

func cand(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestCandidateQueuePreservesOrder(t *testing.T) {
	q := NewCandidateQueue()
	id := core.PeerID("p1")

	q.Enqueue(id, []webrtc.ICECandidateInit{cand("a"), cand("b")})
	q.Enqueue(id, []webrtc.ICECandidateInit{cand("c")})

	got, ok := q.Drain(id)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Candidate)
	assert.Equal(t, "b", got[1].Candidate)
	assert.Equal(t, "c", got[2].Candidate)
}

func TestCandidateQueueDrainRemoves(t *testing.T) {
	q := NewCandidateQueue()
	id := core.PeerID("p1")
	q.Enqueue(id, []webrtc.ICECandidateInit{cand("a")})

	_, ok := q.Drain(id)
	require.True(t, ok)

	_, ok = q.Drain(id)
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestCandidateQueueEmptyEnqueueIsNoop(t *testing.T) {
	q := NewCandidateQueue()
	q.Enqueue(core.PeerID("p1"), nil)
	assert.Zero(t, q.Len())
}

func TestCandidateQueueIndependentPeers(t *testing.T) {
	q := NewCandidateQueue()
	q.Enqueue(core.PeerID("p1"), []webrtc.ICECandidateInit{cand("a")})
	q.Enqueue(core.PeerID("p2"), []webrtc.ICECandidateInit{cand("b")})

	got, ok := q.Drain(core.PeerID("p1"))
	require.True(t, ok)
	assert.Equal(t, "a", got[0].Candidate)
	assert.Equal(t, 1, q.Len())
}
