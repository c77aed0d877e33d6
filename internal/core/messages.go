package core

import "github.com/pion/webrtc/v4"

// Signal message kinds exchanged with remote instances over the chat
// transport. The envelope framing is the transport adapter's concern; these
// are the payload shapes the call engine produces and consumes.
const (
	SignalJoin        = "join"
	SignalLeave       = "leave"
	SignalOffer       = "offer"
	SignalAcceptOffer = "acceptOffer"
	SignalCandidates  = "iceCandidates"
)

type JoinPayload struct {
	Type JoinType `json:"type"`
}

type LeavePayload struct{}

type OfferPayload struct {
	PeerID PeerID                    `json:"peerId"`
	Offer  webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	PeerID PeerID                    `json:"peerId"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type CandidatesPayload struct {
	PeerID     PeerID                    `json:"peerId"`
	Candidates []webrtc.ICECandidateInit `json:"icecandidates"`
}
