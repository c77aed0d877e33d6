package core

import (
	"github.com/pion/webrtc/v4"
)

// LocalTrack is one outgoing media track with a mute flag. Disabling a track
// keeps it in the outgoing stream but excludes it from attachment; re-enabling
// is then a replace-track pass instead of a renegotiation from scratch.
type LocalTrack interface {
	ID() string
	Kind() MediaKind
	Enabled() bool
	SetEnabled(bool)
	// Unwrap exposes the underlying transport track for attachment.
	Unwrap() webrtc.TrackLocal
	// Stop releases the capture resource behind the track.
	Stop() error
}

// Transceiver is one send/receive channel pairing of a peer connection,
// scoped to a single media kind.
type Transceiver interface {
	Kind() MediaKind
	// CanRecv reports whether the transceiver is able to receive media.
	CanRecv() bool
	// ReplaceSendTrack swaps the sender's outgoing track and makes sure the
	// transceiver both sends and receives afterwards.
	ReplaceSendTrack(t LocalTrack) error
}

// RTCConn abstracts one underlying peer connection.
// Owned by exactly one PeerLink; the link must Close() it.
type RTCConn interface {
	// Close stops all underlying media resources, receivers included.
	Close() error

	AddICECandidate(webrtc.ICECandidateInit) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// CreateAnswer produces an answer for the applied remote offer and
	// installs it as the local description. Candidates trickle separately.
	CreateAnswer() (webrtc.SessionDescription, error)

	AddTrack(t LocalTrack) error
	// AddRecvTransceiver adds a receive-only transceiver of the given kind so
	// the remote side has somewhere to send media of that kind.
	AddRecvTransceiver(kind MediaKind) error
	Transceivers() []Transceiver

	ICEState() webrtc.ICEConnectionState

	// OnICEStateChange registers a state listener and returns its disposer.
	// The disposer must be safe to call exactly once.
	OnICEStateChange(func(webrtc.ICEConnectionState)) (unsubscribe func())
	// OnICECandidate reports locally gathered candidates; a nil candidate
	// signals that gathering completed.
	OnICECandidate(func(*webrtc.ICECandidateInit))
	// OnLocalOffer fires whenever track changes made the connection
	// renegotiate: the transport creates the offer and installs it locally,
	// the callback only has to ship it to the remote side.
	OnLocalOffer(func(webrtc.SessionDescription))
	// OnTrack fires when a remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
}

// ConnFactory creates a fresh peer connection for a new PeerLink.
type ConnFactory func() (RTCConn, error)
