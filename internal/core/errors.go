package core

import "errors"

// Protocol invariant violations. These abort the local operation and are
// logged as programming-level failures, never retried and never shown to the
// user beyond a status line.
var (
	ErrDuplicateMember    = errors.New("member already exists for address")
	ErrNotAnOffer         = errors.New("remote description is not an offer")
	ErrTracksAlreadyAdded = errors.New("tracks already added to peer link")
	ErrNoTransceiver      = errors.New("no transceiver available for track replacement")
)
