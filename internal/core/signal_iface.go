package core

import "context"

// SignalSender delivers call signaling to remote instances over the chat
// transport. Delivery is best effort: no ordering, no retries, possible
// duplicates. The engine is built to reconcile whatever arrives.
type SignalSender interface {
	// AnnounceJoin and AnnounceLeave address every participant of the call.
	AnnounceJoin(ctx context.Context, call CallID, jt JoinType) error
	AnnounceLeave(ctx context.Context, call CallID) error

	SendOffer(ctx context.Context, call CallID, to MemberAddr, p OfferPayload) error
	SendAnswer(ctx context.Context, call CallID, to MemberAddr, p AnswerPayload) error

	// SendCandidates may buffer; the transport flushes batches on a short
	// debounce or when FlushCandidates reports local gathering completed.
	SendCandidates(ctx context.Context, call CallID, to MemberAddr, p CandidatesPayload) error
	FlushCandidates(to MemberAddr, peer PeerID)
}

// SignalHandler is the engine side of the transport: inbound messages are
// routed here after envelope decoding. Handlers must tolerate duplicates,
// reordering and messages for peers that no longer exist.
type SignalHandler interface {
	HandleJoin(from MemberAddr, p JoinPayload)
	HandleLeave(from MemberAddr)
	HandleOffer(from MemberAddr, p OfferPayload)
	HandleAnswer(from MemberAddr, p AnswerPayload)
	HandleCandidates(from MemberAddr, p CandidatesPayload)
}
