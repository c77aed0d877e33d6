package core

// Surface is the presentation side of the client: it renders nothing here,
// it only receives per-member notifications and a render request. User
// intents (join, leave, mute, pin, share) flow back into the engine through
// the session's public methods.
type Surface interface {
	// MemberAdded / MemberRemoved bracket a member view's lifetime.
	MemberAdded(addr MemberAddr)
	MemberRemoved(addr MemberAddr)

	StreamUpdated(addr MemberAddr)
	StreamingChanged(addr MemberAddr, streaming bool)
	AudioOnlyChanged(addr MemberAddr, audioOnly bool)
	PinnedChanged(addr MemberAddr, pinned bool)
	SilencedChanged(addr MemberAddr, silenced bool)
	// StatusChanged carries the per-member indicator: calling, unavailable,
	// or an ICE connection state string.
	StatusChanged(addr MemberAddr, status string)

	// PresentMember asks the surface to foreground a member.
	PresentMember(addr MemberAddr)

	// IncomingCall announces an invitation awaiting accept/ignore.
	IncomingCall(addr MemberAddr, video bool)
	InvitesExpired()

	// StatusMessage shows a non-blocking call-wide status line.
	StatusMessage(text string)
}
