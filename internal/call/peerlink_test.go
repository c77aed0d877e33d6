package call

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmezh/huddle/internal/core"
)

func testAddr(user, device string) core.MemberAddr {
	return core.MemberAddr{User: core.UserID(user), Device: core.DeviceID(device)}
}

func newTestLink(clock *manualClock) (*PeerLink, *fakeConn) {
	conn := newFakeConn()
	link := newPeerLink(core.PeerID("p1"), testAddr("u1", "d1"), conn, clock.Now)
	link.bindStateListener(nil)
	return link, conn
}

func TestPeerLinkStaleness(t *testing.T) {
	clock := newManualClock()
	link, _ := newTestLink(clock)

	clock.Advance(29 * time.Second)
	assert.False(t, link.Stale(30*time.Second), "under the window")

	clock.Advance(2 * time.Second)
	assert.True(t, link.Stale(30*time.Second), "past the window")
}

func TestPeerLinkConnectedNeverStale(t *testing.T) {
	clock := newManualClock()
	link, conn := newTestLink(clock)

	conn.setState(webrtc.ICEConnectionStateConnected)
	clock.Advance(10 * time.Minute)
	assert.False(t, link.Stale(30*time.Second))
}

func TestPeerLinkConnectionResetsStalenessBaseline(t *testing.T) {
	clock := newManualClock()
	link, conn := newTestLink(clock)

	clock.Advance(25 * time.Second)
	conn.setState(webrtc.ICEConnectionStateConnected)
	conn.setState(webrtc.ICEConnectionStateDisconnected)

	// 29s since the last observed connection, even though the link is older.
	clock.Advance(29 * time.Second)
	assert.False(t, link.Stale(30*time.Second))

	clock.Advance(2 * time.Second)
	assert.True(t, link.Stale(30*time.Second))
}

func TestPeerLinkCloseDisposesListenerOnce(t *testing.T) {
	clock := newManualClock()
	link, conn := newTestLink(clock)

	link.close()
	link.close()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, 1, conn.unsubCount)
	assert.True(t, conn.closed)
}

func TestPeerLinkTracksAddedOnce(t *testing.T) {
	clock := newManualClock()
	link, _ := newTestLink(clock)

	require.NoError(t, link.markTracksAdded())
	assert.ErrorIs(t, link.markTracksAdded(), core.ErrTracksAlreadyAdded)
}

func TestPeerLinkRemoteDescriptionFlag(t *testing.T) {
	clock := newManualClock()
	link, _ := newTestLink(clock)

	assert.False(t, link.remoteDescriptionSet())
	link.markRemoteSet()
	assert.True(t, link.remoteDescriptionSet())
}

func TestPeerLinkMirrorsICEState(t *testing.T) {
	clock := newManualClock()
	link, conn := newTestLink(clock)

	assert.Equal(t, webrtc.ICEConnectionStateNew, link.ICEState())
	conn.setState(webrtc.ICEConnectionStateChecking)
	assert.Equal(t, webrtc.ICEConnectionStateChecking, link.ICEState())
	assert.False(t, link.Connected())

	conn.setState(webrtc.ICEConnectionStateCompleted)
	assert.True(t, link.Connected())
}
