package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeartbeatNoLimitsNeverFires(t *testing.T) {
	h := newHeartbeat(0, 0)
	defer h.stop()

	require.Equal(t, heartbeatNone, h.poll())
}

func TestHeartbeatPeerSilenceCloses(t *testing.T) {
	h := newHeartbeat(20*time.Millisecond, 0)
	defer h.stop()

	// peerLimit is the peer's own idle-time-out, unhalved: we don't give up
	// on the peer until a full interval of silence has elapsed.
	require.Equal(t, 20*time.Millisecond, h.peerLimit)

	time.Sleep(25 * time.Millisecond)
	require.Equal(t, heartbeatClose, h.poll())
}

func TestHeartbeatReceivedResetsPeerWindow(t *testing.T) {
	h := newHeartbeat(20*time.Millisecond, 0)
	defer h.stop()

	time.Sleep(8 * time.Millisecond)
	h.received()
	time.Sleep(8 * time.Millisecond)
	require.Equal(t, heartbeatNone, h.poll())
}

func TestHeartbeatSelfSilenceSendsThenResets(t *testing.T) {
	h := newHeartbeat(0, 10*time.Millisecond)
	defer h.stop()

	// selfLimit is half of ourIdleTimeout: a heartbeat goes out by 5ms here.
	require.Equal(t, 5*time.Millisecond, h.selfLimit)

	time.Sleep(8 * time.Millisecond)
	require.Equal(t, heartbeatSend, h.poll())

	// polling again immediately after a send shouldn't re-fire.
	require.Equal(t, heartbeatNone, h.poll())
}

func TestHeartbeatSentResetsSelfWindow(t *testing.T) {
	h := newHeartbeat(0, 20*time.Millisecond)
	defer h.stop()

	time.Sleep(8 * time.Millisecond)
	h.sent()
	time.Sleep(8 * time.Millisecond)
	require.Equal(t, heartbeatNone, h.poll())
}

func TestHeartbeatPeerTakesPriorityOverSelf(t *testing.T) {
	// peerLimit = 10ms (unhalved) and selfLimit = 10ms (half of 20ms) expire
	// together; poll() must still report Close, since the peer-silence
	// check runs first regardless of which limit is numerically smaller.
	h := newHeartbeat(10*time.Millisecond, 20*time.Millisecond)
	defer h.stop()

	require.Equal(t, h.peerLimit, h.selfLimit)

	time.Sleep(12 * time.Millisecond)
	require.Equal(t, heartbeatClose, h.poll())
}
