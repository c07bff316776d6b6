package amqp

import "time"

// heartbeatAction is what the connection's mux should do once the idle timer
// fires (ported from hb.rs's HeartbeatAction).
type heartbeatAction int

const (
	heartbeatNone heartbeatAction = iota
	heartbeatSend
	heartbeatClose
)

// heartbeat polices two independent silence windows with a single timer:
// how long the peer may go quiet before we give up on it (peerLimit, the
// peer's own declared idle-time-out - we don't close until the full
// interval has elapsed), and how long we may go quiet before we owe the
// peer a keepalive (selfLimit, half our own declared idle-time-out, so a
// heartbeat always goes out well before the peer could time us out). Either
// limit of zero disables that side.
type heartbeat struct {
	peerLimit time.Duration
	selfLimit time.Duration

	peerExpire time.Time // reset whenever a frame arrives
	selfExpire time.Time // reset whenever a frame is sent

	timer *time.Timer
}

// newHeartbeat starts tracking from now. peerIdleTimeout is the idle-time-out
// the peer advertised in its Open (we watch for silence up to the full
// interval before closing); ourIdleTimeout is the idle-time-out we
// advertised in ours (we must emit a heartbeat by half that interval to
// stay well clear of it).
func newHeartbeat(peerIdleTimeout, ourIdleTimeout time.Duration) *heartbeat {
	h := &heartbeat{peerLimit: peerIdleTimeout}
	if ourIdleTimeout > 0 {
		h.selfLimit = ourIdleTimeout / 2
	}
	now := time.Now()
	h.peerExpire = now
	h.selfExpire = now
	h.timer = time.NewTimer(h.nextExpiry().Sub(now))
	return h
}

func (h *heartbeat) nextExpiry() time.Time {
	var next time.Time
	if h.peerLimit > 0 {
		next = h.peerExpire.Add(h.peerLimit)
	}
	if h.selfLimit > 0 {
		selfNext := h.selfExpire.Add(h.selfLimit)
		if next.IsZero() || selfNext.Before(next) {
			next = selfNext
		}
	}
	if next.IsZero() {
		// neither side polices idle time; still need a concrete time to arm
		// the timer with.
		return time.Now().Add(24 * time.Hour)
	}
	return next
}

// received records that a frame just came in, resetting the peer's window.
func (h *heartbeat) received() {
	h.peerExpire = time.Now()
}

// sent records that a frame just went out, resetting our own window.
func (h *heartbeat) sent() {
	h.selfExpire = time.Now()
}

// poll runs when h.timer fires and reports what the mux should do, then
// rearms the timer for the next expiry.
func (h *heartbeat) poll() heartbeatAction {
	now := time.Now()
	action := heartbeatNone

	if h.peerLimit > 0 && !now.Before(h.peerExpire.Add(h.peerLimit)) {
		action = heartbeatClose
	} else if h.selfLimit > 0 && !now.Before(h.selfExpire.Add(h.selfLimit)) {
		action = heartbeatSend
		h.selfExpire = now
	}

	h.timer.Reset(h.nextExpiry().Sub(now))
	return action
}

func (h *heartbeat) stop() {
	h.timer.Stop()
}
