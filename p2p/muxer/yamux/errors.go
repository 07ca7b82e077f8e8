package yamux

import "errors"

var (
	// ErrProtocolError covers bad version, unknown frame type and window
	// underflow (spec §4.4 "Errors").
	ErrProtocolError = errors.New("yamux: protocol error")
	// ErrGoAwayReceived is returned once the peer has sent GoAway.
	ErrGoAwayReceived = errors.New("yamux: go away received")
	// ErrPeerReset is returned to a local caller whose stream the peer
	// reset.
	ErrPeerReset = errors.New("yamux: stream reset by peer")
	// ErrSessionClosed is returned by any operation on a closed session.
	ErrSessionClosed = errors.New("yamux: session closed")
	// ErrStreamReset is returned by a caller that itself reset the stream.
	ErrStreamReset = errors.New("yamux: stream reset")
	// ErrTimeout is returned when a per-call deadline expires.
	ErrTimeout = errors.New("yamux: i/o timeout")
)
