package mplex

import "errors"

var (
	// ErrShutdown is returned by any operation on a closed session.
	ErrShutdown = errors.New("mplex: session shut down")
	// ErrStreamReset is returned to a caller after Reset, or after the peer
	// resets the stream.
	ErrStreamReset = errors.New("mplex: stream reset")
	// ErrTooLarge names a received frame that exceeds the configured
	// maximum frame size. The session does not return it: an oversized
	// frame ends the session, and later calls report ErrShutdown.
	ErrTooLarge = errors.New("mplex: frame too large")
	// ErrInboundCapExceeded is returned when a substream's buffered-but-
	// unread bytes exceed its inbound cap; the substream is reset rather
	// than letting a slow reader exhaust memory (spec §4.5, "a per-substream
	// inbound byte cap substitutes for flow control").
	ErrInboundCapExceeded = errors.New("mplex: inbound byte cap exceeded")
	// ErrTimeout is returned when a per-call deadline expires.
	ErrTimeout = errors.New("mplex: i/o timeout")
	// ErrInvalidFrame is returned for malformed varint headers/lengths.
	ErrInvalidFrame = errors.New("mplex: invalid frame")
)
