// Package upgrader drives the connection-upgrade pipeline: multistream
// security negotiation, the Noise handshake, multistream muxer negotiation,
// then handing the secured pipe to the chosen multiplexer (spec §4.6).
package upgrader

import "fmt"

// Kind classifies why an upgrade failed, the taxonomy spec §4.6 and §7
// require callers be able to branch on without string-matching.
type Kind int

const (
	// KindInternal covers anything that doesn't fit the other kinds: a
	// transport-level I/O error, a muxer session that failed to start, etc.
	KindInternal Kind = iota
	// KindNullArgument is returned when a required argument (connection,
	// peer ID where mandatory, transport) is nil or empty.
	KindNullArgument
	// KindTimeout is returned when the single handshake deadline (spec
	// §4.6) expires before the pipeline completes.
	KindTimeout
	// KindNoSecurity is returned when multiselect finds no mutually
	// supported security protocol.
	KindNoSecurity
	// KindNoMuxer is returned when multiselect finds no mutually supported
	// muxer protocol.
	KindNoMuxer
	// KindHandshakeFailed is returned when a security protocol was agreed
	// but the handshake itself failed: bad signature, decryption failure,
	// peer ID mismatch.
	KindHandshakeFailed
)

func (k Kind) String() string {
	switch k {
	case KindNullArgument:
		return "null-argument"
	case KindTimeout:
		return "timeout"
	case KindNoSecurity:
		return "no-security"
	case KindNoMuxer:
		return "no-muxer"
	case KindHandshakeFailed:
		return "handshake-failed"
	default:
		return "internal"
	}
}

// Error wraps an upgrade failure with its Kind so callers can branch on
// what stage of the pipeline broke without parsing the message (spec §7,
// "User-visible" error reporting).
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upgrade failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}
