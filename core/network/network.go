// Package network defines the byte-pipe and stream-multiplexing contracts
// shared by every layer of the connection-upgrade pipeline: a raw transport
// connection, a Noise-secured connection, and a muxed substream all satisfy
// the same basic pipe shape.
package network

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"
)

// Direction indicates which side of a connection or stream initiated it.
type Direction int

const (
	DirUnknown Direction = iota
	DirInbound
	DirOutbound
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "Inbound"
	case DirOutbound:
		return "Outbound"
	default:
		return "Unknown"
	}
}

// ConnSecurity exposes the identity information produced by authenticating a
// connection: the local/remote peer IDs and their public keys.
type ConnSecurity interface {
	LocalPeer() peer.ID
	RemotePeer() peer.ID
	LocalPublicKey() interface{ Raw() ([]byte, error) }
	RemotePublicKey() interface{ Raw() ([]byte, error) }
	ConnState() ConnectionState
}

// ConnectionState records which security and muxer protocols were
// negotiated for a connection, mirroring the teacher's
// network.ConnectionState used by p2p/security/noise.
type ConnectionState struct {
	StreamMultiplexer         protocol.ID
	Security                  protocol.ID
	UsedEarlyMuxerNegotiation bool
}

// ErrReset is returned by Read/Write on a stream whose peer sent RST.
var ErrReset = errors.New("stream reset")

// ErrClosed is returned by Read/Write on a closed pipe.
var ErrClosed = errors.New("pipe closed")

// MuxedStream is a single substream produced by a MuxedConn: an ordered,
// reliable, bidirectional byte pipe that can be half-closed independently in
// each direction and reset.
type MuxedStream interface {
	net.Conn

	// Reset aborts both directions of the stream immediately, discarding any
	// buffered data, and notifies the remote peer.
	Reset() error

	// CloseWrite closes the stream for writing but leaves it open for
	// reading; the remote peer observes EOF after any buffered data.
	CloseWrite() error

	// CloseRead closes the stream for reading, discarding any data the
	// remote peer has already sent.
	CloseRead() error
}

// MuxedConn turns one encrypted byte pipe into many ordered, reliable
// substreams.
type MuxedConn interface {
	// Close closes the underlying connection and cascades RST to every live
	// substream.
	Close() error
	IsClosed() bool

	// OpenStream creates a new stream and queues its opening frame, blocking
	// (subject to ctx) only until the session's writer takes that frame; it
	// does not wait for the peer to acknowledge the stream.
	OpenStream(ctx context.Context) (MuxedStream, error)

	// AcceptStream blocks until the next stream opened by the remote peer is
	// available.
	AcceptStream() (MuxedStream, error)
}

// Multiplexer is a capability record (§9 of the design notes): a muxer is
// selected by protocol ID at negotiation time and then builds a MuxedConn
// over the already-secured pipe.
type Multiplexer interface {
	ID() protocol.ID
	NewConn(pipe net.Conn, isServer bool, cfg interface{}) (MuxedConn, error)
}

// StreamHandler processes an inbound stream after its protocol has been
// negotiated.
type StreamHandler func(stream MuxedStream, proto protocol.ID)

// Deadliner is implemented by anything that can have an absolute deadline
// installed across a sequence of reads/writes, used by the Noise handshake
// and the upgrader to enforce a single budget over several operations.
type Deadliner interface {
	SetDeadline(t time.Time) error
}
