// Package sec provides the secure-connection and secure-transport
// interfaces implemented by the Noise XX transport (spec §4.3).
package sec

import (
	"context"
	"fmt"
	"net"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"
)

// SecureConn is an authenticated, encrypted connection: a byte pipe plus the
// identity information the handshake established.
type SecureConn interface {
	net.Conn
	network.ConnSecurity
}

// SecureTransport turns an unauthenticated, plaintext connection into a
// SecureConn.
type SecureTransport interface {
	// SecureInbound secures an inbound connection. If p is empty, any
	// remote identity is accepted.
	SecureInbound(ctx context.Context, insecure net.Conn, p peer.ID) (SecureConn, error)

	// SecureOutbound secures an outbound connection, verifying the remote
	// identity matches p when p is non-empty.
	SecureOutbound(ctx context.Context, insecure net.Conn, p peer.ID) (SecureConn, error)

	// ID is the protocol ID multiselect advertises for this transport.
	ID() protocol.ID
}

// ErrPeerIDMismatch is returned when the identity presented during the
// handshake does not match the identity the dialer expected.
type ErrPeerIDMismatch struct {
	Expected peer.ID
	Actual   peer.ID
}

func (e ErrPeerIDMismatch) Error() string {
	return fmt.Sprintf("peer id mismatch: expected %s, but remote key matches %s", e.Expected, e.Actual)
}

var _ error = ErrPeerIDMismatch{}
