// Package transport provides the Transport interface: the device and
// network protocol used to dial and listen for raw connections, before the
// upgrader authenticates and multiplexes them (spec §4.6).
package transport

import (
	"context"
	"errors"
	"net"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"

	ma "github.com/multiformats/go-multiaddr"
)

// CapableConn is a connection that has been fully upgraded: it offers
// stream multiplexing, encryption and peer authentication, regardless of
// whether those capabilities come natively from the transport or are
// shimmed on by the upgrader.
type CapableConn interface {
	network.MuxedConn
	network.ConnSecurity

	LocalMultiaddr() ma.Multiaddr
	RemoteMultiaddr() ma.Multiaddr

	// Transport returns the transport this connection belongs to.
	Transport() Transport
}

// Transport dials and listens for raw (unauthenticated, unmultiplexed)
// connections over one network protocol. Unlike the teacher's
// core/transport.Transport, this trimmed contract has no Resolver,
// SkipResolver, Proxy() or Protocols() methods — spec.md names exactly one
// transport (TCP) and no proxying/relay, so that generality is dropped
// rather than stubbed.
type Transport interface {
	// Dial opens a raw connection to raddr. It does not secure or
	// multiplex the connection; that is the upgrader's job.
	Dial(ctx context.Context, raddr ma.Multiaddr, p peer.ID) (net.Conn, error)

	// CanDial reports whether this transport knows how to dial addr.
	CanDial(addr ma.Multiaddr) bool

	// Listen listens on laddr, returning a raw (pre-upgrade) Listener.
	Listen(laddr ma.Multiaddr) (Listener, error)
}

// Listener accepts raw connections destined to be upgraded.
type Listener interface {
	Accept() (net.Conn, ma.Multiaddr, error)
	Close() error
	Addr() net.Addr
	Multiaddr() ma.Multiaddr
}

// ErrListenerClosed is returned by Listener.Accept after a graceful Close.
var ErrListenerClosed = errors.New("listener closed")
