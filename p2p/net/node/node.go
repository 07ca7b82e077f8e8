// Package node provides the thinnest host-like type this module needs to
// drive the upgrade pipeline end to end: dial a peer, keep the resulting
// capable connection, open and accept streams over it. Modelled on the
// teacher's p2p/host/blank.BlankHost, with the peerstore, connection
// manager and event bus it carries dropped — this module's Non-goals
// exclude all three, and a single-peer CLI like ping-dial never needs them.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/Pier-Two/libp2p-c/core/crypto"
	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"
	"github.com/Pier-Two/libp2p-c/core/transport"
	"github.com/Pier-Two/libp2p-c/p2p/net/upgrader"
	"github.com/Pier-Two/libp2p-c/p2p/protocol/multistream"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("node")

// Node is a minimal libp2p host: one identity, one transport, one
// upgrader, a table of live connections keyed by peer, and a registry of
// protocol handlers dispatched by multistream when a peer opens a stream.
type Node struct {
	id         peer.ID
	privateKey crypto.PrivKey
	tpt        transport.Transport
	upgrader   *upgrader.Upgrader

	mu       sync.Mutex
	conns    map[peer.ID]transport.CapableConn
	handlers map[protocol.ID]network.StreamHandler

	listener *upgrader.Listener
}

// New builds a Node around an already-constructed transport and upgrader.
func New(id peer.ID, privateKey crypto.PrivKey, tpt transport.Transport, up *upgrader.Upgrader) *Node {
	return &Node{
		id:         id,
		privateKey: privateKey,
		tpt:        tpt,
		upgrader:   up,
		conns:      make(map[peer.ID]transport.CapableConn),
		handlers:   make(map[protocol.ID]network.StreamHandler),
	}
}

func (n *Node) ID() peer.ID { return n.id }

// SetStreamHandler registers handler to run for inbound streams that
// negotiate proto.
func (n *Node) SetStreamHandler(proto protocol.ID, handler network.StreamHandler) {
	n.mu.Lock()
	n.handlers[proto] = handler
	n.mu.Unlock()
}

func (n *Node) matcher() multistream.Match {
	return func(id protocol.ID) bool {
		n.mu.Lock()
		_, ok := n.handlers[id]
		n.mu.Unlock()
		return ok
	}
}

// Connect dials p at addr if there isn't already a live connection, and
// upgrades it.
func (n *Node) Connect(ctx context.Context, addr ma.Multiaddr, p peer.ID) error {
	n.mu.Lock()
	_, ok := n.conns[p]
	n.mu.Unlock()
	if ok {
		return nil
	}

	raw, err := n.tpt.Dial(ctx, addr, p)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn, err := n.upgrader.UpgradeOutbound(ctx, n.tpt, raw, p)
	if err != nil {
		// The upgrader closes raw itself on failure; nothing to do here.
		return fmt.Errorf("upgrade: %w", err)
	}

	n.mu.Lock()
	n.conns[conn.RemotePeer()] = conn
	n.mu.Unlock()

	go n.acceptStreams(conn)
	return nil
}

// NewStream opens a new stream to p, negotiating the first protocol in
// protos that the remote accepts.
func (n *Node) NewStream(ctx context.Context, p peer.ID, protos ...protocol.ID) (network.MuxedStream, error) {
	n.mu.Lock()
	conn, ok := n.conns[p]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("node: no connection to %s", p)
	}

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	selected, err := multistream.SelectOneOf(stream, protos)
	if err != nil {
		stream.Reset()
		return nil, fmt.Errorf("negotiate protocol: %w", err)
	}
	log.Debugf("opened stream to %s for %s", p, selected)
	return stream, nil
}

// Listen starts accepting inbound connections on laddr, upgrading and
// dispatching their streams the same way outbound connections are.
func (n *Node) Listen(laddr ma.Multiaddr) (ma.Multiaddr, error) {
	raw, err := n.tpt.Listen(laddr)
	if err != nil {
		return nil, err
	}
	n.listener = upgrader.WrapListener(raw, n.tpt, n.upgrader)
	go n.acceptConns()
	return raw.Multiaddr(), nil
}

func (n *Node) acceptConns() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			log.Debugf("node: listener stopped: %v", err)
			return
		}
		n.mu.Lock()
		n.conns[conn.RemotePeer()] = conn
		n.mu.Unlock()
		go n.acceptStreams(conn)
	}
}

func (n *Node) acceptStreams(conn transport.CapableConn) {
	for {
		stream, err := conn.AcceptStream()
		if err != nil {
			return
		}
		go n.handleStream(stream)
	}
}

func (n *Node) handleStream(stream network.MuxedStream) {
	proto, err := multistream.Negotiate(stream, n.matcher())
	if err != nil {
		log.Debugf("node: protocol negotiation failed: %v", err)
		stream.Reset()
		return
	}
	n.mu.Lock()
	handler, ok := n.handlers[proto]
	n.mu.Unlock()
	if !ok {
		stream.Reset()
		return
	}
	handler(stream, proto)
}

// Close tears down every live connection and, if listening, the listener.
func (n *Node) Close() error {
	n.mu.Lock()
	conns := make([]transport.CapableConn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.conns = map[peer.ID]transport.CapableConn{}
	n.mu.Unlock()

	var eg errgroup.Group
	for _, c := range conns {
		c := c
		eg.Go(c.Close)
	}
	closeErr := eg.Wait()

	if n.listener != nil {
		if err := n.listener.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}
