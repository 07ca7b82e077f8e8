package upgrader

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"
	"github.com/Pier-Two/libp2p-c/core/sec"
	"github.com/Pier-Two/libp2p-c/core/transport"
	"github.com/Pier-Two/libp2p-c/p2p/protocol/multistream"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("upgrader")

// DefaultHandshakeTimeout is the single deadline spanning security
// negotiation, the Noise handshake, muxer negotiation and muxed session
// construction (spec §4.6).
const DefaultHandshakeTimeout = 30 * time.Second

// Upgrader turns a raw transport connection into a transport.CapableConn by
// running multistream-select twice (security, then muxer) around the
// chosen sec.SecureTransport's handshake.
type Upgrader struct {
	Securities       []sec.SecureTransport
	Muxers           []network.Multiplexer
	HandshakeTimeout time.Duration
}

// New builds an Upgrader from an ordered security and muxer preference
// list. Order matters for the dialer: SelectOneOf proposes in order.
func New(securities []sec.SecureTransport, muxers []network.Multiplexer) *Upgrader {
	return &Upgrader{Securities: securities, Muxers: muxers, HandshakeTimeout: DefaultHandshakeTimeout}
}

func (u *Upgrader) timeout() time.Duration {
	if u.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return u.HandshakeTimeout
}

func (u *Upgrader) securityIDs() []protocol.ID {
	ids := make([]protocol.ID, len(u.Securities))
	for i, s := range u.Securities {
		ids[i] = s.ID()
	}
	return ids
}

func (u *Upgrader) muxerIDs() []protocol.ID {
	ids := make([]protocol.ID, len(u.Muxers))
	for i, m := range u.Muxers {
		ids[i] = m.ID()
	}
	return ids
}

func (u *Upgrader) findSecurity(id protocol.ID) sec.SecureTransport {
	for _, s := range u.Securities {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

func (u *Upgrader) findMuxer(id protocol.ID) network.Multiplexer {
	for _, m := range u.Muxers {
		if m.ID() == id {
			return m
		}
	}
	return nil
}

// UpgradeOutbound secures and multiplexes a connection this side dialed.
// The upgrader owns conn for the duration of the call: on any failure it
// closes the furthest-along pipe it built (the secure session once one
// exists, the raw connection otherwise) before returning (spec §4.6, §8 S4).
func (u *Upgrader) UpgradeOutbound(ctx context.Context, t transport.Transport, conn net.Conn, remote peer.ID) (result transport.CapableConn, err error) {
	if t == nil || conn == nil {
		return nil, wrap(KindNullArgument, errors.New("nil transport or connection"))
	}

	var closer io.Closer = conn
	defer func() {
		if err != nil {
			closer.Close()
		}
	}()

	if len(u.Securities) == 0 {
		err = wrap(KindNoSecurity, errors.New("no security transports configured"))
		return nil, err
	}
	if len(u.Muxers) == 0 {
		err = wrap(KindNoMuxer, errors.New("no muxers configured"))
		return nil, err
	}

	deadline := time.Now().Add(u.timeout())
	if setErr := conn.SetDeadline(deadline); setErr != nil {
		err = wrap(KindInternal, setErr)
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	secID, negErr := multistream.SelectOneOf(conn, u.securityIDs())
	if negErr != nil {
		err = classifyNegotiation(negErr, KindNoSecurity)
		return nil, err
	}
	secTpt := u.findSecurity(secID)
	if secTpt == nil {
		err = wrap(KindInternal, errors.New("negotiated unknown security protocol"))
		return nil, err
	}

	secConn, hsErr := secTpt.SecureOutbound(ctx, conn, remote)
	if hsErr != nil {
		err = classifyHandshake(hsErr)
		return nil, err
	}
	closer = secConn

	muxID, muxNegErr := multistream.SelectOneOf(secConn, u.muxerIDs())
	if muxNegErr != nil {
		err = classifyNegotiation(muxNegErr, KindNoMuxer)
		return nil, err
	}
	mux := u.findMuxer(muxID)
	if mux == nil {
		err = wrap(KindInternal, errors.New("negotiated unknown muxer protocol"))
		return nil, err
	}

	muxedConn, muxErr := mux.NewConn(secConn, false, nil)
	if muxErr != nil {
		err = wrap(KindInternal, muxErr)
		return nil, err
	}

	return newCapableConn(t, conn, secConn, muxedConn, secID, muxID, false), nil
}

// UpgradeInbound secures and multiplexes a connection the remote side
// dialed, with the same close-on-failure contract as UpgradeOutbound.
func (u *Upgrader) UpgradeInbound(ctx context.Context, t transport.Transport, conn net.Conn) (result transport.CapableConn, err error) {
	if t == nil || conn == nil {
		return nil, wrap(KindNullArgument, errors.New("nil transport or connection"))
	}

	var closer io.Closer = conn
	defer func() {
		if err != nil {
			closer.Close()
		}
	}()

	if len(u.Securities) == 0 {
		err = wrap(KindNoSecurity, errors.New("no security transports configured"))
		return nil, err
	}
	if len(u.Muxers) == 0 {
		err = wrap(KindNoMuxer, errors.New("no muxers configured"))
		return nil, err
	}

	deadline := time.Now().Add(u.timeout())
	if setErr := conn.SetDeadline(deadline); setErr != nil {
		err = wrap(KindInternal, setErr)
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	secID, negErr := multistream.Negotiate(conn, multistream.OneOf(u.securityIDs()...))
	if negErr != nil {
		err = classifyNegotiation(negErr, KindNoSecurity)
		return nil, err
	}
	secTpt := u.findSecurity(secID)
	if secTpt == nil {
		err = wrap(KindInternal, errors.New("negotiated unknown security protocol"))
		return nil, err
	}

	secConn, hsErr := secTpt.SecureInbound(ctx, conn, "")
	if hsErr != nil {
		err = classifyHandshake(hsErr)
		return nil, err
	}
	closer = secConn

	muxID, muxNegErr := multistream.Negotiate(secConn, multistream.OneOf(u.muxerIDs()...))
	if muxNegErr != nil {
		err = classifyNegotiation(muxNegErr, KindNoMuxer)
		return nil, err
	}
	mux := u.findMuxer(muxID)
	if mux == nil {
		err = wrap(KindInternal, errors.New("negotiated unknown muxer protocol"))
		return nil, err
	}

	muxedConn, muxErr := mux.NewConn(secConn, true, nil)
	if muxErr != nil {
		err = wrap(KindInternal, muxErr)
		return nil, err
	}

	return newCapableConn(t, conn, secConn, muxedConn, secID, muxID, false), nil
}

func classifyNegotiation(err error, noneKind Kind) error {
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return wrap(KindTimeout, err)
	}
	if errors.Is(err, multistream.ErrNoMutualProtocol) {
		return wrap(noneKind, err)
	}
	return wrap(KindInternal, err)
}

func classifyHandshake(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return wrap(KindTimeout, err)
	}
	return wrap(KindHandshakeFailed, err)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// capableConn is the transport.CapableConn produced by a successful
// upgrade: the muxed session for stream operations, the secure connection
// for identity and state, multiaddrs derived from the raw connection.
type capableConn struct {
	network.MuxedConn
	secConn sec.SecureConn

	t         transport.Transport
	raw       net.Conn
	local     ma.Multiaddr
	rem       ma.Multiaddr
	muxID     protocol.ID
	usedEarly bool
}

var _ transport.CapableConn = (*capableConn)(nil)

func newCapableConn(t transport.Transport, raw net.Conn, secConn sec.SecureConn, mux network.MuxedConn, secID, muxID protocol.ID, usedEarly bool) *capableConn {
	local, err := manet.FromNetAddr(raw.LocalAddr())
	if err != nil {
		local = nil
	}
	rem, err := manet.FromNetAddr(raw.RemoteAddr())
	if err != nil {
		rem = nil
	}
	return &capableConn{
		MuxedConn: mux,
		secConn:   secConn,
		t:         t,
		raw:       raw,
		local:     local,
		rem:       rem,
		muxID:     muxID,
		usedEarly: usedEarly,
	}
}

func (c *capableConn) LocalPeer() peer.ID      { return c.secConn.LocalPeer() }
func (c *capableConn) RemotePeer() peer.ID     { return c.secConn.RemotePeer() }
func (c *capableConn) LocalPublicKey() interface{ Raw() ([]byte, error) } {
	return c.secConn.LocalPublicKey()
}
func (c *capableConn) RemotePublicKey() interface{ Raw() ([]byte, error) } {
	return c.secConn.RemotePublicKey()
}
// ConnState reports the security protocol the noise handshake recorded plus
// the muxer this upgrader separately negotiated over multistream (spec
// §4.6); early muxer negotiation piggybacked on the handshake payload is
// not performed here, so UsedEarlyMuxerNegotiation is always false.
func (c *capableConn) ConnState() network.ConnectionState {
	st := c.secConn.ConnState()
	st.StreamMultiplexer = c.muxID
	st.UsedEarlyMuxerNegotiation = c.usedEarly
	return st
}

func (c *capableConn) LocalMultiaddr() ma.Multiaddr  { return c.local }
func (c *capableConn) RemoteMultiaddr() ma.Multiaddr { return c.rem }
func (c *capableConn) Transport() transport.Transport { return c.t }
