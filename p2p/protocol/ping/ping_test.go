package ping

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"
	"github.com/Pier-Two/libp2p-c/p2p/muxer/yamux"

	"github.com/stretchr/testify/require"
)

// pairedStreamer is a minimal Streamer backed directly by a muxed session,
// bypassing multistream negotiation (covered separately in
// p2p/protocol/multistream) so these tests isolate the ping protocol
// itself.
type pairedStreamer struct {
	session  network.MuxedConn
	handlers map[protocol.ID]network.StreamHandler
}

func newPairedStreamer(session network.MuxedConn) *pairedStreamer {
	return &pairedStreamer{session: session, handlers: make(map[protocol.ID]network.StreamHandler)}
}

func (p *pairedStreamer) SetStreamHandler(proto protocol.ID, h network.StreamHandler) {
	p.handlers[proto] = h
}

func (p *pairedStreamer) NewStream(ctx context.Context, _ peer.ID, _ ...protocol.ID) (network.MuxedStream, error) {
	return p.session.OpenStream(ctx)
}

func (p *pairedStreamer) serve() {
	for {
		s, err := p.session.AcceptStream()
		if err != nil {
			return
		}
		h, ok := p.handlers[ID]
		if !ok {
			s.Reset()
			continue
		}
		go h(s, ID)
	}
}

func sessionPair(t *testing.T) (network.MuxedConn, network.MuxedConn) {
	t.Helper()
	a, b := net.Pipe()
	cfg := yamux.DefaultConfig()
	cfg.KeepAliveInterval = 0
	client := yamux.NewSession(a, false, cfg)
	server := yamux.NewSession(b, true, cfg)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestPingRoundTrip(t *testing.T) {
	clientSession, serverSession := sessionPair(t)

	client := newPairedStreamer(clientSession)
	server := newPairedStreamer(serverSession)
	NewService(server)
	go server.serve()

	res := Ping(context.Background(), client, peer.ID("server"))
	require.NoError(t, res.Error)
	require.GreaterOrEqual(t, res.RTT, time.Duration(0))
}

func TestPingStreamStopsOnContextCancel(t *testing.T) {
	clientSession, serverSession := sessionPair(t)

	client := newPairedStreamer(clientSession)
	server := newPairedStreamer(serverSession)
	NewService(server)
	go server.serve()

	ctx, cancel := context.WithCancel(context.Background())
	results := PingStream(ctx, client, peer.ID("server"))

	res := <-results
	require.NoError(t, res.Error)
	cancel()

	for range results {
	}
}

func TestPingReportsErrorWhenPeerUnreachable(t *testing.T) {
	clientSession, serverSession := sessionPair(t)
	require.NoError(t, serverSession.Close())

	client := newPairedStreamer(clientSession)
	res := Ping(context.Background(), client, peer.ID("server"))
	require.Error(t, res.Error)
}

func TestPingDetectsMismatchedEcho(t *testing.T) {
	clientSession, serverSession := sessionPair(t)

	client := newPairedStreamer(clientSession)
	server := newPairedStreamer(serverSession)
	server.SetStreamHandler(ID, func(stream network.MuxedStream, _ protocol.ID) {
		defer stream.Close()
		buf := make([]byte, Size)
		if _, err := stream.Read(buf); err != nil {
			return
		}
		// Echo back the wrong bytes to trigger ErrMismatch on the caller.
		garbage := make([]byte, Size)
		stream.Write(garbage)
	})
	go server.serve()

	res := Ping(context.Background(), client, peer.ID("server"))
	require.ErrorIs(t, res.Error, ErrMismatch)
}
