package upgrader

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Pier-Two/libp2p-c/core/crypto"
	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/sec"
	"github.com/Pier-Two/libp2p-c/core/transport"
	"github.com/Pier-Two/libp2p-c/p2p/muxer/mplex"
	"github.com/Pier-Two/libp2p-c/p2p/muxer/yamux"
	"github.com/Pier-Two/libp2p-c/p2p/protocol/noise"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/stretchr/testify/require"
)

// fakeTransport stands in for a real transport.Transport: these tests drive
// the upgrader directly over net.Pipe(), so Dial/Listen are never called.
type fakeTransport struct{}

func (fakeTransport) Dial(ctx context.Context, raddr ma.Multiaddr, p peer.ID) (net.Conn, error) {
	panic("not used by upgrader tests")
}
func (fakeTransport) CanDial(addr ma.Multiaddr) bool { return false }
func (fakeTransport) Listen(laddr ma.Multiaddr) (transport.Listener, error) {
	panic("not used by upgrader tests")
}

var _ transport.Transport = fakeTransport{}

func genIdentity(t *testing.T) (peer.ID, crypto.PrivKey) {
	t.Helper()
	sk, pk, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pk)
	require.NoError(t, err)
	return id, sk
}

func newTestUpgrader(t *testing.T, id peer.ID, key crypto.PrivKey, muxers []network.Multiplexer) *Upgrader {
	t.Helper()
	noiseTpt, err := noise.New(id, key)
	require.NoError(t, err)
	return New([]sec.SecureTransport{noiseTpt}, muxers)
}

func bothMuxers() []network.Multiplexer {
	return []network.Multiplexer{yamux.DefaultTransport, mplex.DefaultTransport}
}

func TestEndToEndUpgradeNegotiatesYamux(t *testing.T) {
	dialID, dialKey := genIdentity(t)
	listenID, listenKey := genIdentity(t)

	dialUp := newTestUpgrader(t, dialID, dialKey, []network.Multiplexer{yamux.DefaultTransport})
	listenUp := newTestUpgrader(t, listenID, listenKey, bothMuxers())

	a, b := net.Pipe()

	var dialConn, listenConn transport.CapableConn
	var dialErr, listenErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dialConn, dialErr = dialUp.UpgradeOutbound(context.Background(), fakeTransport{}, a, listenID)
	}()
	go func() {
		defer wg.Done()
		listenConn, listenErr = listenUp.UpgradeInbound(context.Background(), fakeTransport{}, b)
	}()
	wg.Wait()

	require.NoError(t, dialErr)
	require.NoError(t, listenErr)
	defer dialConn.Close()
	defer listenConn.Close()

	require.Equal(t, listenID, dialConn.RemotePeer())
	require.Equal(t, dialID, listenConn.RemotePeer())
	require.Equal(t, yamux.ID, dialConn.ConnState().StreamMultiplexer)

	done := make(chan error, 1)
	go func() {
		s, err := listenConn.AcceptStream()
		if err != nil {
			done <- err
			return
		}
		buf := make([]byte, 4)
		if _, err := io.ReadFull(s, buf); err != nil {
			done <- err
			return
		}
		_, err = s.Write(buf)
		done <- err
	}()

	stream, err := dialConn.OpenStream(context.Background())
	require.NoError(t, err)
	_, err = stream.Write([]byte("ping"))
	require.NoError(t, err)

	reply := make([]byte, 4)
	_, err = io.ReadFull(stream, reply)
	require.NoError(t, err)
	require.Equal(t, "ping", string(reply))
	require.NoError(t, <-done)
}

func TestUpgradeFailsOnIdentityMismatch(t *testing.T) {
	dialID, dialKey := genIdentity(t)
	listenID, listenKey := genIdentity(t)
	_, wrongKey := genIdentity(t)
	wrongExpected, err := peer.IDFromPublicKey(wrongKey.GetPublic())
	require.NoError(t, err)
	_ = dialKey

	dialUp := newTestUpgrader(t, dialID, dialKey, []network.Multiplexer{yamux.DefaultTransport})
	listenUp := newTestUpgrader(t, listenID, listenKey, []network.Multiplexer{yamux.DefaultTransport})

	a, b := net.Pipe()

	var dialErr, listenErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, dialErr = dialUp.UpgradeOutbound(context.Background(), fakeTransport{}, a, wrongExpected)
	}()
	go func() {
		defer wg.Done()
		_, listenErr = listenUp.UpgradeInbound(context.Background(), fakeTransport{}, b)
	}()
	wg.Wait()
	_ = listenErr

	var uerr *Error
	require.ErrorAs(t, dialErr, &uerr)
	require.Equal(t, KindHandshakeFailed, uerr.Kind)

	_, werr := a.Write([]byte{0})
	require.Error(t, werr, "upgrader must close the dial-side pipe on handshake failure")
}

func TestUpgradeFailsOnNoMutualMuxer(t *testing.T) {
	dialID, dialKey := genIdentity(t)
	listenID, listenKey := genIdentity(t)

	dialUp := newTestUpgrader(t, dialID, dialKey, []network.Multiplexer{yamux.DefaultTransport})
	listenUp := newTestUpgrader(t, listenID, listenKey, []network.Multiplexer{mplex.DefaultTransport})

	a, b := net.Pipe()

	var dialErr, listenErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, dialErr = dialUp.UpgradeOutbound(context.Background(), fakeTransport{}, a, listenID)
	}()
	go func() {
		defer wg.Done()
		_, listenErr = listenUp.UpgradeInbound(context.Background(), fakeTransport{}, b)
	}()
	wg.Wait()
	_ = listenErr

	var uerr *Error
	require.ErrorAs(t, dialErr, &uerr)
	require.Equal(t, KindNoMuxer, uerr.Kind)

	_, werr := a.Write([]byte{0})
	require.Error(t, werr, "upgrader must close the dial-side pipe on muxer negotiation failure")
}

func TestUpgradeOutboundRejectsNilConn(t *testing.T) {
	id, key := genIdentity(t)
	up := newTestUpgrader(t, id, key, []network.Multiplexer{yamux.DefaultTransport})

	_, err := up.UpgradeOutbound(context.Background(), fakeTransport{}, nil, id)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, KindNullArgument, uerr.Kind)
}

func TestUpgradeOutboundTimesOut(t *testing.T) {
	id, key := genIdentity(t)
	up := newTestUpgrader(t, id, key, []network.Multiplexer{yamux.DefaultTransport})
	up.HandshakeTimeout = 20 * time.Millisecond

	a, b := net.Pipe()
	defer b.Close()

	_, err := up.UpgradeOutbound(context.Background(), fakeTransport{}, a, id)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, KindTimeout, uerr.Kind)

	_, werr := a.Write([]byte{0})
	require.Error(t, werr, "upgrader must close the pipe on handshake timeout")
}
