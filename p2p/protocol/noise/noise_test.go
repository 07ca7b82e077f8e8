package noise

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Pier-Two/libp2p-c/core/crypto"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/sec"

	"github.com/stretchr/testify/require"
)

// flippingConn flips the last byte of every Write once armed, used to
// simulate on-wire corruption of a post-handshake ciphertext frame.
type flippingConn struct {
	net.Conn
	armed *atomic.Bool
}

func (f *flippingConn) Write(p []byte) (int, error) {
	if f.armed.Load() && len(p) > 0 {
		q := append([]byte(nil), p...)
		q[len(q)-1] ^= 0xff
		n, err := f.Conn.Write(q)
		if n > len(p) {
			n = len(p)
		}
		return n, err
	}
	return f.Conn.Write(p)
}

func genIdentity(t *testing.T) (peer.ID, crypto.PrivKey) {
	t.Helper()
	sk, pk, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pk)
	require.NoError(t, err)
	return id, sk
}

func handshakePair(t *testing.T) (sec.SecureConn, sec.SecureConn, peer.ID, peer.ID) {
	t.Helper()
	initID, initKey := genIdentity(t)
	respID, respKey := genIdentity(t)

	initTpt, err := New(initID, initKey)
	require.NoError(t, err)
	respTpt, err := New(respID, respKey)
	require.NoError(t, err)

	a, b := net.Pipe()

	var initConn, respConn sec.SecureConn
	var initErr, respErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		initConn, initErr = initTpt.SecureOutbound(context.Background(), a, respID)
	}()
	go func() {
		defer wg.Done()
		respConn, respErr = respTpt.SecureInbound(context.Background(), b, "")
	}()
	wg.Wait()

	require.NoError(t, initErr)
	require.NoError(t, respErr)
	return initConn, respConn, initID, respID
}

func TestHandshakeEstablishesIdentities(t *testing.T) {
	initConn, respConn, initID, respID := handshakePair(t)
	defer initConn.Close()
	defer respConn.Close()

	require.Equal(t, initID, initConn.LocalPeer())
	require.Equal(t, respID, initConn.RemotePeer())
	require.Equal(t, respID, respConn.LocalPeer())
	require.Equal(t, initID, respConn.RemotePeer())
}

func TestPostHandshakeDataRoundTrip(t *testing.T) {
	initConn, respConn, _, _ := handshakePair(t)
	defer initConn.Close()
	defer respConn.Close()

	msg := []byte("hello over noise")
	done := make(chan error, 1)
	go func() {
		_, err := initConn.Write(msg)
		done <- err
	}()

	buf := make([]byte, len(msg))
	_, err := io.ReadFull(respConn, buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf)
	require.NoError(t, <-done)
}

func TestHandshakeRejectsPeerIDMismatch(t *testing.T) {
	initID, initKey := genIdentity(t)
	_, wrongKey := genIdentity(t)
	wrongExpected, err := peer.IDFromPublicKey(wrongKey.GetPublic())
	require.NoError(t, err)

	respID, respKey := genIdentity(t)

	initTpt, err := New(initID, initKey)
	require.NoError(t, err)
	respTpt, err := New(respID, respKey)
	require.NoError(t, err)

	a, b := net.Pipe()
	var initErr, respErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, initErr = initTpt.SecureOutbound(context.Background(), a, wrongExpected)
	}()
	go func() {
		defer wg.Done()
		_, respErr = respTpt.SecureInbound(context.Background(), b, "")
	}()
	wg.Wait()

	var mismatch sec.ErrPeerIDMismatch
	require.ErrorAs(t, initErr, &mismatch)
	require.Equal(t, wrongExpected, mismatch.Expected)
	require.Equal(t, respID, mismatch.Actual)
	_ = respErr
}

func TestTamperedCiphertextFailsDecryption(t *testing.T) {
	initID, initKey := genIdentity(t)
	respID, respKey := genIdentity(t)

	initTpt, err := New(initID, initKey)
	require.NoError(t, err)
	respTpt, err := New(respID, respKey)
	require.NoError(t, err)

	a, b := net.Pipe()
	armed := &atomic.Bool{}
	fa := &flippingConn{Conn: a, armed: armed}

	var initConn, respConn sec.SecureConn
	var initErr, respErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		initConn, initErr = initTpt.SecureOutbound(context.Background(), fa, respID)
	}()
	go func() {
		defer wg.Done()
		respConn, respErr = respTpt.SecureInbound(context.Background(), b, "")
	}()
	wg.Wait()
	require.NoError(t, initErr)
	require.NoError(t, respErr)
	defer initConn.Close()
	defer respConn.Close()

	armed.Store(true)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		initConn.Write([]byte("tampered"))
	}()

	buf := make([]byte, 8)
	_, err = respConn.Read(buf)
	require.ErrorIs(t, err, ErrCryptoFailure)
	<-writeDone
}

func TestHandshakeTimesOut(t *testing.T) {
	id, key := genIdentity(t)
	tpt, err := New(id, key)
	require.NoError(t, err)

	a, b := net.Pipe()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = tpt.SecureOutbound(ctx, a, "")
	require.Error(t, err)
}
