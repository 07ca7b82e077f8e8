// Package noise implements the Noise XX authenticated key exchange with the
// libp2p identity-binding payload (spec §4.3).
package noise

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"

	"github.com/Pier-Two/libp2p-c/core/crypto"
	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"
	"github.com/Pier-Two/libp2p-c/core/sec"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("noise")

// LengthPrefixLength is the size, in bytes, of the u16-be length prefix used
// both during the handshake and for post-handshake data frames (spec §3,
// "wire frame = u16_be(ciphertext_len) ‖ ciphertext").
const LengthPrefixLength = 2

// MaxTransportMsgLength is the largest ciphertext frame allowed on the
// wire (spec §3, "Max plaintext per frame 65535 bytes").
const MaxTransportMsgLength = 0xffff

// MaxPlaintextLength is the largest plaintext payload a single data frame
// can carry once the 16-byte Poly1305 tag is accounted for.
const MaxPlaintextLength = MaxTransportMsgLength - 16

// ErrCryptoFailure is returned for authenticated-decryption failures and bad
// identity signatures; the session is unrecoverable once it occurs (spec
// §4.3, §7).
var ErrCryptoFailure = errors.New("noise: crypto failure")

// EarlyDataHandler lets a caller attach and inspect data riding alongside
// the identity payload (spec §9 supplemented feature), mirroring the
// teacher's extensibility hook even though no concrete extension ships
// here.
type EarlyDataHandler interface {
	Send(ctx context.Context, insecure net.Conn, remote peer.ID) *NoiseExtensions
	Received(ctx context.Context, insecure net.Conn, ext *NoiseExtensions) error
}

type secureSession struct {
	initiator   bool
	checkPeerID bool

	localID   peer.ID
	localKey  crypto.PrivKey
	remoteID  peer.ID
	remoteKey crypto.PubKey

	readLock  sync.Mutex
	writeLock sync.Mutex

	insecureConn   net.Conn
	insecureReader *bufio.Reader

	// qbuf/qseek hold the tail of a decrypted frame not yet consumed by the
	// application; rlen is scratch space for the 2-byte frame length.
	qseek int
	qbuf  []byte
	rlen  [LengthPrefixLength]byte

	enc *noise.CipherState
	dec *noise.CipherState

	failed bool // permanently failed: a crypto error closes the session for good

	prologue []byte

	initiatorEarlyDataHandler, responderEarlyDataHandler EarlyDataHandler

	connectionState network.ConnectionState
}

var _ sec.SecureConn = (*secureSession)(nil)

// newSecureSession runs the Noise XX handshake over insecure and returns the
// resulting session, or an error if the handshake fails or ctx expires
// first.
func newSecureSession(ctx context.Context, tpt *Transport, insecure net.Conn, remote peer.ID, initiator, checkPeerID bool) (*secureSession, error) {
	s := &secureSession{
		insecureConn:   insecure,
		insecureReader: bufio.NewReader(insecure),
		initiator:      initiator,
		localID:        tpt.localID,
		localKey:       tpt.privateKey,
		remoteID:       remote,
		checkPeerID:    checkPeerID,
		connectionState: network.ConnectionState{Security: ID},
	}

	respCh := make(chan error, 1)
	go func() {
		respCh <- s.runHandshake(ctx)
	}()

	select {
	case err := <-respCh:
		if err != nil {
			_ = s.insecureConn.Close()
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		_ = s.insecureConn.Close()
		<-respCh
		return nil, ctx.Err()
	}
}

func (s *secureSession) LocalAddr() net.Addr  { return s.insecureConn.LocalAddr() }
func (s *secureSession) RemoteAddr() net.Addr { return s.insecureConn.RemoteAddr() }

func (s *secureSession) LocalPeer() peer.ID  { return s.localID }
func (s *secureSession) RemotePeer() peer.ID { return s.remoteID }

func (s *secureSession) LocalPublicKey() interface{ Raw() ([]byte, error) } {
	return s.localKey.GetPublic()
}
func (s *secureSession) RemotePublicKey() interface{ Raw() ([]byte, error) } {
	return s.remoteKey
}

func (s *secureSession) ConnState() network.ConnectionState { return s.connectionState }

func (s *secureSession) SetDeadline(t time.Time) error      { return s.insecureConn.SetDeadline(t) }
func (s *secureSession) SetReadDeadline(t time.Time) error  { return s.insecureConn.SetReadDeadline(t) }
func (s *secureSession) SetWriteDeadline(t time.Time) error { return s.insecureConn.SetWriteDeadline(t) }

func (s *secureSession) Close() error { return s.insecureConn.Close() }

// withConnState records which muxer was negotiated for a connection,
// mirroring the teacher's SessionWithConnState helper.
func withConnState(s *secureSession, security, muxer protocol.ID) *secureSession {
	s.connectionState.Security = security
	s.connectionState.StreamMultiplexer = muxer
	s.connectionState.UsedEarlyMuxerNegotiation = muxer != ""
	return s
}
