package noise

import (
	"context"
	"net"

	"github.com/Pier-Two/libp2p-c/core/crypto"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"
	"github.com/Pier-Two/libp2p-c/core/sec"
)

// ID is the protocol ID multiselect advertises for this security transport
// (spec §6).
const ID protocol.ID = protocol.NoiseID

// Transport is a Noise XX sec.SecureTransport bound to one local identity.
type Transport struct {
	localID    peer.ID
	privateKey crypto.PrivKey
}

var _ sec.SecureTransport = (*Transport)(nil)

// New constructs a Noise transport for the given local identity keypair.
func New(localID peer.ID, privateKey crypto.PrivKey) (*Transport, error) {
	return &Transport{localID: localID, privateKey: privateKey}, nil
}

func (t *Transport) ID() protocol.ID { return ID }

// SecureOutbound runs the initiator side of the Noise XX handshake. When p
// is non-empty the remote's identity is verified to equal p.
func (t *Transport) SecureOutbound(ctx context.Context, insecure net.Conn, p peer.ID) (sec.SecureConn, error) {
	s, err := newSecureSession(ctx, t, insecure, p, true, p != "")
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SecureInbound runs the responder side of the Noise XX handshake.
func (t *Transport) SecureInbound(ctx context.Context, insecure net.Conn, p peer.ID) (sec.SecureConn, error) {
	s, err := newSecureSession(ctx, t, insecure, p, false, p != "")
	if err != nil {
		return nil, err
	}
	return s, nil
}
