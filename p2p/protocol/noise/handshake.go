package noise

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/Pier-Two/libp2p-c/core/crypto"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/sec"

	"github.com/flynn/noise"
	pool "github.com/libp2p/go-buffer-pool"
)

// payloadSigPrefix is prepended to the local Noise static key before
// signing it with the libp2p identity key (spec §3, "signature_over").
const payloadSigPrefix = "noise-libp2p-static-key:"

// cipherSuite is fixed for every session: 25519_ChaChaPoly_SHA256 (spec
// §4.3).
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// runHandshake drives the three-message Noise XX pattern
// (→e, ←e,ee,s,es,payload, →s,se,payload), carrying the identity payload on
// the responder's second message and the initiator's third (spec §4.3).
func (s *secureSession) runHandshake(ctx context.Context) error {
	kp, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return fmt.Errorf("error generating static keypair: %w", err)
	}

	cfg := noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     s.initiator,
		StaticKeypair: kp,
		Prologue:      s.prologue,
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return fmt.Errorf("error initializing handshake state: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.SetDeadline(deadline); err == nil {
			defer s.SetDeadline(time.Time{})
		}
	}

	hbuf := pool.Get(2 << 10)
	defer pool.Put(hbuf)

	if s.initiator {
		if err := s.sendHandshakeMessage(hs, nil, hbuf); err != nil {
			return fmt.Errorf("error sending handshake message: %w", err)
		}

		plaintext, err := s.readHandshakeMessage(hs)
		if err != nil {
			return fmt.Errorf("error reading handshake message: %w", err)
		}
		if _, err := s.handleRemoteHandshakePayload(plaintext, hs.PeerStatic()); err != nil {
			return err
		}

		var ed *NoiseExtensions
		if s.initiatorEarlyDataHandler != nil {
			ed = s.initiatorEarlyDataHandler.Send(ctx, s.insecureConn, s.remoteID)
		}
		payload, err := s.generateHandshakePayload(kp, ed)
		if err != nil {
			return err
		}
		if err := s.sendHandshakeMessage(hs, payload, hbuf); err != nil {
			return fmt.Errorf("error sending handshake message: %w", err)
		}
		return nil
	}

	if _, err := s.readHandshakeMessage(hs); err != nil {
		return fmt.Errorf("error reading handshake message: %w", err)
	}

	var ed *NoiseExtensions
	if s.responderEarlyDataHandler != nil {
		ed = s.responderEarlyDataHandler.Send(ctx, s.insecureConn, s.remoteID)
	}
	payload, err := s.generateHandshakePayload(kp, ed)
	if err != nil {
		return err
	}
	if err := s.sendHandshakeMessage(hs, payload, hbuf); err != nil {
		return fmt.Errorf("error sending handshake message: %w", err)
	}

	plaintext, err := s.readHandshakeMessage(hs)
	if err != nil {
		return fmt.Errorf("error reading handshake message: %w", err)
	}
	rcvdEd, err := s.handleRemoteHandshakePayload(plaintext, hs.PeerStatic())
	if err != nil {
		return err
	}
	if s.responderEarlyDataHandler != nil {
		if err := s.responderEarlyDataHandler.Received(ctx, s.insecureConn, rcvdEd); err != nil {
			return err
		}
	}
	return nil
}

func (s *secureSession) setCipherStates(cs1, cs2 *noise.CipherState) {
	if s.initiator {
		s.enc = cs1
		s.dec = cs2
	} else {
		s.enc = cs2
		s.dec = cs1
	}
}

func (s *secureSession) sendHandshakeMessage(hs *noise.HandshakeState, payload []byte, hbuf []byte) error {
	bz, cs1, cs2, err := hs.WriteMessage(hbuf[:LengthPrefixLength], payload)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(bz, uint16(len(bz)-LengthPrefixLength))

	if _, err := s.insecureConn.Write(bz); err != nil {
		return err
	}
	if cs1 != nil && cs2 != nil {
		s.setCipherStates(cs1, cs2)
	}
	return nil
}

func (s *secureSession) readHandshakeMessage(hs *noise.HandshakeState) ([]byte, error) {
	if _, err := io.ReadFull(s.insecureReader, s.rlen[:]); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint16(s.rlen[:])

	buf := pool.Get(int(l))
	defer pool.Put(buf)

	if _, err := io.ReadFull(s.insecureReader, buf); err != nil {
		return nil, err
	}

	msg, cs1, cs2, err := hs.ReadMessage(nil, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	if cs1 != nil && cs2 != nil {
		s.setCipherStates(cs1, cs2)
	}
	return msg, nil
}

// generateHandshakePayload signs the local Noise static key with the local
// libp2p identity key and wraps it, the marshaled identity key, and any
// extensions into the wire payload.
func (s *secureSession) generateHandshakePayload(localStatic noise.DHKey, ext *NoiseExtensions) ([]byte, error) {
	localKeyRaw, err := crypto.MarshalPublicKey(s.localKey.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("error serializing libp2p identity key: %w", err)
	}

	toSign := append([]byte(payloadSigPrefix), localStatic.Public...)
	signedPayload, err := s.localKey.Sign(toSign)
	if err != nil {
		return nil, fmt.Errorf("error signing handshake payload: %w", err)
	}

	return (&NoiseHandshakePayload{
		IdentityKey: localKeyRaw,
		IdentitySig: signedPayload,
		Extensions:  ext,
	}).Marshal(), nil
}

// handleRemoteHandshakePayload unmarshals the remote's identity payload,
// verifies its signature binds the Noise static key to the claimed identity
// key, derives the remote peer ID from that key, and (if a remote ID was
// expected) checks they match (spec §3, "Identity payload" invariant).
func (s *secureSession) handleRemoteHandshakePayload(payload []byte, remoteStatic []byte) (*NoiseExtensions, error) {
	nhp, err := UnmarshalNoiseHandshakePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("error unmarshaling remote handshake payload: %w", err)
	}

	remotePubKey, err := crypto.UnmarshalPublicKey(nhp.IdentityKey)
	if err != nil {
		return nil, err
	}
	id, err := peer.IDFromPublicKey(remotePubKey)
	if err != nil {
		return nil, err
	}

	if s.checkPeerID && s.remoteID != "" && s.remoteID != id {
		return nil, sec.ErrPeerIDMismatch{Expected: s.remoteID, Actual: id}
	}

	msg := append([]byte(payloadSigPrefix), remoteStatic...)
	ok, err := remotePubKey.Verify(msg, nhp.IdentitySig)
	if err != nil {
		return nil, fmt.Errorf("%w: error verifying signature: %v", ErrCryptoFailure, err)
	} else if !ok {
		return nil, fmt.Errorf("%w: handshake signature invalid", ErrCryptoFailure)
	}

	s.remoteID = id
	s.remoteKey = remotePubKey
	return nhp.Extensions, nil
}
