// Package peer implements the peer-id contract consumed by the rest of the
// pipeline (spec §6): deriving a stable name for an identity public key and
// rendering it as text in both the legacy base58btc form and the CIDv1
// multibase form.
package peer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Pier-Two/libp2p-c/core/crypto"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// ID is a libp2p peer ID: a multihash over an identity public key.
type ID string

// libp2pKeyMulticodec is the multicodec for a libp2p public key wrapped in a
// CIDv1 ("libp2p-key", 0x72).
const libp2pKeyMulticodec = 0x72

// cidV1 is the CID version byte carried before the multicodec in the CIDv1
// binary form.
const cidV1 = 1

// maxInlineKeyLength is the largest public key that is embedded directly
// (via the "identity" multihash) rather than hashed with sha2-256.
const maxInlineKeyLength = 42

var (
	ErrEmptyPeerID = errors.New("peer: empty peer ID")
	ErrMalformed   = errors.New("peer: malformed peer ID")
)

// IDFromPublicKey derives a peer ID from an identity public key: the
// multihash is "identity" (the key bytes themselves) when the marshaled key
// is short enough, and "sha2-256" of the marshaled key otherwise (spec §6).
func IDFromPublicKey(pk crypto.PubKey) (ID, error) {
	b, err := crypto.MarshalPublicKey(pk)
	if err != nil {
		return "", err
	}
	var alg uint64
	if len(b) <= maxInlineKeyLength {
		alg = multihash.IDENTITY
	} else {
		alg = multihash.SHA2_256
	}
	mh, err := multihash.Sum(b, alg, -1)
	if err != nil {
		return "", err
	}
	return ID(mh), nil
}

// Validate reports whether id decodes as a well-formed multihash.
func (id ID) Validate() error {
	if len(id) == 0 {
		return ErrEmptyPeerID
	}
	if _, err := multihash.Cast([]byte(id)); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return nil
}

// String renders the peer ID using the legacy base58btc encoding, matching
// go-libp2p's default String() behaviour.
func (id ID) String() string {
	return base58.Encode([]byte(id))
}

// Loggable returns a short form suitable for log lines.
func (id ID) Loggable() string {
	s := id.String()
	if len(s) <= 10 {
		return s
	}
	return s[:2] + "*" + s[len(s)-6:]
}

// CIDString renders the peer ID as a CIDv1 in base32 multibase form:
// base32 ‖ cidv1 ‖ libp2p-key(0x72) ‖ multihash.
func (id ID) CIDString() (string, error) {
	if len(id) == 0 {
		return "", ErrEmptyPeerID
	}
	var hdr [2 * binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], cidV1)
	n += binary.PutUvarint(hdr[n:], libp2pKeyMulticodec)
	buf := make([]byte, 0, n+len(id))
	buf = append(buf, hdr[:n]...)
	buf = append(buf, id...)
	return multibase.Encode(multibase.Base32, buf)
}

// Decode parses either a legacy base58btc peer ID or a CIDv1 multibase peer
// ID back into an ID, inverting String()/CIDString() (spec invariant 6:
// parse(format(pid)) = pid).
func Decode(s string) (ID, error) {
	if s == "" {
		return "", ErrEmptyPeerID
	}
	if s[0] == '1' || s[0] == 'Q' {
		b, err := base58.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrMalformed, err)
		}
		return ID(b), nil
	}
	_, data, err := multibase.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	version, n := binary.Uvarint(data)
	if n <= 0 || version != cidV1 {
		return "", ErrMalformed
	}
	data = data[n:]
	codec, n := binary.Uvarint(data)
	if n <= 0 || codec != libp2pKeyMulticodec {
		return "", ErrMalformed
	}
	return ID(data[n:]), nil
}

// ExtractPublicKey recovers the embedded public key for identity-multihash
// peer IDs (keys short enough to be inlined rather than hashed). It returns
// an error for sha2-256-derived IDs, which do not carry the key.
func ExtractPublicKey(id ID) (crypto.PubKey, error) {
	dec, err := multihash.Decode([]byte(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if dec.Code != multihash.IDENTITY {
		return nil, errors.New("peer: peer ID is hash-derived, public key not recoverable")
	}
	return crypto.UnmarshalPublicKey(dec.Digest)
}

// AddrInfo is a minimal peer address hint: enough for Dial to know who it
// expects on the other end of a multiaddr.
type AddrInfo struct {
	ID ID
}
