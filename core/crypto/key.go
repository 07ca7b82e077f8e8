// Package crypto implements the peer-identity key contract consumed by the
// Noise identity payload (spec §6, "Peer-id contract"): signing, public key
// marshaling, and key-type tagging. Only Ed25519 is implemented — the
// original go-libp2p additionally supports RSA/Secp256k1/ECDSA, but a single
// curve is sufficient to drive the Noise XX handshake this repository
// implements end to end.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// KeyType tags the kind of key a marshaled PublicKey/PrivateKey record
// carries, matching the numbering of the original go-libp2p protobuf enum.
type KeyType int64

const (
	RSA KeyType = iota
	Ed25519
	Secp256k1
	ECDSA
)

// Field numbers of the hand-rolled PublicKey/PrivateKey wire record:
// field 1 = key type (varint), field 2 = key data (bytes). This mirrors the
// shape of go-libp2p's generated `crypto.pb.go` PublicKey/PrivateKey
// messages without requiring protoc-generated code; it is encoded with
// google.golang.org/protobuf's low-level protowire helpers directly.
const (
	fieldKeyType = 1
	fieldKeyData = 2
)

var (
	ErrBadKeyType   = errors.New("crypto: unrecognized or unsupported key type")
	ErrMalformedKey = errors.New("crypto: malformed key record")
)

// PubKey is a public key that can verify signatures over the corresponding
// private key's signatures.
type PubKey interface {
	// Raw returns the protobuf-framed public key record.
	Raw() ([]byte, error)
	Type() KeyType
	Verify(data, sig []byte) (bool, error)
	Equals(PubKey) bool
}

// PrivKey is a private key that can sign messages and expose its public
// counterpart.
type PrivKey interface {
	Raw() ([]byte, error)
	Type() KeyType
	Sign(msg []byte) ([]byte, error)
	GetPublic() PubKey
	Equals(PrivKey) bool
}

func marshalKeyRecord(t KeyType, data []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKeyType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t))
	b = protowire.AppendTag(b, fieldKeyData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

func unmarshalKeyRecord(b []byte) (KeyType, []byte, error) {
	var (
		kt      KeyType
		data    []byte
		sawType bool
		sawData bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, nil, ErrMalformedKey
		}
		b = b[n:]
		switch num {
		case fieldKeyType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, nil, ErrMalformedKey
			}
			b = b[n:]
			kt = KeyType(v)
			sawType = true
		case fieldKeyData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, nil, ErrMalformedKey
			}
			b = b[n:]
			data = append([]byte(nil), v...)
			sawData = true
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, nil, ErrMalformedKey
			}
			b = b[n:]
		}
	}
	if !sawType || !sawData {
		return 0, nil, ErrMalformedKey
	}
	return kt, data, nil
}

// MarshalPublicKey returns the protobuf-framed wire form of a public key.
func MarshalPublicKey(pk PubKey) ([]byte, error) {
	raw, err := rawKeyBytes(pk)
	if err != nil {
		return nil, err
	}
	return marshalKeyRecord(pk.Type(), raw), nil
}

// UnmarshalPublicKey parses the protobuf-framed wire form of a public key.
func UnmarshalPublicKey(b []byte) (PubKey, error) {
	kt, data, err := unmarshalKeyRecord(b)
	if err != nil {
		return nil, err
	}
	switch kt {
	case Ed25519:
		if len(data) != ed25519.PublicKeySize {
			return nil, ErrMalformedKey
		}
		return &Ed25519PublicKey{k: ed25519.PublicKey(data)}, nil
	default:
		return nil, ErrBadKeyType
	}
}

func rawKeyBytes(pk PubKey) ([]byte, error) {
	switch k := pk.(type) {
	case *Ed25519PublicKey:
		return []byte(k.k), nil
	default:
		return nil, ErrBadKeyType
	}
}

// GenerateEd25519Key generates a fresh Ed25519 identity keypair.
func GenerateEd25519Key(src io.Reader) (PrivKey, PubKey, error) {
	if src == nil {
		src = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return nil, nil, err
	}
	sk := &Ed25519PrivateKey{k: priv}
	pk := &Ed25519PublicKey{k: pub}
	return sk, pk, nil
}
