package crypto

import (
	"crypto/ed25519"
	"crypto/subtle"
)

// Ed25519PrivateKey is the libp2p identity key used to sign the Noise
// handshake payload.
type Ed25519PrivateKey struct {
	k ed25519.PrivateKey
}

func (k *Ed25519PrivateKey) Raw() ([]byte, error) {
	return marshalKeyRecord(Ed25519, []byte(k.k)), nil
}

func (k *Ed25519PrivateKey) Type() KeyType { return Ed25519 }

func (k *Ed25519PrivateKey) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.k, msg), nil
}

func (k *Ed25519PrivateKey) GetPublic() PubKey {
	pub := make([]byte, ed25519.PublicKeySize)
	copy(pub, k.k[ed25519.PrivateKeySize-ed25519.PublicKeySize:])
	return &Ed25519PublicKey{k: pub}
}

func (k *Ed25519PrivateKey) Equals(o PrivKey) bool {
	other, ok := o.(*Ed25519PrivateKey)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(k.k, other.k) == 1
}

// Ed25519PublicKey is the public half of Ed25519PrivateKey, carried inside
// the Noise handshake payload and used to derive the remote peer's ID.
type Ed25519PublicKey struct {
	k ed25519.PublicKey
}

func (k *Ed25519PublicKey) Raw() ([]byte, error) {
	return marshalKeyRecord(Ed25519, []byte(k.k)), nil
}

func (k *Ed25519PublicKey) Type() KeyType { return Ed25519 }

func (k *Ed25519PublicKey) Verify(data, sig []byte) (bool, error) {
	return ed25519.Verify(k.k, data, sig), nil
}

func (k *Ed25519PublicKey) Equals(o PubKey) bool {
	other, ok := o.(*Ed25519PublicKey)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare(k.k, other.k) == 1
}
