package peer

import (
	"crypto/rand"
	"testing"

	"github.com/Pier-Two/libp2p-c/core/crypto"

	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T) (crypto.PrivKey, crypto.PubKey) {
	t.Helper()
	sk, pk, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	return sk, pk
}

func TestStringRoundTrip(t *testing.T) {
	_, pk := genKey(t)
	id, err := IDFromPublicKey(pk)
	require.NoError(t, err)

	s := id.String()
	got, err := Decode(s)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestCIDStringRoundTrip(t *testing.T) {
	_, pk := genKey(t)
	id, err := IDFromPublicKey(pk)
	require.NoError(t, err)

	s, err := id.CIDString()
	require.NoError(t, err)
	got, err := Decode(s)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestEd25519KeyIsInlinedAsIdentityMultihash(t *testing.T) {
	_, pk := genKey(t)
	id, err := IDFromPublicKey(pk)
	require.NoError(t, err)

	recovered, err := ExtractPublicKey(id)
	require.NoError(t, err)
	require.True(t, pk.Equals(recovered))
}

func TestDecodeRejectsEmpty(t *testing.T) {
	_, err := Decode("")
	require.ErrorIs(t, err, ErrEmptyPeerID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not-a-valid-peer-id!!")
	require.Error(t, err)
}

func TestValidateRejectsEmpty(t *testing.T) {
	var id ID
	require.ErrorIs(t, id.Validate(), ErrEmptyPeerID)
}

func TestLoggableTruncates(t *testing.T) {
	_, pk := genKey(t)
	id, err := IDFromPublicKey(pk)
	require.NoError(t, err)

	short := id.Loggable()
	require.Contains(t, short, "*")
	require.Less(t, len(short), len(id.String()))
}
