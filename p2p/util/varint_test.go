package util

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1}
	for _, v := range cases {
		buf := AppendUvarint(nil, v)
		require.Equal(t, UvarintSize(v), len(buf))
		got, err := ReadUvarint(AsByteReader(bytes.NewReader(buf)))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestReadUvarintOverflow(t *testing.T) {
	// Nine continuation bytes with no terminator: always overflows.
	buf := bytes.Repeat([]byte{0x80}, 9)
	_, err := ReadUvarint(AsByteReader(bytes.NewReader(buf)))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestReadUvarintNinthByteHighBits(t *testing.T) {
	// 8 continuation bytes then a 9th whose value is > 1: the 9th byte
	// carries bits 56..62, so all of its 7 value bits are accepted.
	buf := append(bytes.Repeat([]byte{0xff}, 8), 0x02)
	v, err := ReadUvarint(AsByteReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	require.Equal(t, uint64(0x02)<<56|(1<<56-1), v)
}

func TestReadUvarintTruncated(t *testing.T) {
	_, err := ReadUvarint(AsByteReader(bytes.NewReader(nil)))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadUvarintMax(t *testing.T) {
	buf := AppendUvarint(nil, 1000)
	_, err := ReadUvarintMax(AsByteReader(bytes.NewReader(buf)), 10)
	require.ErrorIs(t, err, ErrTooLarge)

	v, err := ReadUvarintMax(AsByteReader(bytes.NewReader(buf)), 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), v)
}
