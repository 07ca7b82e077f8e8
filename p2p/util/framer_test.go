package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadLPRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := []byte("hello multistream")
	require.NoError(t, WriteLP(&buf, msg))

	got, err := ReadLP(&buf, 1024)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestWriteReadLPEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLP(&buf, nil))
	got, err := ReadLP(&buf, 1024)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReadLPRejectsOversizeBeforeAllocating(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLP(&buf, bytes.Repeat([]byte{'a'}, 2000)))

	_, err := ReadLP(&buf, 100)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}
