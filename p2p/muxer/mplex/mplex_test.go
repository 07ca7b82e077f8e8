package mplex

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sessionPair(t *testing.T, cfg Config) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	client := NewSession(a, false, cfg)
	server := NewSession(b, true, cfg)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestOpenAcceptStreamRoundTrip(t *testing.T) {
	client, server := sessionPair(t, DefaultConfig())

	done := make(chan error, 1)
	go func() {
		s, err := server.AcceptStream()
		if err != nil {
			done <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := io.ReadFull(s, buf); err != nil {
			done <- err
			return
		}
		if !bytes.Equal(buf, []byte("hello")) {
			done <- io.ErrUnexpectedEOF
			return
		}
		_, err = s.Write([]byte("world"))
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := client.OpenStream(ctx)
	require.NoError(t, err)

	_, err = stream.Write([]byte("hello"))
	require.NoError(t, err)

	reply := make([]byte, 5)
	_, err = io.ReadFull(stream, reply)
	require.NoError(t, err)
	require.Equal(t, "world", string(reply))

	require.NoError(t, <-done)
}

func TestCloseSignalsEOFAfterFIN(t *testing.T) {
	client, server := sessionPair(t, DefaultConfig())

	accepted := make(chan net.Conn, 1)
	go func() {
		s, err := server.AcceptStream()
		if err == nil {
			accepted <- s
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := client.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	s := <-accepted
	buf := make([]byte, 1)
	_, err = s.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestResetPropagates(t *testing.T) {
	client, server := sessionPair(t, DefaultConfig())

	accepted := make(chan net.Conn, 1)
	go func() {
		s, err := server.AcceptStream()
		if err == nil {
			accepted <- s
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := client.OpenStream(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Reset())

	s := <-accepted
	buf := make([]byte, 1)
	_, err = s.Read(buf)
	require.ErrorIs(t, err, ErrStreamReset)
}

func TestInboundCapExceededResetsStream(t *testing.T) {
	cfg := Config{MaxFrameBytes: 1 << 20, MaxInboundBuffered: 16}
	client, server := sessionPair(t, cfg)

	accepted := make(chan net.Conn, 1)
	go func() {
		s, err := server.AcceptStream()
		if err == nil {
			accepted <- s
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := client.OpenStream(ctx)
	require.NoError(t, err)

	s := <-accepted

	// The receiver never reads, so once its inbound buffer cap is exceeded
	// the session resets the substream locally and notifies the sender.
	for i := 0; i < 10; i++ {
		if _, err := stream.Write(bytes.Repeat([]byte{'x'}, 8)); err != nil {
			break
		}
	}

	buf := make([]byte, 1)
	require.Eventually(t, func() bool {
		_, err := s.Read(buf)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}
