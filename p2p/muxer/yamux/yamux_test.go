package yamux

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sessionPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	cfg := DefaultConfig()
	cfg.KeepAliveInterval = 0
	client := NewSession(a, false, cfg)
	server := NewSession(b, true, cfg)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestOpenAcceptStreamRoundTrip(t *testing.T) {
	client, server := sessionPair(t)

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

func TestStreamResetPropagates(t *testing.T) {
	client, server := sessionPair(t)

	accepted := make(chan interface{ Read([]byte) (int, error) }, 1)
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
	require.Error(t, err)
}

func TestFlowControlBlocksBeyondWindow(t *testing.T) {
	a, b := net.Pipe()
	cfg := Config{InitialWindow: 1024, Clock: DefaultConfig().Clock}
	client := NewSession(a, false, cfg)
	server := NewSession(b, true, cfg)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stream, err := client.OpenStream(ctx)
	require.NoError(t, err)

	serverDone := make(chan struct{})
	var serverStream interface {
		Read([]byte) (int, error)
	}
	go func() {
		defer close(serverDone)
		s, err := server.AcceptStream()
		if err != nil {
			return
		}
		serverStream = s
		buf := make([]byte, 2048)
		total := 0
		for total < 2048 {
			n, err := s.Read(buf[total:])
			if err != nil {
				return
			}
			total += n
		}
	}()

	payload := bytes.Repeat([]byte{'x'}, 2048)
	n, err := stream.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	<-serverDone
	_ = serverStream
}
