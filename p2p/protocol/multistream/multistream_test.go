package multistream

import (
	"net"
	"sync"
	"testing"

	"github.com/Pier-Two/libp2p-c/core/protocol"

	"github.com/stretchr/testify/require"
)

func pipe() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestSelectOneOfMatch(t *testing.T) {
	a, b := pipe()
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var negotiated protocol.ID
	var negErr error
	go func() {
		defer wg.Done()
		negotiated, negErr = Negotiate(b, OneOf("/yamux/1.0.0", "/mplex/6.7.0"))
	}()

	selected, err := SelectOneOf(a, []protocol.ID{"/mplex/6.7.0"})
	require.NoError(t, err)
	require.Equal(t, protocol.ID("/mplex/6.7.0"), selected)

	wg.Wait()
	require.NoError(t, negErr)
	require.Equal(t, protocol.ID("/mplex/6.7.0"), negotiated)
}

func TestSelectOneOfFallsThroughNA(t *testing.T) {
	a, b := pipe()
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		Negotiate(b, ExactlyOne("/yamux/1.0.0"))
	}()

	selected, err := SelectOneOf(a, []protocol.ID{"/mplex/6.7.0", "/yamux/1.0.0"})
	require.NoError(t, err)
	require.Equal(t, protocol.ID("/yamux/1.0.0"), selected)
	wg.Wait()
}

func TestNegotiateNoMutualProtocol(t *testing.T) {
	a, b := pipe()
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer b.Close()
		Negotiate(b, ExactlyOne("/yamux/1.0.0"))
	}()

	_, err := SelectOneOf(a, []protocol.ID{"/mplex/6.7.0"})
	require.ErrorIs(t, err, ErrNoMutualProtocol)
	// The failed selection leaves the pipe open; closing the initiator's end
	// is what ends the responder's wait for another candidate.
	a.Close()
	<-done
}

func TestHeaderMismatch(t *testing.T) {
	a, b := pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		readLine(b) // consume the initiator's combined header+candidate write
		writeLine(b, "/not-multistream/9.9.9")
	}()

	_, err := SelectOneOf(a, []protocol.ID{"/mplex/6.7.0"})
	require.ErrorIs(t, err, ErrHeaderMismatch)
}
