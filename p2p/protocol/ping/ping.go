// Package ping implements the liveness/RTT probe (spec §4.8): write 32
// random bytes, read exactly 32 bytes back, compare. Grounded on go-libp2p's
// ping protocol shape (only the test file survived retrieval, see
// p2p/protocol/ping/ping_test.go in the teacher tree), reattached here to
// this module's node.Node instead of host.Host.
package ping

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/protocol"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ping")

// ID is the protocol ID multiselect advertises for this protocol (spec §6).
const ID protocol.ID = protocol.PingID

// Size is the number of random bytes exchanged per ping.
const Size = 32

// Timeout bounds a single ping round trip.
const Timeout = 60 * time.Second

// ErrMismatch is returned when the echoed payload doesn't match what was
// sent.
var ErrMismatch = errors.New("ping: echoed payload does not match")

// Streamer is the subset of node.Node the ping service needs: enough to
// register a handler and to open outbound streams.
type Streamer interface {
	SetStreamHandler(proto protocol.ID, handler network.StreamHandler)
	NewStream(ctx context.Context, p peer.ID, protos ...protocol.ID) (network.MuxedStream, error)
}

// Result is one round trip's outcome.
type Result struct {
	RTT   time.Duration
	Error error
}

// Service answers inbound pings and issues outbound ones.
type Service struct {
	h Streamer
}

// NewService registers the ping handler on h and returns a Service that can
// also issue pings.
func NewService(h Streamer) *Service {
	s := &Service{h: h}
	h.SetStreamHandler(ID, s.handleStream)
	return s
}

func (s *Service) handleStream(stream network.MuxedStream, _ protocol.ID) {
	defer stream.Close()
	buf := make([]byte, Size)
	for {
		stream.SetReadDeadline(time.Now().Add(Timeout))
		if _, err := io.ReadFull(stream, buf); err != nil {
			if err != io.EOF {
				log.Debugf("ping: read error: %v", err)
			}
			return
		}
		if _, err := stream.Write(buf); err != nil {
			log.Debugf("ping: write error: %v", err)
			return
		}
	}
}

// Ping sends one 32-byte random probe to p over a fresh stream and reports
// the round-trip latency, or the error that prevented it.
func Ping(ctx context.Context, h Streamer, p peer.ID) Result {
	stream, err := h.NewStream(ctx, p, ID)
	if err != nil {
		return Result{Error: err}
	}
	defer stream.Close()

	payload := make([]byte, Size)
	if _, err := rand.Read(payload); err != nil {
		return Result{Error: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	} else {
		stream.SetDeadline(time.Now().Add(Timeout))
	}

	start := time.Now()
	if _, err := stream.Write(payload); err != nil {
		stream.Reset()
		return Result{Error: err}
	}
	echo := make([]byte, Size)
	if _, err := io.ReadFull(stream, echo); err != nil {
		stream.Reset()
		return Result{Error: err}
	}
	rtt := time.Since(start)

	for i := range payload {
		if payload[i] != echo[i] {
			return Result{Error: ErrMismatch}
		}
	}
	return Result{RTT: rtt}
}

// PingStream issues pings to p, one fresh stream per round, sending each
// round's result on the returned channel. It keeps going until ctx is done
// or a round fails (the failed round's result is sent first); the channel
// is closed when it stops.
func PingStream(ctx context.Context, h Streamer, p peer.ID) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			res := Ping(ctx, h, p)
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
			if res.Error != nil {
				return
			}
		}
	}()
	return out
}
