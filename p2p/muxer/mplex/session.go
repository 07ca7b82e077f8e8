package mplex

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/protocol"
	"github.com/Pier-Two/libp2p-c/p2p/util"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("mplex")

// ID is the protocol ID multiselect advertises for this muxer (spec §6).
const ID protocol.ID = protocol.MplexID

// Config holds mplex's tunables. Unlike yamux, mplex has no flow control;
// MaxFrameBytes bounds a single frame, and MaxInboundBuffered bounds the
// total unread bytes a slow reader may leave buffered on one substream
// before it gets reset (spec §4.5).
type Config struct {
	MaxFrameBytes      int
	MaxInboundBuffered int
}

// DefaultConfig matches go-libp2p's mplex defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrameBytes:      1 << 20,
		MaxInboundBuffered: 4 << 20,
	}
}

// streamKey identifies a substream the way both peers can agree on without
// coordinating id allocation: the numeric id plus whether *I* am the one
// who opened it (spec §3, "(stream_id, initiator_bit) tuple").
type streamKey struct {
	id        uint64
	initiator bool
}

type outboundFrame struct {
	streamID uint64
	flag     uint64
	payload  []byte
}

// Session is one mplex-multiplexed connection. It has no per-stream flow
// control: a slow reader causes head-of-line blocking on the shared
// connection until its inbound cap forces a reset (spec §4.5).
type Session struct {
	conn     net.Conn
	isServer bool
	cfg      Config

	mu      sync.Mutex
	streams map[streamKey]*Stream
	nextID  uint64
	closed  bool

	sendCh   chan outboundFrame
	acceptCh chan *Stream
	closeCh  chan struct{}

	wg sync.WaitGroup
}

var _ network.MuxedConn = (*Session)(nil)

// NewSession wraps conn in an mplex session.
func NewSession(conn net.Conn, isServer bool, cfg Config) *Session {
	if cfg.MaxFrameBytes == 0 {
		cfg = DefaultConfig()
	}
	s := &Session{
		conn:     conn,
		isServer: isServer,
		cfg:      cfg,
		streams:  make(map[streamKey]*Stream),
		sendCh:   make(chan outboundFrame, 64),
		acceptCh: make(chan *Stream, 16),
		closeCh:  make(chan struct{}),
	}
	s.wg.Add(2)
	go s.recvLoop()
	go s.sendLoop()
	return s
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.streams = map[streamKey]*Stream{}
	s.mu.Unlock()

	for _, st := range streams {
		st.onReset(ErrShutdown)
	}
	close(s.closeCh)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// OpenStream allocates a locally-initiated stream and sends NewStream.
func (s *Session) OpenStream(ctx context.Context) (network.MuxedStream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	id := s.nextID
	s.nextID++
	key := streamKey{id: id, initiator: true}
	st := newStream(id, true, s, s.cfg.MaxInboundBuffered)
	s.streams[key] = st
	s.mu.Unlock()

	name := fmt.Sprintf("%d", id)
	select {
	case s.sendCh <- outboundFrame{streamID: id, flag: flagNewStream, payload: []byte(name)}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closeCh:
		return nil, ErrShutdown
	}
	return st, nil
}

func (s *Session) AcceptStream() (network.MuxedStream, error) {
	select {
	case st := <-s.acceptCh:
		return st, nil
	case <-s.closeCh:
		return nil, ErrShutdown
	}
}

func (s *Session) enqueue(f outboundFrame) error {
	select {
	case s.sendCh <- f:
		return nil
	case <-s.closeCh:
		return ErrShutdown
	}
}

func (s *Session) sendLoop() {
	defer s.wg.Done()
	var buf []byte
	for {
		select {
		case f := <-s.sendCh:
			buf = buf[:0]
			buf = appendFrame(buf, f.streamID, f.flag, f.payload)
			if _, err := s.conn.Write(buf); err != nil {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) recvLoop() {
	defer s.wg.Done()
	defer s.Close()

	br := util.AsByteReader(s.conn)
	for {
		header, err := util.ReadUvarint(br)
		if err != nil {
			return
		}
		length, err := util.ReadUvarintMax(br, uint64(s.cfg.MaxFrameBytes))
		if err != nil {
			log.Debugf("mplex: oversized frame: %v", err)
			return
		}

		id, flag := decodeHeader(header)
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(s.conn, payload); err != nil {
				return
			}
		}

		if err := s.dispatch(id, flag, payload); err != nil {
			log.Debugf("mplex: %v", err)
			return
		}
	}
}

func (s *Session) dispatch(id uint64, flag uint64, payload []byte) error {
	remoteIsInitiator := flag&1 == 0
	key := streamKey{id: id, initiator: !remoteIsInitiator}

	switch roundKind(flag) {
	case kindNewStream:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrShutdown
		}
		if _, exists := s.streams[key]; exists {
			s.mu.Unlock()
			return fmt.Errorf("%w: duplicate stream id %d", ErrInvalidFrame, id)
		}
		st := newStream(id, false, s, s.cfg.MaxInboundBuffered)
		s.streams[key] = st
		s.mu.Unlock()

		select {
		case s.acceptCh <- st:
		case <-s.closeCh:
			return ErrShutdown
		}
		return nil

	case kindMessage:
		s.mu.Lock()
		st, ok := s.streams[key]
		s.mu.Unlock()
		if !ok {
			return nil // frame for a stream we've already torn down
		}
		if !st.pushData(payload) {
			st.onReset(ErrInboundCapExceeded)
			_ = s.enqueue(outboundFrame{streamID: id, flag: resetFlagFor(key.initiator)})
			s.removeStream(key)
		}
		return nil

	case kindClose:
		s.mu.Lock()
		st, ok := s.streams[key]
		s.mu.Unlock()
		if !ok {
			return nil
		}
		st.onRemoteClose()
		return nil

	case kindReset:
		s.mu.Lock()
		st, ok := s.streams[key]
		s.mu.Unlock()
		if !ok {
			return nil
		}
		st.onReset(ErrStreamReset)
		s.removeStream(key)
		return nil

	default:
		return fmt.Errorf("%w: unknown flag %d", ErrInvalidFrame, flag)
	}
}

func (s *Session) removeStream(key streamKey) {
	s.mu.Lock()
	delete(s.streams, key)
	s.mu.Unlock()
}

// messageFlagFor returns the flag this session must use to send a message
// on a stream it considers locally-initiated or not.
func messageFlagFor(amInitiator bool) uint64 {
	if amInitiator {
		return flagMessageInitiator
	}
	return flagMessageReceiver
}

func closeFlagFor(amInitiator bool) uint64 {
	if amInitiator {
		return flagCloseInitiator
	}
	return flagCloseReceiver
}

func resetFlagFor(amInitiator bool) uint64 {
	if amInitiator {
		return flagResetInitiator
	}
	return flagResetReceiver
}
