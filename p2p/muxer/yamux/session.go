package yamux

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/protocol"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("yamux")

// ID is the protocol ID multiselect advertises for this muxer (spec §6).
const ID protocol.ID = protocol.YamuxID

// Config holds the tunables spec §6 enumerates for yamux.
type Config struct {
	InitialWindow     uint32
	KeepAliveInterval time.Duration
	Clock             clock.Clock
}

// DefaultConfig returns the spec-mandated defaults: 256 KiB windows, 30s
// keepalive.
func DefaultConfig() Config {
	return Config{
		InitialWindow:     256 * 1024,
		KeepAliveInterval: 30 * time.Second,
		Clock:             clock.New(),
	}
}

type outboundFrame struct {
	hdr     header
	payload []byte
}

// Session is one yamux-multiplexed connection: a single reader task parses
// inbound frames, a single writer task serializes outbound frames, and a
// session-level mutex guards the stream table (spec §4.4, §5).
type Session struct {
	conn     net.Conn
	isServer bool
	cfg      Config

	mu           sync.Mutex
	streams      map[uint32]*Stream
	nextID       uint32
	closed       bool
	shutdownErr  error

	sendCh   chan outboundFrame
	acceptCh chan *Stream
	closeCh  chan struct{}

	pingMu    sync.Mutex
	nextPing  uint32
	pingWait  map[uint32]chan struct{}
	missedKA  int

	wg sync.WaitGroup
}

var _ network.MuxedConn = (*Session)(nil)

// NewSession wraps conn (already secured) in a yamux session. isServer
// decides stream-id parity: client-originated IDs are odd, server even
// (spec §3, "Yamux frame").
func NewSession(conn net.Conn, isServer bool, cfg Config) *Session {
	if cfg.InitialWindow == 0 {
		cfg.InitialWindow = DefaultConfig().InitialWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	start := uint32(1)
	if isServer {
		start = 2
	}
	s := &Session{
		conn:     conn,
		isServer: isServer,
		cfg:      cfg,
		streams:  make(map[uint32]*Stream),
		nextID:   start,
		sendCh:   make(chan outboundFrame, 64),
		acceptCh: make(chan *Stream, 16),
		closeCh:  make(chan struct{}),
		pingWait: make(map[uint32]chan struct{}),
	}
	s.wg.Add(2)
	go s.recvLoop()
	go s.sendLoop()
	if cfg.KeepAliveInterval > 0 {
		s.wg.Add(1)
		go s.keepaliveLoop()
	}
	return s
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cascades RST to every live substream and tears the session down
// (spec §5, "Cancelling the session cascades RST to all live substreams").
func (s *Session) Close() error {
	return s.CloseWithError(ErrSessionClosed)
}

func (s *Session) CloseWithError(reason error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.shutdownErr = reason
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.streams = map[uint32]*Stream{}
	s.mu.Unlock()

	for _, st := range streams {
		st.onReset(reason)
	}

	close(s.closeCh)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// OpenStream allocates a new stream and sends the opening SYN frame. It
// does not wait for the peer's ACK before returning the stream is usable
// immediately, matching real-world yamux behaviour (spec §4.4, "Stream
// opening").
func (s *Session) OpenStream(ctx context.Context) (network.MuxedStream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	id := s.nextID
	s.nextID += 2
	st := newStream(id, s, s.cfg.InitialWindow)
	s.streams[id] = st
	s.mu.Unlock()

	select {
	case s.sendCh <- outboundFrame{hdr: encodeHeader(typeData, flagSYN, id, 0)}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closeCh:
		return nil, ErrSessionClosed
	}
	return st, nil
}

func (s *Session) AcceptStream() (network.MuxedStream, error) {
	select {
	case st := <-s.acceptCh:
		return st, nil
	case <-s.closeCh:
		s.mu.Lock()
		err := s.shutdownErr
		s.mu.Unlock()
		if err == nil {
			err = ErrSessionClosed
		}
		return nil, err
	}
}

func (s *Session) enqueue(f outboundFrame) error {
	select {
	case s.sendCh <- f:
		return nil
	case <-s.closeCh:
		return ErrSessionClosed
	}
}

func (s *Session) sendLoop() {
	defer s.wg.Done()
	for {
		select {
		case f := <-s.sendCh:
			if _, err := s.conn.Write(f.hdr[:]); err != nil {
				return
			}
			if len(f.payload) > 0 {
				if _, err := s.conn.Write(f.payload); err != nil {
					return
				}
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) recvLoop() {
	defer s.wg.Done()

	// cause records why the loop actually stopped, so CloseWithError (and
	// every blocked OpenStream/AcceptStream caller) sees the real reason —
	// a protocol violation, a GoAway, or the underlying conn failing —
	// rather than a generic closed-pipe error (spec §4.4/§7).
	cause := error(io.ErrClosedPipe)
	defer func() { s.CloseWithError(cause) }()

	var hdr header
	for {
		if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
			if err != io.EOF {
				cause = err
			}
			return
		}
		if hdr[0] != protocolVersion {
			log.Warnf("yamux: bad version %d", hdr[0])
			s.sendGoAway(goAwayProtocolError)
			cause = fmt.Errorf("%w: bad version %d", ErrProtocolError, hdr[0])
			return
		}
		switch hdr.Type() {
		case typeData:
			if err := s.handleData(hdr); err != nil {
				cause = err
				return
			}
		case typeWindowUpdate:
			s.handleWindowUpdate(hdr)
		case typePing:
			s.handlePing(hdr)
		case typeGoAway:
			log.Debugf("yamux: received GoAway code=%d", hdr.Length())
			cause = ErrGoAwayReceived
			return
		default:
			log.Warnf("yamux: unknown frame type %d", hdr.Type())
			s.sendGoAway(goAwayProtocolError)
			cause = fmt.Errorf("%w: unknown frame type %d", ErrProtocolError, hdr.Type())
			return
		}
	}
}

func (s *Session) handleData(hdr header) error {
	id := hdr.StreamID()
	length := hdr.Length()
	flags := hdr.Flags()

	s.mu.Lock()
	st, ok := s.streams[id]
	isNew := false
	if flags&flagSYN != 0 {
		if ok {
			s.mu.Unlock()
			s.sendReset(id)
			if length > 0 {
				if _, err := io.CopyN(io.Discard, s.conn, int64(length)); err != nil {
					return err
				}
			}
			return nil
		}
		st = newStream(id, s, s.cfg.InitialWindow)
		s.streams[id] = st
		isNew = true
		ok = true
	}
	s.mu.Unlock()

	if isNew {
		select {
		case s.acceptCh <- st:
		case <-s.closeCh:
			return ErrSessionClosed
		}
		// Immediate ACK rather than a true lazy piggyback on the next
		// outbound frame: simpler, and the peer only needs to observe the
		// ack eventually (spec §4.4 doesn't require laziness, only that an
		// ACK occurs on the responder's outbound path).
		_ = s.enqueue(outboundFrame{hdr: encodeHeader(typeWindowUpdate, flagACK, id, 0)})
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(s.conn, payload); err != nil {
			return err
		}
	}

	if !ok {
		// Frame for an unknown, already-destroyed stream; drop silently.
		return nil
	}

	if length > 0 {
		if !st.accountRecv(len(payload)) {
			log.Warnf("yamux: recv window underflow on stream %d", id)
			s.sendGoAway(goAwayProtocolError)
			return fmt.Errorf("%w: recv window underflow", ErrProtocolError)
		}
		st.pushData(payload)
	}

	if flags&flagFIN != 0 {
		st.onRemoteClose()
	}
	if flags&flagRST != 0 {
		st.onReset(ErrPeerReset)
		s.removeStream(id)
	}
	return nil
}

func (s *Session) handleWindowUpdate(hdr header) {
	id := hdr.StreamID()
	delta := hdr.Length()
	s.mu.Lock()
	st, ok := s.streams[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if hdr.Flags()&flagFIN != 0 {
		st.onRemoteClose()
	}
	if hdr.Flags()&flagRST != 0 {
		st.onReset(ErrPeerReset)
		s.removeStream(id)
		return
	}
	if delta > 0 {
		st.grantSendWindow(delta)
	}
}

func (s *Session) handlePing(hdr header) {
	nonce := hdr.Length()
	if hdr.Flags()&flagSYN != 0 {
		_ = s.enqueue(outboundFrame{hdr: encodeHeader(typePing, flagACK, 0, nonce)})
		return
	}
	if hdr.Flags()&flagACK != 0 {
		s.pingMu.Lock()
		if ch, ok := s.pingWait[nonce]; ok {
			close(ch)
			delete(s.pingWait, nonce)
		}
		s.missedKA = 0
		s.pingMu.Unlock()
	}
}

func (s *Session) removeStream(id uint32) {
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
}

func (s *Session) sendReset(id uint32) {
	_ = s.enqueue(outboundFrame{hdr: encodeHeader(typeData, flagRST, id, 0)})
}

func (s *Session) sendGoAway(code uint32) {
	var hdr [HeaderSize]byte
	h := encodeHeader(typeGoAway, 0, 0, code)
	copy(hdr[:], h[:])
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = s.conn.Write(hdr[:])
}

func (s *Session) keepaliveLoop() {
	defer s.wg.Done()
	ticker := s.cfg.Clock.Ticker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.pingMu.Lock()
			nonce := s.nextPing
			s.nextPing++
			ch := make(chan struct{})
			s.pingWait[nonce] = ch
			s.pingMu.Unlock()

			if err := s.enqueue(outboundFrame{hdr: encodeHeader(typePing, flagSYN, 0, nonce)}); err != nil {
				return
			}

			select {
			case <-ch:
			case <-s.cfg.Clock.After(s.cfg.KeepAliveInterval):
				s.pingMu.Lock()
				delete(s.pingWait, nonce)
				s.missedKA++
				missed := s.missedKA
				s.pingMu.Unlock()
				if missed >= 2 {
					log.Warnf("yamux: missed %d keepalives, terminating session", missed)
					s.sendGoAway(goAwayInternalError)
					s.CloseWithError(fmt.Errorf("%w: keepalive timeout", ErrProtocolError))
					return
				}
			case <-s.closeCh:
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
