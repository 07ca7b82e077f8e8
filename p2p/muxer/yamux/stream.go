package yamux

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const maxFramePayload = 16 * 1024

// Stream is one yamux substream: ordered, reliable, flow-controlled in both
// directions (spec §3, "Substream"; §4.4, "Flow control").
type Stream struct {
	id      uint32
	session *Session

	mu             sync.Mutex
	cond           *sync.Cond
	inbox          [][]byte
	remoteClosed   bool
	localReadClose bool
	reset          bool
	resetErr       error
	recvWindow     uint32
	consumed       uint32
	initWindow     uint32
	readDeadline   time.Time

	sendMu        sync.Mutex
	sendWindow    uint32
	sendWindowCh  chan struct{}
	localClosed   bool
	writeDeadline time.Time
}

var _ net.Conn = (*Stream)(nil)

func newStream(id uint32, session *Session, initWindow uint32) *Stream {
	s := &Stream{
		id:           id,
		session:      session,
		recvWindow:   initWindow,
		initWindow:   initWindow,
		sendWindow:   initWindow,
		sendWindowCh: make(chan struct{}, 1),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// accountRecv decrements the receive window for an inbound payload,
// reporting false if doing so would drive it negative (spec §4.4: "if it
// would go negative, send GoAway(ProtocolError) and terminate").
func (s *Stream) accountRecv(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint32(n) > s.recvWindow {
		return false
	}
	s.recvWindow -= uint32(n)
	return true
}

func (s *Stream) pushData(b []byte) {
	s.mu.Lock()
	if !s.localReadClose {
		s.inbox = append(s.inbox, b)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) onRemoteClose() {
	s.mu.Lock()
	s.remoteClosed = true
	s.cond.Broadcast()
	local := s.isLocalClosed()
	s.mu.Unlock()
	if local {
		s.session.removeStream(s.id)
	}
}

func (s *Stream) isLocalClosed() bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.localClosed
}

func (s *Stream) onReset(err error) {
	s.mu.Lock()
	s.reset = true
	s.resetErr = err
	s.inbox = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	select {
	case s.sendWindowCh <- struct{}{}:
	default:
	}
}

func (s *Stream) grantSendWindow(delta uint32) {
	s.sendMu.Lock()
	s.sendWindow += delta
	s.sendMu.Unlock()
	select {
	case s.sendWindowCh <- struct{}{}:
	default:
	}
}

func (s *Stream) noteConsumed(n int) {
	s.mu.Lock()
	s.consumed += uint32(n)
	var delta uint32
	if s.consumed >= s.initWindow/2 {
		delta = s.consumed
		s.consumed = 0
		s.recvWindow += delta
	}
	s.mu.Unlock()
	if delta > 0 {
		_ = s.session.enqueue(outboundFrame{hdr: encodeHeader(typeWindowUpdate, 0, s.id, delta)})
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	for len(s.inbox) == 0 {
		if s.reset {
			s.mu.Unlock()
			return 0, s.resetErr
		}
		if s.localReadClose || s.remoteClosed {
			s.mu.Unlock()
			return 0, io.EOF
		}
		if !s.readDeadline.IsZero() {
			if !time.Now().Before(s.readDeadline) {
				s.mu.Unlock()
				return 0, ErrTimeout
			}
			timer := time.AfterFunc(time.Until(s.readDeadline), func() {
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			})
			s.cond.Wait()
			timer.Stop()
			continue
		}
		s.cond.Wait()
	}
	b := s.inbox[0]
	n := copy(p, b)
	if n < len(b) {
		s.inbox[0] = b[n:]
	} else {
		s.inbox = s.inbox[1:]
	}
	s.mu.Unlock()

	s.noteConsumed(n)
	return n, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk, err := s.waitForWriteWindow(len(p))
		if err != nil {
			return total, err
		}
		if chunk > len(p) {
			chunk = len(p)
		}
		payload := p[:chunk]
		p = p[chunk:]

		if err := s.session.enqueue(outboundFrame{
			hdr:     encodeHeader(typeData, 0, s.id, uint32(len(payload))),
			payload: payload,
		}); err != nil {
			return total, err
		}
		total += len(payload)
	}
	return total, nil
}

// waitForWriteWindow blocks cooperatively until the sender holds at least
// one byte of credit, never transmitting more than the peer's last
// advertised window (spec §4.4).
func (s *Stream) waitForWriteWindow(want int) (int, error) {
	for {
		s.sendMu.Lock()
		if s.localClosed {
			s.sendMu.Unlock()
			return 0, errors.New("yamux: stream closed for writing")
		}
		if s.sendWindow > 0 {
			n := int(s.sendWindow)
			if n > want {
				n = want
			}
			if n > maxFramePayload {
				n = maxFramePayload
			}
			s.sendWindow -= uint32(n)
			s.sendMu.Unlock()
			return n, nil
		}
		s.sendMu.Unlock()

		select {
		case <-s.sendWindowCh:
		case <-s.session.closeCh:
			return 0, ErrSessionClosed
		}

		s.mu.Lock()
		reset := s.reset
		resetErr := s.resetErr
		s.mu.Unlock()
		if reset {
			return 0, resetErr
		}
	}
}

// Close closes the stream for writing (sending FIN) and, once the peer has
// also closed its direction, the substream is destroyed (spec §4.4,
// "Close semantics").
func (s *Stream) Close() error {
	return s.CloseWrite()
}

func (s *Stream) CloseWrite() error {
	s.sendMu.Lock()
	if s.localClosed {
		s.sendMu.Unlock()
		return nil
	}
	s.localClosed = true
	s.sendMu.Unlock()

	err := s.session.enqueue(outboundFrame{hdr: encodeHeader(typeData, flagFIN, s.id, 0)})

	s.mu.Lock()
	remote := s.remoteClosed
	s.mu.Unlock()
	if remote {
		s.session.removeStream(s.id)
	}
	return err
}

func (s *Stream) CloseRead() error {
	s.mu.Lock()
	s.localReadClose = true
	s.inbox = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Reset aborts both directions immediately and notifies the peer (spec
// §4.4, "RST discards buffered data in both directions").
func (s *Stream) Reset() error {
	s.onReset(ErrStreamReset)
	s.session.removeStream(s.id)
	return s.session.enqueue(outboundFrame{hdr: encodeHeader(typeData, flagRST, s.id, 0)})
}

func (s *Stream) LocalAddr() net.Addr  { return s.session.conn.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.session.conn.RemoteAddr() }

func (s *Stream) SetDeadline(t time.Time) error {
	if err := s.SetReadDeadline(t); err != nil {
		return err
	}
	return s.SetWriteDeadline(t)
}

func (s *Stream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadline = t
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.sendMu.Lock()
	s.writeDeadline = t
	s.sendMu.Unlock()
	return nil
}
