package mplex

import (
	"io"
	"net"
	"sync"
	"time"
)

// Stream is one mplex substream: ordered and reliable, but with no flow
// control of its own (spec §4.5). A cap on unread buffered bytes stands in
// for flow control: once exceeded, the substream is reset rather than
// letting the peer run the connection out of memory.
type Stream struct {
	id          uint64
	amInitiator bool
	session     *Session
	maxBuffered int

	mu             sync.Mutex
	cond           *sync.Cond
	inbox          [][]byte
	buffered       int
	remoteClosed   bool
	localReadClose bool
	reset          bool
	resetErr       error
	readDeadline   time.Time

	sendMu        sync.Mutex
	localClosed   bool
	writeDeadline time.Time
}

var _ net.Conn = (*Stream)(nil)

func newStream(id uint64, amInitiator bool, session *Session, maxBuffered int) *Stream {
	s := &Stream{
		id:          id,
		amInitiator: amInitiator,
		session:     session,
		maxBuffered: maxBuffered,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// pushData appends an inbound frame, reporting false if doing so would blow
// the inbound byte cap (spec §4.5); the caller resets the stream on false.
func (s *Stream) pushData(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localReadClose {
		return true
	}
	if s.buffered+len(b) > s.maxBuffered {
		return false
	}
	s.inbox = append(s.inbox, b)
	s.buffered += len(b)
	s.cond.Broadcast()
	return true
}

func (s *Stream) onRemoteClose() {
	s.mu.Lock()
	s.remoteClosed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Stream) onReset(err error) {
	s.mu.Lock()
	s.reset = true
	s.resetErr = err
	s.inbox = nil
	s.buffered = 0
	s.cond.Broadcast()
	s.mu.Unlock()
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
	s.buffered -= n
	s.mu.Unlock()
	return n, nil
}

// Write sends one message frame per call. Unlike yamux there is no credit
// to wait for; the shared connection's sendLoop serializes writers, which
// is also how a slow peer propagates back-pressure to every other stream
// on the session (spec §4.5, "head-of-line blocking").
func (s *Stream) Write(p []byte) (int, error) {
	s.sendMu.Lock()
	closed := s.localClosed
	s.sendMu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	if err := s.session.enqueue(outboundFrame{
		streamID: s.id,
		flag:     messageFlagFor(s.amInitiator),
		payload:  p,
	}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Stream) Close() error {
	s.sendMu.Lock()
	if s.localClosed {
		s.sendMu.Unlock()
		return nil
	}
	s.localClosed = true
	s.sendMu.Unlock()
	return s.session.enqueue(outboundFrame{streamID: s.id, flag: closeFlagFor(s.amInitiator)})
}

func (s *Stream) CloseWrite() error { return s.Close() }

func (s *Stream) CloseRead() error {
	s.mu.Lock()
	s.localReadClose = true
	s.inbox = nil
	s.buffered = 0
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Reset aborts the substream immediately in both directions.
func (s *Stream) Reset() error {
	s.onReset(ErrStreamReset)
	s.session.removeStream(streamKey{id: s.id, initiator: s.amInitiator})
	return s.session.enqueue(outboundFrame{streamID: s.id, flag: resetFlagFor(s.amInitiator)})
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
