package upgrader

import (
	"context"
	"fmt"

	"github.com/Pier-Two/libp2p-c/core/transport"

	tec "github.com/jbenet/go-temp-err-catcher"
)

// AcceptQueueLength bounds how many fully-upgraded connections may sit
// waiting for Accept (grounded on the teacher's upgrader.listener, trimmed
// of its resource-manager threshold). When the queue is full, each further
// upgraded connection waits for room in its own goroutine; the accept loop
// keeps taking new raw connections off the wire.
const AcceptQueueLength = 16

// Listener upgrades connections off a raw transport.Listener as they
// arrive, negotiating security and a muxer for each one concurrently.
type Listener struct {
	raw      transport.Listener
	tpt      transport.Transport
	upgrader *Upgrader

	incoming chan transport.CapableConn
	err      error

	ctx    context.Context
	cancel func()
}

// WrapListener returns a Listener that upgrades every connection accepted
// from raw using u.
func WrapListener(raw transport.Listener, tpt transport.Transport, u *Upgrader) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		raw:      raw,
		tpt:      tpt,
		upgrader: u,
		incoming: make(chan transport.CapableConn, AcceptQueueLength),
		ctx:      ctx,
		cancel:   cancel,
	}
	go l.handleIncoming()
	return l
}

func (l *Listener) handleIncoming() {
	defer close(l.incoming)

	var catcher tec.TempErrCatcher
	for l.ctx.Err() == nil {
		raw, _, err := l.raw.Accept()
		if err != nil {
			if catcher.IsTemporary(err) {
				log.Infof("upgrader: temporary accept error: %s", err)
				continue
			}
			l.err = err
			return
		}
		catcher.Reset()

		go func() {
			ctx, cancel := context.WithTimeout(l.ctx, l.upgrader.timeout())
			defer cancel()

			conn, err := l.upgrader.UpgradeInbound(ctx, l.tpt, raw)
			if err != nil {
				// The upgrader closes raw itself on failure.
				log.Debugf("upgrader: inbound upgrade failed: %s", err)
				return
			}

			select {
			case l.incoming <- conn:
			case <-l.ctx.Done():
				conn.Close()
			}
		}()
	}
}

// Accept returns the next fully-upgraded connection, or the listener's
// terminal error once raw accepting has stopped.
func (l *Listener) Accept() (transport.CapableConn, error) {
	c, ok := <-l.incoming
	if !ok {
		if l.err != nil {
			return nil, l.err
		}
		return nil, fmt.Errorf("upgrader: %w", transport.ErrListenerClosed)
	}
	return c, nil
}

func (l *Listener) Close() error {
	l.cancel()
	err := l.raw.Close()
	for c := range l.incoming {
		c.Close()
	}
	return err
}
