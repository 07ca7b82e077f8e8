// Package tcp implements the one wire transport spec §6 names: dialing and
// listening for plain TCP connections, pre-upgrade. Grounded on the
// teacher's p2p/transport/tcp, trimmed of reuseport sharing, resource
// management and metrics collection, none of which spec.md's scope needs.
package tcp

import (
	"context"
	"errors"
	"net"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/Pier-Two/libp2p-c/core/peer"
	"github.com/Pier-Two/libp2p-c/core/transport"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	mafmt "github.com/multiformats/go-multiaddr-fmt"
	manet "github.com/multiformats/go-multiaddr/net"
)

var log = logging.Logger("tcp-tpt")

const defaultConnectTimeout = 5 * time.Second
const keepAlivePeriod = 30 * time.Second

var dialMatcher = mafmt.And(mafmt.IP, mafmt.Base(ma.P_TCP))

type canKeepAlive interface {
	SetKeepAlive(bool) error
	SetKeepAlivePeriod(time.Duration) error
}

var _ canKeepAlive = &net.TCPConn{}

func tryKeepAlive(conn net.Conn, keepAlive bool) {
	kac, ok := conn.(canKeepAlive)
	if !ok {
		return
	}
	if err := kac.SetKeepAlive(keepAlive); err != nil {
		if errors.Is(err, os.ErrInvalid) || errors.Is(err, syscall.EINVAL) {
			log.Debugw("failed to enable TCP keepalive", "error", err)
		} else {
			log.Errorw("failed to enable TCP keepalive", "error", err)
		}
		return
	}
	if runtime.GOOS != "openbsd" {
		if err := kac.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			log.Errorw("failed to set keepalive period", "error", err)
		}
	}
}

func tryLinger(conn net.Conn, sec int) {
	type canLinger interface {
		SetLinger(int) error
	}
	if lc, ok := conn.(canLinger); ok {
		_ = lc.SetLinger(sec)
	}
}

// Option configures a Transport.
type Option func(*Transport) error

// WithConnectionTimeout overrides the default 5s dial timeout.
func WithConnectionTimeout(d time.Duration) Option {
	return func(t *Transport) error {
		t.connectTimeout = d
		return nil
	}
}

// Transport dials and listens for plain TCP connections (spec §6).
type Transport struct {
	connectTimeout time.Duration
}

var _ transport.Transport = (*Transport)(nil)

// New constructs a TCP transport.
func New(opts ...Option) (*Transport, error) {
	t := &Transport{connectTimeout: defaultConnectTimeout}
	for _, o := range opts {
		if err := o(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	return dialMatcher.Matches(addr)
}

func (t *Transport) Dial(ctx context.Context, raddr ma.Multiaddr, p peer.ID) (net.Conn, error) {
	if t.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
	}
	var d manet.Dialer
	conn, err := d.DialContext(ctx, raddr)
	if err != nil {
		return nil, err
	}
	tryLinger(conn, 0)
	tryKeepAlive(conn, true)
	return conn, nil
}

func (t *Transport) Listen(laddr ma.Multiaddr) (transport.Listener, error) {
	l, err := manet.Listen(laddr)
	if err != nil {
		return nil, err
	}
	return &listener{Listener: l}, nil
}

type listener struct {
	manet.Listener
}

var _ transport.Listener = (*listener)(nil)

func (l *listener) Accept() (net.Conn, ma.Multiaddr, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, nil, err
	}
	tryLinger(c, 0)
	tryKeepAlive(c, true)
	return c, c.RemoteMultiaddr(), nil
}

func (l *listener) Multiaddr() ma.Multiaddr {
	return l.Listener.Multiaddr()
}
