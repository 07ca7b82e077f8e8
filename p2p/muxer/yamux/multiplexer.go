package yamux

import (
	"net"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/protocol"
)

// Transport is the yamux network.Multiplexer capability record selected by
// the upgrader after muxer negotiation (spec §9, "capability record").
type Transport struct {
	Config Config
}

var _ network.Multiplexer = (*Transport)(nil)

// DefaultTransport uses DefaultConfig.
var DefaultTransport = &Transport{Config: DefaultConfig()}

func (t *Transport) ID() protocol.ID { return ID }

func (t *Transport) NewConn(pipe net.Conn, isServer bool, _ interface{}) (network.MuxedConn, error) {
	return NewSession(pipe, isServer, t.Config), nil
}
