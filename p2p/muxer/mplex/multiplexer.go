package mplex

import (
	"net"

	"github.com/Pier-Two/libp2p-c/core/network"
	"github.com/Pier-Two/libp2p-c/core/protocol"
)

// Transport is the mplex network.Multiplexer capability record, offered as
// the fallback muxer when a peer doesn't speak yamux (spec §6).
type Transport struct {
	Config Config
}

var _ network.Multiplexer = (*Transport)(nil)

var DefaultTransport = &Transport{Config: DefaultConfig()}

func (t *Transport) ID() protocol.ID { return ID }

func (t *Transport) NewConn(pipe net.Conn, isServer bool, _ interface{}) (network.MuxedConn, error) {
	return NewSession(pipe, isServer, t.Config), nil
}
