// Package protocol defines the protocol identifier type shared across
// multiselect negotiation, security transports and muxers.
package protocol

// ID is a libp2p protocol identifier: a short ASCII string beginning with
// "/", at most 1024 bytes (see spec §3, "Protocol id").
type ID string

func (p ID) String() string {
	return string(p)
}

// Well-known protocol IDs recognised by this module (spec §6).
const (
	MultistreamID ID = "/multistream/1.0.0"
	NoiseID       ID = "/noise"
	YamuxID       ID = "/yamux/1.0.0"
	MplexID       ID = "/mplex/6.7.0"
	PingID        ID = "/ipfs/ping/1.0.0"
)
