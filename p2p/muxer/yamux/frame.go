// Package yamux implements the yamux stream multiplexer (spec §3, §4.4):
// credit-flow-controlled substreams over fixed 12-byte header frames.
package yamux

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of every yamux frame header.
const HeaderSize = 12

// Frame types.
const (
	typeData uint8 = iota
	typeWindowUpdate
	typePing
	typeGoAway
)

// Frame flags, combinable as a bitmask.
const (
	flagSYN uint16 = 1 << iota
	flagACK
	flagFIN
	flagRST
)

// GoAway error codes.
const (
	goAwayNormal uint32 = iota
	goAwayProtocolError
	goAwayInternalError
)

const protocolVersion uint8 = 0

// header is the 12-byte yamux frame header: version, type, flags,
// stream_id (u32 be), length (u32 be). For WindowUpdate frames, length
// holds the window delta rather than a payload length.
type header [HeaderSize]byte

func encodeHeader(typ uint8, flags uint16, streamID, length uint32) header {
	var h header
	h[0] = protocolVersion
	h[1] = typ
	binary.BigEndian.PutUint16(h[2:4], flags)
	binary.BigEndian.PutUint32(h[4:8], streamID)
	binary.BigEndian.PutUint32(h[8:12], length)
	return h
}

func (h header) Type() uint8      { return h[1] }
func (h header) Flags() uint16    { return binary.BigEndian.Uint16(h[2:4]) }
func (h header) StreamID() uint32 { return binary.BigEndian.Uint32(h[4:8]) }
func (h header) Length() uint32   { return binary.BigEndian.Uint32(h[8:12]) }

func (h header) String() string {
	return fmt.Sprintf("yamux frame type=%d flags=%04x stream=%d length=%d", h.Type(), h.Flags(), h.StreamID(), h.Length())
}
