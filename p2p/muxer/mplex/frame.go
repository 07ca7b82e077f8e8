// Package mplex implements the mplex stream multiplexer (spec §3, §4.5): a
// simpler varint-framed muxer offered as a negotiation fallback when the
// peer doesn't support yamux. Grounded on paralin/go-mplex's session/stream
// tagging scheme (see other_examples/1ad53285_paralin-go-mplex__multiplex.go.go),
// rewritten against this repository's own varint codec instead of
// encoding/binary, since the framer is explicitly an in-scope core
// component here (spec §2).
package mplex

import "github.com/Pier-Two/libp2p-c/p2p/util"

// Frame flags (spec §3, "Mplex frame"). Flags are tagged by who *sent* the
// frame relative to who opened the stream: "Initiator" flags are even,
// "Receiver" flags are odd, which lets the reader recover which side
// originated a stream id it has never seen before.
const (
	flagNewStream        uint64 = 0
	flagMessageReceiver  uint64 = 1
	flagMessageInitiator uint64 = 2
	flagCloseReceiver    uint64 = 3
	flagCloseInitiator   uint64 = 4
	flagResetReceiver    uint64 = 5
	flagResetInitiator   uint64 = 6
)

// frameKind is the flag rounded up to its even ("Initiator"-shaped) sibling,
// used to dispatch on the action without caring who sent it.
type frameKind uint64

const (
	kindNewStream frameKind = flagNewStream
	kindMessage   frameKind = flagMessageInitiator
	kindClose     frameKind = flagCloseInitiator
	kindReset     frameKind = flagResetInitiator
)

func roundKind(flag uint64) frameKind {
	return frameKind(flag + (flag & 1))
}

// encodeHeader packs (streamID << 3) | flag, per spec §3.
func encodeHeader(streamID uint64, flag uint64) uint64 {
	return (streamID << 3) | flag
}

func decodeHeader(header uint64) (streamID uint64, flag uint64) {
	return header >> 3, header & 0x7
}

func appendFrame(buf []byte, streamID uint64, flag uint64, payload []byte) []byte {
	buf = util.AppendUvarint(buf, encodeHeader(streamID, flag))
	buf = util.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf
}
