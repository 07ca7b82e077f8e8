// Package multistream implements multiselect (spec §4.2): the in-band,
// length-prefixed protocol negotiation scheme every layer of the upgrade
// pipeline runs before handing the pipe off to the next layer.
package multistream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Pier-Two/libp2p-c/core/protocol"
	"github.com/Pier-Two/libp2p-c/p2p/util"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("multistream")

// Header is the version string both sides exchange before negotiating a
// protocol.
const Header protocol.ID = "/multistream/1.0.0"

// MaxProtocolLen is the largest protocol-id line accepted, matching spec
// §3's "maximum 1024 bytes" and the boundary case in spec §8.
const MaxProtocolLen = 1024

// ls and na are the two in-band control strings reserved by the protocol.
const (
	lsMsg = "ls"
	naMsg = "na"
)

var (
	ErrHeaderMismatch  = errors.New("multistream: header mismatch")
	ErrNoMutualProtocol = errors.New("multistream: no mutual protocol")
	ErrMalformedLine   = errors.New("multistream: malformed line")
)

func writeLine(w io.Writer, s string) error {
	return util.WriteLP(w, append([]byte(s), '\n'))
}

func readLine(r io.Reader) (string, error) {
	b, err := util.ReadLP(r, MaxProtocolLen+1)
	if err != nil {
		if errors.Is(err, util.ErrFrameTooLarge) {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedLine, MaxProtocolLen)
		}
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		return "", fmt.Errorf("%w: missing trailing newline", ErrMalformedLine)
	}
	for _, c := range b[:len(b)-1] {
		if c < 0x20 || c > 0x7e {
			return "", fmt.Errorf("%w: non-ASCII byte", ErrMalformedLine)
		}
	}
	return string(b[:len(b)-1]), nil
}

// SelectOneOf runs the initiator side of multiselect: it proposes each
// protocol in proposals, in order, and returns the first one the responder
// acknowledges. The header and the first candidate are sent in a single
// write (the "optimistic write" of spec §4.2), saving one round trip on the
// common path.
func SelectOneOf(rw io.ReadWriter, proposals []protocol.ID) (protocol.ID, error) {
	if len(proposals) == 0 {
		return "", ErrNoMutualProtocol
	}

	var buf bytes.Buffer
	mustWriteLine(&buf, string(Header))
	mustWriteLine(&buf, string(proposals[0]))
	// The write runs alongside the read of the responder's header: on an
	// unbuffered pipe both sides send their header at once, and neither
	// write completes until the other side reads.
	writeErr := make(chan error, 1)
	go func() {
		_, err := rw.Write(buf.Bytes())
		writeErr <- err
	}()

	reply, err := readLine(rw)
	if err != nil {
		return "", err
	}
	if reply != string(Header) {
		return "", fmt.Errorf("%w: got %q", ErrHeaderMismatch, reply)
	}
	if err := <-writeErr; err != nil {
		return "", err
	}

	for i, p := range proposals {
		if i > 0 {
			if err := writeLine(rw, string(p)); err != nil {
				return "", err
			}
		}
		resp, err := readLine(rw)
		if err != nil {
			return "", err
		}
		switch resp {
		case string(p):
			return p, nil
		case naMsg:
			continue
		case lsMsg:
			// Open question per spec §9: behaviour when the initiator
			// receives "ls" is unspecified. We are outbound-only here, so
			// we ignore it and re-read the response to the same proposal.
			log.Debugf("ignoring unsolicited ls from responder")
			resp2, err := readLine(rw)
			if err != nil {
				return "", err
			}
			if resp2 == string(p) {
				return p, nil
			}
			continue
		default:
			return "", fmt.Errorf("%w: unexpected response %q", ErrMalformedLine, resp)
		}
	}
	return "", ErrNoMutualProtocol
}

func mustWriteLine(buf *bytes.Buffer, s string) {
	hdr := util.AppendUvarint(nil, uint64(len(s)+1))
	buf.Write(hdr)
	buf.WriteString(s)
	buf.WriteByte('\n')
}

// Match reports whether a protocol ID offered by the local side matches id.
type Match func(id protocol.ID) bool

// Negotiate runs the responder side of multiselect: it reads the header,
// replies with its own, then reads candidates one at a time, replying "na"
// until match approves one (replying with an echo of the same string) or
// the stream ends.
func Negotiate(rw io.ReadWriter, match Match) (protocol.ID, error) {
	if err := writeLine(rw, string(Header)); err != nil {
		return "", err
	}

	line, err := readLine(rw)
	if err != nil {
		return "", err
	}
	if line != string(Header) {
		return "", fmt.Errorf("%w: got %q", ErrHeaderMismatch, line)
	}

	for {
		line, err := readLine(rw)
		if err != nil {
			return "", err
		}
		switch {
		case line == lsMsg:
			// We don't serve the protocol listing; treat it as a
			// non-match and let the initiator move to its next
			// candidate (spec §9 open question).
			if err := writeLine(rw, naMsg); err != nil {
				return "", err
			}
		case match(protocol.ID(line)):
			if err := writeLine(rw, line); err != nil {
				return "", err
			}
			return protocol.ID(line), nil
		default:
			if err := writeLine(rw, naMsg); err != nil {
				return "", err
			}
		}
	}
}

// ExactlyOne builds a Match that accepts a single fixed protocol ID.
func ExactlyOne(id protocol.ID) Match {
	return func(p protocol.ID) bool { return p == id }
}

// OneOf builds a Match that accepts any of the given protocol IDs.
func OneOf(ids ...protocol.ID) Match {
	return func(p protocol.ID) bool {
		for _, id := range ids {
			if id == p {
				return true
			}
		}
		return false
	}
}
