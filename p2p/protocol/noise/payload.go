package noise

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// NoiseExtensions carries optional early-data extensions alongside the
// identity payload (spec §9, "early-data extensions"). No concrete
// extension ships with this repository; the field exists so the codec has
// somewhere realistic to put one, mirroring go-libp2p's
// pb.NoiseExtensions (webtransport cert hashes, stream muxers).
type NoiseExtensions struct {
	StreamMuxers [][]byte
}

// NoiseHandshakePayload is the identity-binding record carried in the
// responder's second and the initiator's third Noise messages (spec §3,
// "Identity payload").
type NoiseHandshakePayload struct {
	IdentityKey []byte
	IdentitySig []byte
	Extensions  *NoiseExtensions
}

// Field numbers below mirror go-libp2p's generated pb.NoiseHandshakePayload
// and pb.NoiseExtensions messages. This repository hand-encodes them with
// protowire (google.golang.org/protobuf/encoding/protowire) instead of
// protoc-generated types: there is no codegen step available here, and
// protowire gives the exact same wire bytes a generated encoder would,
// which is what interoperability with the wire protocol actually requires.
const (
	payloadFieldIdentityKey = 1
	payloadFieldIdentitySig = 2
	payloadFieldExtensions  = 4

	extensionsFieldStreamMuxer = 2
)

var errMalformedPayload = errors.New("noise: malformed handshake payload")

func marshalExtensions(e *NoiseExtensions) []byte {
	if e == nil {
		return nil
	}
	var b []byte
	for _, m := range e.StreamMuxers {
		b = protowire.AppendTag(b, extensionsFieldStreamMuxer, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func unmarshalExtensions(b []byte) (*NoiseExtensions, error) {
	if len(b) == 0 {
		return nil, nil
	}
	ext := &NoiseExtensions{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errMalformedPayload
		}
		b = b[n:]
		switch num {
		case extensionsFieldStreamMuxer:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errMalformedPayload
			}
			b = b[n:]
			ext.StreamMuxers = append(ext.StreamMuxers, append([]byte(nil), v...))
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errMalformedPayload
			}
			b = b[n:]
		}
	}
	return ext, nil
}

// Marshal encodes the handshake payload to its wire form.
func (p *NoiseHandshakePayload) Marshal() []byte {
	var b []byte
	if len(p.IdentityKey) > 0 {
		b = protowire.AppendTag(b, payloadFieldIdentityKey, protowire.BytesType)
		b = protowire.AppendBytes(b, p.IdentityKey)
	}
	if len(p.IdentitySig) > 0 {
		b = protowire.AppendTag(b, payloadFieldIdentitySig, protowire.BytesType)
		b = protowire.AppendBytes(b, p.IdentitySig)
	}
	if ext := marshalExtensions(p.Extensions); ext != nil {
		b = protowire.AppendTag(b, payloadFieldExtensions, protowire.BytesType)
		b = protowire.AppendBytes(b, ext)
	}
	return b
}

// UnmarshalNoiseHandshakePayload decodes the wire form produced by Marshal.
func UnmarshalNoiseHandshakePayload(b []byte) (*NoiseHandshakePayload, error) {
	p := &NoiseHandshakePayload{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errMalformedPayload
		}
		b = b[n:]
		switch num {
		case payloadFieldIdentityKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errMalformedPayload
			}
			b = b[n:]
			p.IdentityKey = append([]byte(nil), v...)
		case payloadFieldIdentitySig:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errMalformedPayload
			}
			b = b[n:]
			p.IdentitySig = append([]byte(nil), v...)
		case payloadFieldExtensions:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errMalformedPayload
			}
			b = b[n:]
			ext, err := unmarshalExtensions(v)
			if err != nil {
				return nil, err
			}
			p.Extensions = ext
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errMalformedPayload
			}
			b = b[n:]
		}
	}
	return p, nil
}
