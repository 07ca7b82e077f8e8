package noise

import (
	"encoding/binary"
	"fmt"
	"io"

	pool "github.com/libp2p/go-buffer-pool"
)

// Read implements net.Conn over the Noise session: frames are
// u16_be(ciphertext_len) ‖ ciphertext, decrypted with the receive cipher
// state, whose 64-bit counter is advanced by exactly one per frame (spec
// §3, §4.3). A partial frame read buffers and resumes across calls.
func (s *secureSession) Read(buf []byte) (int, error) {
	s.readLock.Lock()
	defer s.readLock.Unlock()

	if s.failed {
		return 0, ErrCryptoFailure
	}

	if s.qseek < len(s.qbuf) {
		n := copy(buf, s.qbuf[s.qseek:])
		s.qseek += n
		return n, nil
	}

	plaintext, err := s.readMsg()
	if err != nil {
		return 0, err
	}
	n := copy(buf, plaintext)
	if n < len(plaintext) {
		// Stash the remainder for the next Read call; reuse qbuf's backing
		// array to avoid an extra allocation per short read.
		s.qbuf = append(s.qbuf[:0], plaintext[n:]...)
		s.qseek = 0
	} else {
		s.qbuf = s.qbuf[:0]
		s.qseek = 0
	}
	return n, nil
}

func (s *secureSession) readMsg() ([]byte, error) {
	if _, err := io.ReadFull(s.insecureReader, s.rlen[:]); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint16(s.rlen[:])
	if l == 0 {
		return nil, nil
	}

	cbuf := pool.Get(int(l))
	defer pool.Put(cbuf)
	if _, err := io.ReadFull(s.insecureReader, cbuf); err != nil {
		return nil, err
	}

	plaintext, err := s.dec.Decrypt(nil, nil, cbuf)
	if err != nil {
		s.failed = true
		_ = s.insecureConn.Close()
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return plaintext, nil
}

// Write implements net.Conn over the Noise session, splitting payloads
// larger than MaxPlaintextLength across multiple frames.
func (s *secureSession) Write(data []byte) (int, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if s.failed {
		return 0, ErrCryptoFailure
	}

	total := 0
	for len(data) > 0 {
		end := MaxPlaintextLength
		if end > len(data) {
			end = len(data)
		}
		chunk := data[:end]
		data = data[end:]

		ciphertext := s.enc.Encrypt(nil, nil, chunk)

		var hdr [LengthPrefixLength]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(ciphertext)))

		framed := pool.Get(len(hdr) + len(ciphertext))
		copy(framed, hdr[:])
		copy(framed[len(hdr):], ciphertext)
		_, err := s.insecureConn.Write(framed)
		pool.Put(framed)
		if err != nil {
			return total, err
		}
		total += len(chunk)
	}
	return total, nil
}
