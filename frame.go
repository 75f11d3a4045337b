package websocket

import (
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/xerrors"
)

// header represents a WebSocket frame header.
// See https://tools.ietf.org/html/rfc6455#section-5.2.
type header struct {
	fin  bool
	rsv1 bool
	rsv2 bool
	rsv3 bool

	opcode opcode

	payloadLength int64

	masked  bool
	maskKey [4]byte
}

// First byte: FIN, RSV1-3, opcode.
// Second byte: MASK, payload length.
// Up to 8 bytes: extended payload length.
// Up to 4 bytes: masking key.
const maxHeaderSize = 1 + 1 + 8 + 4

func makeReadHeaderBuf() []byte {
	return make([]byte, maxHeaderSize-2)
}

func makeWriteHeaderBuf() []byte {
	return make([]byte, maxHeaderSize)
}

// readHeader reads a frame header from r using b as scratch space.
// b must be at least maxHeaderSize-2 bytes, as returned by makeReadHeaderBuf.
//
// It reads the minimum number of bytes necessary for the header by first
// reading the two mandatory bytes and only then reading however many
// extra bytes the length and mask fields demand, so it never reads
// payload bytes that belong to the frame body.
func readHeader(b []byte, r io.Reader) (header, error) {
	_, err := io.ReadFull(r, b[:2])
	if err != nil {
		return header{}, xerrors.Errorf("failed to read first 2 bytes of header: %w", err)
	}

	var h header
	h.fin = b[0]&(1<<7) != 0
	h.rsv1 = b[0]&(1<<6) != 0
	h.rsv2 = b[0]&(1<<5) != 0
	h.rsv3 = b[0]&(1<<4) != 0
	h.opcode = opcode(b[0] & 0xf)

	h.masked = b[1]&(1<<7) != 0

	payloadLength := b[1] &^ (1 << 7)
	extra := 0
	switch {
	case payloadLength == 127:
		extra = 8
	case payloadLength == 126:
		extra = 2
	}
	if h.masked {
		extra += 4
	}

	if extra > 0 {
		_, err = io.ReadFull(r, b[:extra])
		if err != nil {
			return header{}, xerrors.Errorf("failed to read extended header bytes: %w", err)
		}
	}

	switch payloadLength {
	case 127:
		h.payloadLength = int64(binary.BigEndian.Uint64(b[:8]))
		if h.payloadLength < 0 {
			return header{}, xerrors.New("received header with negative payload length")
		}
		b = b[8:]
	case 126:
		h.payloadLength = int64(binary.BigEndian.Uint16(b[:2]))
		b = b[2:]
	default:
		h.payloadLength = int64(payloadLength)
	}

	if h.masked {
		copy(h.maskKey[:], b[:4])
	}

	return h, nil
}

// writeHeader encodes h into b, returning the slice of b actually used.
// b must be at least maxHeaderSize bytes, as returned by makeWriteHeaderBuf.
func writeHeader(b []byte, h header) []byte {
	const (
		finBit  = 1 << 7
		rsv1Bit = 1 << 6
		rsv2Bit = 1 << 5
		rsv3Bit = 1 << 4
	)

	b[0] = 0
	if h.fin {
		b[0] |= finBit
	}
	if h.rsv1 {
		b[0] |= rsv1Bit
	}
	if h.rsv2 {
		b[0] |= rsv2Bit
	}
	if h.rsv3 {
		b[0] |= rsv3Bit
	}
	b[0] |= byte(h.opcode)

	length := 2
	b[1] = 0
	switch {
	case h.payloadLength > math.MaxUint16:
		b[1] = 127
		binary.BigEndian.PutUint64(b[length:], uint64(h.payloadLength))
		length += 8
	case h.payloadLength > 125:
		b[1] = 126
		binary.BigEndian.PutUint16(b[length:], uint16(h.payloadLength))
		length += 2
	default:
		b[1] = byte(h.payloadLength)
	}

	if h.masked {
		b[1] |= 1 << 7
		length += copy(b[length:], h.maskKey[:])
	}

	return b[:length]
}
