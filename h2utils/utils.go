// Package h2utils implements the low-level big-endian byte helpers used
// by the frame codec and SETTINGS encoding, plus padding and ASCII
// case-folding helpers. The HPACK code does not use it.
package h2utils

import (
	"crypto/rand"
	"errors"

	"github.com/valyala/fastrand"
)

// ErrPaddingTooLong is returned when a frame declares more padding than
// its payload can contain (RFC 7540 §6.1, §4.2: malformed PADDED frame).
var ErrPaddingTooLong = errors.New("h2utils: padding length exceeds payload")

func Uint24ToBytes(b []byte, n uint32) {
	_ = b[2] // bounds check hint
	b[0] = byte(n >> 16)
	b[1] = byte(n >> 8)
	b[2] = byte(n)
}

func BytesToUint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 |
		uint32(b[1])<<8 |
		uint32(b[2])
}

func AppendUint32Bytes(dst []byte, n uint32) []byte {
	return append(dst,
		byte(n>>24), byte(n>>16), byte(n>>8), byte(n),
	)
}

func Uint32ToBytes(b []byte, n uint32) {
	_ = b[3]
	b[0] = byte(n >> 24)
	b[1] = byte(n >> 16)
	b[2] = byte(n >> 8)
	b[3] = byte(n)
}

func BytesToUint32(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0])<<24 |
		uint32(b[1])<<16 |
		uint32(b[2])<<8 |
		uint32(b[3])
}

func AppendUint16Bytes(dst []byte, n uint16) []byte {
	return append(dst, byte(n>>8), byte(n))
}

func BytesToUint16(b []byte) uint16 {
	_ = b[1]
	return uint16(b[0])<<8 | uint16(b[1])
}

// EqualsFold compares two ASCII byte slices ignoring case, without the
// allocation bytes.EqualFold(string(a), string(b)) would cost.
func EqualsFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i]|0x20 != b[i]|0x20 {
			return false
		}
	}
	return true
}

// Resize grows b (reusing its backing array when possible) so that
// len(b) == neededLen.
func Resize(b []byte, neededLen int) []byte {
	b = b[:cap(b)]
	if n := neededLen - len(b); n > 0 {
		b = append(b, make([]byte, n)...)
	}
	return b[:neededLen]
}

// CutPadding strips the PADDED-flag pad length byte and trailing padding
// from payload, given the frame's declared length. Returns
// ErrPaddingTooLong instead of panicking on a malformed frame so callers
// can turn it into the RFC-mandated ProtocolError.
func CutPadding(payload []byte, length int) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrPaddingTooLong
	}
	pad := int(payload[0])
	if pad+1 > length || length-pad-1 > len(payload) {
		return nil, ErrPaddingTooLong
	}
	return payload[1 : length-pad], nil
}

// AddPadding prepends a random pad-length byte and appends that many
// random bytes to b, as a PADDED frame sender may choose to do.
func AddPadding(b []byte) []byte {
	n := int(fastrand.Uint32n(256-9)) + 9
	nn := len(b)

	b = Resize(b, nn+n+1)
	copy(b[1:], b[:nn])
	b[0] = uint8(n)

	rand.Read(b[nn+1 : nn+1+n])

	return b
}
