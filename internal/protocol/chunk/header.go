package chunk

import (
	"fmt"
	"hash/crc32"
	"math/bits"
)

const (
	// HeaderLen is the fixed chunk header: content length + CRC32 of that field.
	HeaderLen = 16

	lengthFieldLen = 8
)

// HeaderLength returns the fixed chunk header size.
func HeaderLength() int {
	return HeaderLen
}

func headerBuffer(buf []byte) []byte {
	if cap(buf) < HeaderLen {
		return make([]byte, HeaderLen)
	}
	buf = buf[:HeaderLen]
	clear(buf)
	return buf
}

func swap64(v uint64, swap bool) uint64 {
	if swap {
		return bits.ReverseBytes64(v)
	}
	return v
}

// WriteContentLength resets buf to the header length and stores length in
// bytes [0,8). The returned slice must be used when buf was too small.
func WriteContentLength(buf []byte, length uint64, swap bool) []byte {
	buf = headerBuffer(buf)
	nativeOrder.PutUint64(buf[0:lengthFieldLen], swap64(length, swap))
	return buf
}

// WriteChecksum stores checksum in bytes [8,16). buf must already hold a
// full header, normally the one returned by WriteContentLength.
func WriteChecksum(buf []byte, checksum uint64, swap bool) {
	nativeOrder.PutUint64(buf[lengthFieldLen:HeaderLen], swap64(checksum, swap))
}

// ComputeChecksum is the CRC32 of the content length field as stored,
// after any swap, so both peers agree without knowing each other's order.
func ComputeChecksum(buf []byte) uint64 {
	return uint64(crc32.ChecksumIEEE(buf[0:lengthFieldLen]))
}

func ReadContentLength(buf []byte, swap bool) uint64 {
	return swap64(nativeOrder.Uint64(buf[0:lengthFieldLen]), swap)
}

func ReadChecksum(buf []byte, swap bool) uint64 {
	return swap64(nativeOrder.Uint64(buf[lengthFieldLen:HeaderLen]), swap)
}

// EncodeHeader writes a complete header for a payload of length bytes.
func EncodeHeader(buf []byte, length uint64, swap bool) []byte {
	buf = WriteContentLength(buf, length, swap)
	WriteChecksum(buf, ComputeChecksum(buf), swap)
	return buf
}

// DecodeHeader validates the checksum and returns the content length.
func DecodeHeader(buf []byte, swap bool) (uint64, error) {
	if len(buf) < HeaderLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(buf))
	}
	length := ReadContentLength(buf, swap)
	got := ReadChecksum(buf, swap)
	if want := ComputeChecksum(buf); got != want {
		return 0, fmt.Errorf("%w: header=%08x computed=%08x", ErrChecksumMismatch, got, want)
	}
	return length, nil
}
