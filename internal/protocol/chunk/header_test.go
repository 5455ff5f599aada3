package chunk

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math/bits"
	"testing"

	"pgregory.net/rapid"
)

func TestHeaderLength(t *testing.T) {
	if HeaderLength() != 16 {
		t.Fatalf("expected 16-byte header, got %d", HeaderLength())
	}
}

func TestHeaderRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.Uint64Range(0, 1<<32-1).Draw(t, "length")
		checksum := rapid.Uint64Range(0, 1<<32-1).Draw(t, "checksum")
		swap := rapid.Bool().Draw(t, "swap")

		buf := WriteContentLength(nil, length, swap)
		WriteChecksum(buf, checksum, swap)
		if got := ReadContentLength(buf, swap); got != length {
			t.Fatalf("length: got %d want %d", got, length)
		}
		if got := ReadChecksum(buf, swap); got != checksum {
			t.Fatalf("checksum: got %d want %d", got, checksum)
		}
	})
}

func TestEncodedHeaderValidatesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.Uint64Range(0, 1<<32-1).Draw(t, "length")
		swap := rapid.Bool().Draw(t, "swap")

		buf := EncodeHeader(make([]byte, 0, HeaderLen), length, swap)
		got, err := DecodeHeader(buf, swap)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != length {
			t.Fatalf("length: got %d want %d", got, length)
		}
	})
}

func TestBitFlipInLengthFailsChecksumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.Uint64Range(0, 1<<32-1).Draw(t, "length")
		swap := rapid.Bool().Draw(t, "swap")
		bit := rapid.IntRange(0, lengthFieldLen*8-1).Draw(t, "bit")

		buf := EncodeHeader(nil, length, swap)
		buf[bit/8] ^= 1 << (bit % 8)
		if _, err := DecodeHeader(buf, swap); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("expected checksum mismatch after flipping bit %d, got %v", bit, err)
		}
	})
}

func TestChecksumCoversStoredBytes(t *testing.T) {
	buf := EncodeHeader(nil, 0x0102, true)
	want := uint64(crc32.ChecksumIEEE(buf[:8]))
	if got := ReadChecksum(buf, true); got != want {
		t.Fatalf("checksum over stored bytes: got %08x want %08x", got, want)
	}
}

func TestSwapIsSelfInverse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.Uint64().Draw(t, "length")

		swapped := WriteContentLength(nil, length, true)
		if got := ReadContentLength(swapped, true); got != length {
			t.Fatalf("swap/unswap: got %d want %d", got, length)
		}
		if got := ReadContentLength(swapped, false); got != bits.ReverseBytes64(length) {
			t.Fatalf("raw view of swapped field: got %x want %x", got, bits.ReverseBytes64(length))
		}
	})
}

func TestSwappedHeaderUsesOppositeOrder(t *testing.T) {
	native := WriteContentLength(nil, 3, false)
	swapped := WriteContentLength(nil, 3, true)

	var nativeBO, otherBO binary.ByteOrder = binary.LittleEndian, binary.BigEndian
	if NativeByteOrder() == BigEndian {
		nativeBO, otherBO = binary.BigEndian, binary.LittleEndian
	}
	if nativeBO.Uint64(native[:8]) != 3 {
		t.Fatalf("native header not in native order: % x", native[:8])
	}
	if otherBO.Uint64(swapped[:8]) != 3 {
		t.Fatalf("swapped header not in opposite order: % x", swapped[:8])
	}
}

func TestWriteContentLengthReusesAndClearsBuffer(t *testing.T) {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = 0xff
	}
	out := WriteContentLength(buf, 1, false)
	if len(out) != HeaderLen || &out[0] != &buf[0] {
		t.Fatalf("expected header written in place")
	}
	if ReadChecksum(out, false) != 0 {
		t.Fatalf("expected checksum field cleared")
	}
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	if _, err := DecodeHeader(make([]byte, 15), false); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}
