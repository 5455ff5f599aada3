package chunk

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/sys/cpu"
)

// ByteOrder is the order multi-byte header fields are stored in on the wire.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "LITTLE_ENDIAN"
	case BigEndian:
		return "BIG_ENDIAN"
	default:
		return fmt.Sprintf("ByteOrder(%d)", uint8(o))
	}
}

// NativeByteOrder reports the byte order of the running platform.
func NativeByteOrder() ByteOrder {
	if cpu.IsBigEndian {
		return BigEndian
	}
	return LittleEndian
}

// ParseByteOrder accepts LITTLE_ENDIAN/BIG_ENDIAN plus the short forms
// little/big (case-insensitive). An empty string yields the native order.
func ParseByteOrder(raw string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return NativeByteOrder(), nil
	case "little_endian", "little", "le":
		return LittleEndian, nil
	case "big_endian", "big", "be":
		return BigEndian, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidByteOrder, raw)
	}
}

// SwitchByteOrder reports whether header fields must be byte-swapped to
// reach target from the native order. The result is fixed per connection.
func SwitchByteOrder(target ByteOrder) bool {
	return target != NativeByteOrder()
}

// nativeOrder stores header fields exactly as the platform would, so a
// swapped value lands in the opposite order on the wire.
var nativeOrder binary.ByteOrder = binary.LittleEndian

func init() {
	if cpu.IsBigEndian {
		nativeOrder = binary.BigEndian
	}
}
