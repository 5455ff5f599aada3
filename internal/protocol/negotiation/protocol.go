// Package negotiation carries the protocol preamble a host sends once per
// connection before the first chunk.
//
// Wire form, UTF-8:
//
//	00000123;COMLINK;
//	Version: "1.0";
//	ByteOrder: "LITTLE_ENDIAN";
//	InactivityTimeout: "0";
//	IdStrategy: "";
//	TypeDictionary:
//	<trailing text>
//
// The leading eight digits are the zero-padded byte length of the whole
// preamble including themselves.
package negotiation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/comlink/internal/protocol/chunk"
	"github.com/danmuck/comlink/internal/transport"
)

const (
	DefaultName    = "COMLINK"
	DefaultVersion = "1.0"

	LengthDigits = 8
	maxLength    = 99_999_999

	separator = ';'
	assigner  = ':'
	delimiter = '"'

	labelVersion           = "Version"
	labelByteOrder         = "ByteOrder"
	labelInactivityTimeout = "InactivityTimeout"
	labelIdStrategy        = "IdStrategy"
	labelTypeDictionary    = "TypeDictionary"
)

var (
	ErrMalformed       = errors.New("negotiation: malformed protocol preamble")
	ErrNameMismatch    = errors.New("negotiation: protocol name mismatch")
	ErrPreambleTooLong = errors.New("negotiation: protocol preamble too long")
)

// Protocol is what a host announces to each client.
type Protocol struct {
	Name              string
	Version           string
	ByteOrder         chunk.ByteOrder
	InactivityTimeout time.Duration
	// IdStrategy and TypeDictionary are opaque to the transport and passed
	// through to the payload serializer.
	IdStrategy     string
	TypeDictionary string
}

// Default is the protocol a host announces when nothing is configured.
func Default() Protocol {
	return Protocol{
		Name:      DefaultName,
		Version:   DefaultVersion,
		ByteOrder: chunk.NativeByteOrder(),
	}
}

// Swap is the chunk swap flag a peer must use to talk to this protocol.
func (p Protocol) Swap() bool {
	return chunk.SwitchByteOrder(p.ByteOrder)
}

// Assemble renders p with its length prefix.
func Assemble(p Protocol) ([]byte, error) {
	var b strings.Builder
	b.WriteString(strings.Repeat("0", LengthDigits))
	b.WriteByte(separator)
	b.WriteString(p.Name)
	b.WriteByte(separator)
	b.WriteByte('\n')
	writeEntry(&b, labelVersion, p.Version)
	writeEntry(&b, labelByteOrder, p.ByteOrder.String())
	writeEntry(&b, labelInactivityTimeout, strconv.FormatInt(p.InactivityTimeout.Milliseconds(), 10))
	writeEntry(&b, labelIdStrategy, p.IdStrategy)
	b.WriteString(labelTypeDictionary)
	b.WriteByte(assigner)
	b.WriteByte('\n')
	b.WriteString(p.TypeDictionary)

	out := []byte(b.String())
	if len(out) > maxLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPreambleTooLong, len(out))
	}
	copy(out, fmt.Sprintf("%0*d", LengthDigits, len(out)))
	return out, nil
}

// Validate reports whether p survives Assemble and Parse unchanged. Names
// and values containing the preamble's own delimiters do not.
func Validate(p Protocol) error {
	raw, err := Assemble(p)
	if err != nil {
		return err
	}
	got, err := Parse(string(raw[LengthDigits+1:]))
	if err != nil {
		return err
	}
	want := p
	want.InactivityTimeout = p.InactivityTimeout.Truncate(time.Millisecond)
	want.TypeDictionary = strings.TrimRightFunc(p.TypeDictionary, isSpace)
	if got != want {
		return fmt.Errorf("%w: %q does not round trip", ErrMalformed, p.Name)
	}
	return nil
}

func writeEntry(b *strings.Builder, label, value string) {
	b.WriteString(label)
	b.WriteByte(assigner)
	b.WriteByte(' ')
	b.WriteByte(delimiter)
	b.WriteString(value)
	b.WriteByte(delimiter)
	b.WriteByte(separator)
	b.WriteByte('\n')
}

// Parse reads a preamble body, the part after the length prefix and its
// separator.
func Parse(body string) (Protocol, error) {
	c := &cursor{in: strings.TrimRightFunc(body, isSpace)}
	c.skipSpace()

	var p Protocol
	end := strings.IndexByte(c.rest(), separator)
	if end <= 0 {
		return Protocol{}, fmt.Errorf("%w: missing protocol name", ErrMalformed)
	}
	p.Name = strings.TrimSpace(c.rest()[:end])
	c.i += end

	entries := make(map[string]string, 4)
	for _, label := range []string{labelVersion, labelByteOrder, labelInactivityTimeout, labelIdStrategy} {
		value, err := c.entry(label)
		if err != nil {
			return Protocol{}, err
		}
		entries[label] = value
	}
	if err := c.expect(separator, "after "+labelIdStrategy); err != nil {
		return Protocol{}, err
	}
	dict, err := c.trailing(labelTypeDictionary)
	if err != nil {
		return Protocol{}, err
	}

	p.Version = entries[labelVersion]
	p.IdStrategy = entries[labelIdStrategy]
	p.TypeDictionary = dict
	if p.ByteOrder, err = chunk.ParseByteOrder(entries[labelByteOrder]); err != nil || entries[labelByteOrder] == "" {
		return Protocol{}, fmt.Errorf("%w: byte order %q", ErrMalformed, entries[labelByteOrder])
	}
	ms, err := strconv.ParseInt(entries[labelInactivityTimeout], 10, 64)
	if err != nil || ms < 0 {
		return Protocol{}, fmt.Errorf("%w: inactivity timeout %q", ErrMalformed, entries[labelInactivityTimeout])
	}
	p.InactivityTimeout = time.Duration(ms) * time.Millisecond
	return p, nil
}

type cursor struct {
	in string
	i  int
}

func (c *cursor) rest() string { return c.in[c.i:] }

func (c *cursor) skipSpace() {
	for c.i < len(c.in) && isSpace(rune(c.in[c.i])) {
		c.i++
	}
}

func (c *cursor) expect(ch byte, where string) error {
	c.skipSpace()
	if c.i >= len(c.in) || c.in[c.i] != ch {
		return fmt.Errorf("%w: expected %q %s at offset %d", ErrMalformed, ch, where, c.i)
	}
	c.i++
	c.skipSpace()
	return nil
}

func (c *cursor) label(label string) error {
	if !strings.HasPrefix(c.rest(), label) {
		return fmt.Errorf("%w: expected %s at offset %d", ErrMalformed, label, c.i)
	}
	c.i += len(label)
	return c.expect(assigner, "after "+label)
}

func (c *cursor) entry(label string) (string, error) {
	if err := c.expect(separator, "before "+label); err != nil {
		return "", err
	}
	if err := c.label(label); err != nil {
		return "", err
	}
	if c.i >= len(c.in) || c.in[c.i] != delimiter {
		return "", fmt.Errorf("%w: %s value not quoted", ErrMalformed, label)
	}
	c.i++
	end := strings.IndexByte(c.rest(), delimiter)
	if end < 0 {
		return "", fmt.Errorf("%w: %s value not terminated", ErrMalformed, label)
	}
	value := c.rest()[:end]
	c.i += end + 1
	return value, nil
}

func (c *cursor) trailing(label string) (string, error) {
	if err := c.label(label); err != nil {
		return "", err
	}
	return c.rest(), nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Write sends p as the connection's preamble.
func Write(conn transport.Endpoint, p Protocol, timeout time.Duration) error {
	data, err := Assemble(p)
	if err != nil {
		return err
	}
	return conn.Write(data, timeout)
}

// Read receives a preamble. scratch is reused when large enough.
func Read(conn transport.Endpoint, scratch []byte) (Protocol, error) {
	prefix, err := conn.Read(scratch, LengthDigits+1)
	if err != nil {
		return Protocol{}, err
	}
	if prefix[LengthDigits] != separator {
		return Protocol{}, fmt.Errorf("%w: length prefix not terminated", ErrMalformed)
	}
	total, err := strconv.Atoi(string(prefix[:LengthDigits]))
	if err != nil || total < LengthDigits+1 {
		return Protocol{}, fmt.Errorf("%w: length prefix %q", ErrMalformed, prefix[:LengthDigits])
	}
	body, err := conn.Read(scratch, total-LengthDigits-1)
	if err != nil {
		return Protocol{}, err
	}
	return Parse(string(body))
}

// Expect reads a preamble and checks that it names the expected protocol.
func Expect(conn transport.Endpoint, scratch []byte, name string) (Protocol, error) {
	p, err := Read(conn, scratch)
	if err != nil {
		return Protocol{}, err
	}
	if p.Name != name {
		return Protocol{}, fmt.Errorf("%w: got %q want %q", ErrNameMismatch, p.Name, name)
	}
	return p, nil
}
