package negotiation

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/comlink/internal/protocol/chunk"
	"github.com/danmuck/comlink/internal/testutil/testlog"
	"github.com/danmuck/comlink/internal/transport"
)

func sample() Protocol {
	return Protocol{
		Name:              DefaultName,
		Version:           "2.1",
		ByteOrder:         chunk.BigEndian,
		InactivityTimeout: 1500 * time.Millisecond,
		IdStrategy:        "Transient",
		TypeDictionary:    "0 java.lang.String{}\n1 comlink.Message{ payload }",
	}
}

func TestAssembleLayout(t *testing.T) {
	data, err := Assemble(sample())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	text := string(data)
	total, err := strconv.Atoi(text[:LengthDigits])
	if err != nil {
		t.Fatalf("length prefix: %v", err)
	}
	if total != len(data) {
		t.Fatalf("length prefix %d, actual %d", total, len(data))
	}
	wantHead := "COMLINK;\nVersion: \"2.1\";\nByteOrder: \"BIG_ENDIAN\";\nInactivityTimeout: \"1500\";\nIdStrategy: \"Transient\";\nTypeDictionary:\n"
	if !strings.HasPrefix(text[LengthDigits+1:], wantHead) {
		t.Fatalf("unexpected preamble:\n%s", text)
	}
}

func TestAssembleParseRoundTrip(t *testing.T) {
	want := sample()
	data, err := Assemble(want)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	got, err := Parse(string(data[LengthDigits+1:]))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestValidate(t *testing.T) {
	ok := sample()
	ok.InactivityTimeout = 1500*time.Millisecond + 300*time.Microsecond
	ok.TypeDictionary += "\n\n"
	if err := Validate(ok); err != nil {
		t.Fatalf("expected %+v to validate: %v", ok, err)
	}

	for name, mutate := range map[string]func(*Protocol){
		"separator in name":   func(p *Protocol) { p.Name = "A;B" },
		"padded name":         func(p *Protocol) { p.Name = " A " },
		"quote in version":    func(p *Protocol) { p.Version = `1."2"` },
		"quote in idstrategy": func(p *Protocol) { p.IdStrategy = `"x` },
	} {
		p := sample()
		mutate(&p)
		if err := Validate(p); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestParseToleratesWhitespace(t *testing.T) {
	body := "  COMLINK ;\r\n  Version :\"1.0\" ;\n\tByteOrder: \"little\";\nInactivityTimeout: \"0\";\nIdStrategy: \"\" ;\nTypeDictionary:\n\n  dict  \n"
	got, err := Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Name != "COMLINK" || got.ByteOrder != chunk.LittleEndian || got.TypeDictionary != "dict" {
		t.Fatalf("unexpected protocol %+v", got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"no name":          ";Version: \"1\"",
		"missing entry":    "COMLINK;\nVersion: \"1\";\nInactivityTimeout: \"0\";",
		"unquoted":         "COMLINK;\nVersion: 1;",
		"unterminated":     "COMLINK;\nVersion: \"1",
		"bad order":        "COMLINK;Version: \"1\";ByteOrder: \"SIDEWAYS\";InactivityTimeout: \"0\";IdStrategy: \"\";TypeDictionary:",
		"empty order":      "COMLINK;Version: \"1\";ByteOrder: \"\";InactivityTimeout: \"0\";IdStrategy: \"\";TypeDictionary:",
		"bad timeout":      "COMLINK;Version: \"1\";ByteOrder: \"BIG_ENDIAN\";InactivityTimeout: \"soon\";IdStrategy: \"\";TypeDictionary:",
		"missing trailing": "COMLINK;Version: \"1\";ByteOrder: \"BIG_ENDIAN\";InactivityTimeout: \"0\";IdStrategy: \"\";",
	}
	for name, body := range cases {
		if _, err := Parse(body); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestProtocolSwap(t *testing.T) {
	p := Default()
	if p.Swap() {
		t.Fatalf("default protocol uses native order and must not swap")
	}
	if p.ByteOrder == chunk.LittleEndian {
		p.ByteOrder = chunk.BigEndian
	} else {
		p.ByteOrder = chunk.LittleEndian
	}
	if !p.Swap() {
		t.Fatalf("foreign order must swap")
	}
}

func TestWriteReadOverPipe(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	host := transport.NewPlainConn(a)
	client := transport.NewPlainConn(b)
	defer host.Close()
	defer client.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- Write(host, sample(), time.Second) }()
	got, err := Expect(client, make([]byte, 0, 16), DefaultName)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("write: %v", err)
	}
	if got != sample() {
		t.Fatalf("unexpected protocol %+v", got)
	}
}

func TestExpectRejectsOtherName(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	host := transport.NewPlainConn(a)
	client := transport.NewPlainConn(b)
	defer host.Close()
	defer client.Close()

	p := sample()
	p.Name = "OTHER"
	go func() { _ = Write(host, p, time.Second) }()
	if _, err := Expect(client, nil, DefaultName); !errors.Is(err, ErrNameMismatch) {
		t.Fatalf("expected ErrNameMismatch, got %v", err)
	}
}

func TestReadRejectsBadPrefix(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	host := transport.NewPlainConn(a)
	client := transport.NewPlainConn(b)
	defer host.Close()
	defer client.Close()

	go func() { _ = host.Write([]byte("0000001x;"), time.Second) }()
	if _, err := Read(client, nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
