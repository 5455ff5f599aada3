package chunk

import (
	"errors"
	"time"

	"github.com/danmuck/comlink/internal/observability"
	"github.com/danmuck/comlink/internal/transport"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

const DefaultReadBufferSize = 8192

// Options configures a Transport.
type Options struct {
	// Swap is the per-connection byte-swap flag, see SwitchByteOrder.
	Swap bool
	// MaxContentLength rejects larger chunks on read. Zero, or anything
	// above the package MaxContentLength, means MaxContentLength.
	MaxContentLength uint64
	// OperationTimeout bounds each buffer write. Zero uses OperationTimeout().
	OperationTimeout time.Duration
	// ReadBufferSize is the initial capacity of the read buffer.
	ReadBufferSize int
}

func (o Options) withDefaults() Options {
	if o.MaxContentLength == 0 || o.MaxContentLength > MaxContentLength {
		o.MaxContentLength = MaxContentLength
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = OperationTimeout()
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	return o
}

// Transport exchanges chunks over one Endpoint.
//
// Reads and writes use separate scratch buffers, so one goroutine may read
// while another writes. Neither direction may be used concurrently with
// itself.
type Transport struct {
	conn transport.Endpoint
	opts Options

	readBuf   []byte
	headerBuf []byte
}

func NewTransport(conn transport.Endpoint, opts Options) *Transport {
	opts = opts.withDefaults()
	return &Transport{
		conn:      conn,
		opts:      opts,
		readBuf:   make([]byte, 0, opts.ReadBufferSize),
		headerBuf: make([]byte, HeaderLen),
	}
}

func (t *Transport) Endpoint() transport.Endpoint { return t.conn }

func (t *Transport) Swap() bool { return t.opts.Swap }

// ReadChunk returns the next chunk's content. The slice is owned by the
// Transport and valid until the next ReadChunk.
func (t *Transport) ReadChunk() ([]byte, error) {
	payload, err := ReadChunkLimit(t.conn, t.readBuf, t.opts.Swap, t.opts.MaxContentLength)
	if err != nil {
		observability.RecordChunk(observability.DirectionRead, resultOf(err), 0)
		return nil, err
	}
	if cap(payload) > cap(t.readBuf) {
		log.Debug().
			Str("from", humanize.IBytes(uint64(cap(t.readBuf)))).
			Str("to", humanize.IBytes(uint64(cap(payload)))).
			Msg("chunk.Transport read buffer grown")
		t.readBuf = payload[:0]
	}
	observability.RecordChunk(observability.DirectionRead, observability.ResultOK, len(payload))
	return payload, nil
}

// WriteChunk sends the buffers as a single chunk.
func (t *Transport) WriteChunk(payload ...[]byte) error {
	err := WriteChunk(t.conn, t.headerBuf, t.opts.Swap, t.opts.OperationTimeout, payload...)
	size := 0
	for _, p := range payload {
		size += len(p)
	}
	if err != nil {
		observability.RecordChunk(observability.DirectionWrite, resultOf(err), 0)
		return err
	}
	observability.RecordChunk(observability.DirectionWrite, observability.ResultOK, size)
	return nil
}

func (t *Transport) Close() error {
	return t.conn.Close()
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return observability.ResultTimeout
	case errors.Is(err, ErrChecksumMismatch):
		return observability.ResultChecksum
	case errors.Is(err, transport.ErrConnectionClosed):
		return observability.ResultClosed
	default:
		return observability.ResultError
	}
}
