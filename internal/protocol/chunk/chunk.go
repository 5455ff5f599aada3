// Package chunk frames binary payloads for a transport.Endpoint.
//
// Every chunk is a 16-byte header followed by the content. The header
// carries the content length and a CRC32 of that length field, both as
// 8-byte integers in the sender's native order, byte-swapped when the
// connection's byte order differs.
package chunk

import (
	"fmt"
	"math"
	"time"

	"github.com/danmuck/comlink/internal/transport"
)

const defaultOperationTimeout = time.Second

// MaxContentLength is the largest content a chunk may declare, the range of
// a single addressable array.
const MaxContentLength uint64 = math.MaxInt32

// OperationTimeout is the per-buffer write timeout used by WriteChunk
// callers that have no connection-specific setting.
func OperationTimeout() time.Duration {
	return defaultOperationTimeout
}

// ReadChunk reads one chunk and returns its content. scratch is reused for
// the header and, when large enough, for the content, so the result is only
// valid until scratch is used again.
func ReadChunk(conn transport.Endpoint, scratch []byte, swap bool) ([]byte, error) {
	return ReadChunkLimit(conn, scratch, swap, MaxContentLength)
}

// ReadChunkLimit is ReadChunk with an upper bound on the content length.
// A header announcing more than limit bytes fails with ErrChunkTooLarge
// before any content is read. limit never exceeds MaxContentLength.
func ReadChunkLimit(conn transport.Endpoint, scratch []byte, swap bool, limit uint64) ([]byte, error) {
	limit = min(limit, MaxContentLength)
	header, err := conn.Read(scratch, HeaderLen)
	if err != nil {
		return nil, err
	}
	length, err := DecodeHeader(header, swap)
	if err != nil {
		return nil, err
	}
	if length > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, length, limit)
	}
	return conn.Read(header, int(length))
}

// WriteChunk sends payload as one chunk. The content length is the sum of
// all buffers. timeout applies to the header and to each buffer
// separately, so the whole chunk may take longer than timeout.
func WriteChunk(conn transport.Endpoint, header []byte, swap bool, timeout time.Duration, payload ...[]byte) error {
	var total uint64
	for _, p := range payload {
		total += uint64(len(p))
	}
	header = EncodeHeader(header, total, swap)
	if err := conn.Write(header, timeout); err != nil {
		return err
	}
	for _, p := range payload {
		if len(p) == 0 {
			continue
		}
		if err := conn.Write(p, timeout); err != nil {
			return err
		}
	}
	return nil
}
