package transport

import (
	"context"
	"fmt"
	"time"
)

// Endpoint is the contract chunk framing is written against. Plain and TLS
// connections both implement it.
//
// An Endpoint is owned by one goroutine per direction; its buffers are never
// shared. Any error other than a deliberate Close leaves the connection
// unusable and the caller must close it.
type Endpoint interface {
	// Read blocks until exactly n bytes are available and returns them.
	// buf is reused when its capacity is at least n, otherwise a larger
	// buffer is allocated and returned in its place.
	Read(buf []byte, n int) ([]byte, error)
	// Write blocks until p is fully transmitted. A timeout of 0 applies no
	// per-call deadline.
	Write(p []byte, timeout time.Duration) error
	// Close is idempotent.
	Close() error
	// EnableSecurity is a no-op for plain connections and runs the full TLS
	// handshake for secure ones.
	EnableSecurity(ctx context.Context) error
}

// ensureSize returns buf[:n] when it fits, otherwise a fresh buffer.
func ensureSize(buf []byte, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if cap(buf) < n {
		return make([]byte, n), nil
	}
	return buf[:n], nil
}
