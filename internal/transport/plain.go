package transport

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// PlainConn is an unencrypted Endpoint over a raw byte stream.
type PlainConn struct {
	raw         *rawChannel
	readTimeout atomic.Int64
	closed      atomic.Bool
}

var _ Endpoint = (*PlainConn)(nil)

func NewPlainConn(rw io.ReadWriteCloser) *PlainConn {
	return &PlainConn{raw: newRawChannel(rw)}
}

// SetTimeout bounds every subsequent raw read. Zero blocks indefinitely.
func (c *PlainConn) SetTimeout(d time.Duration) {
	c.readTimeout.Store(int64(d))
}

func (c *PlainConn) Read(buf []byte, n int) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	out, err := ensureSize(buf, n)
	if err != nil {
		return nil, err
	}
	if err := c.raw.readFull(out, time.Duration(c.readTimeout.Load())); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PlainConn) Write(p []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.raw.writeFull(p, timeout)
}

func (c *PlainConn) EnableSecurity(context.Context) error {
	return nil
}

func (c *PlainConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.raw.close()
	log.Debug().Err(err).Msg("transport.PlainConn closed")
	return err
}
