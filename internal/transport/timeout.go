package transport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// rawChannel applies the timeout policy to an underlying byte stream.
//
// With a timeout and deadline support the operation is bounded by the
// channel itself and nothing is left in flight on expiry. Channels without
// deadlines fall back to a detached goroutine; an expired detached
// operation may still complete later, so the channel is marked broken and
// every further call fails with ErrConnectionBroken.
type rawChannel struct {
	rw        io.ReadWriteCloser
	broken    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newRawChannel(rw io.ReadWriteCloser) *rawChannel {
	return &rawChannel{rw: rw}
}

// readOnce performs a single Read of at most len(p) bytes.
func (c *rawChannel) readOnce(p []byte, timeout time.Duration) (int, error) {
	if c.broken.Load() {
		return 0, ErrConnectionBroken
	}
	if timeout <= 0 {
		n, err := c.rw.Read(p)
		return n, classify("read", err)
	}
	if d, ok := c.rw.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(timeout)); err == nil {
			n, err := c.rw.Read(p)
			_ = d.SetReadDeadline(time.Time{})
			return n, classify("read", err)
		}
	}
	return c.readDetached(p, timeout)
}

func (c *rawChannel) readDetached(p []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	// The detached reader gets its own buffer so a late completion cannot
	// write into memory the caller has moved on from.
	tmp := make([]byte, len(p))
	done := make(chan result, 1)
	go func() {
		n, err := c.rw.Read(tmp)
		done <- result{n: n, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		n := copy(p, tmp[:res.n])
		return n, classify("read", res.err)
	case <-timer.C:
		c.broken.Store(true)
		return 0, fmt.Errorf("%w: read after %s", ErrTimeout, timeout)
	}
}

// readFull fills p completely, each underlying read bounded by timeout.
func (c *rawChannel) readFull(p []byte, timeout time.Duration) error {
	for filled := 0; filled < len(p); {
		n, err := c.readOnce(p[filled:], timeout)
		filled += n
		if err != nil {
			if filled == len(p) {
				return nil
			}
			return err
		}
	}
	return nil
}

// writeFull transmits all of p within timeout.
func (c *rawChannel) writeFull(p []byte, timeout time.Duration) error {
	if c.broken.Load() {
		return ErrConnectionBroken
	}
	if timeout <= 0 {
		return classify("write", writeAll(c.rw, p))
	}
	if d, ok := c.rw.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now().Add(timeout)); err == nil {
			err := writeAll(c.rw, p)
			_ = d.SetWriteDeadline(time.Time{})
			return classify("write", err)
		}
	}
	return c.writeDetached(p, timeout)
}

func (c *rawChannel) writeDetached(p []byte, timeout time.Duration) error {
	data := append([]byte(nil), p...)
	done := make(chan error, 1)
	go func() {
		done <- writeAll(c.rw, data)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return classify("write", err)
	case <-timer.C:
		c.broken.Store(true)
		return fmt.Errorf("%w: write after %s", ErrTimeout, timeout)
	}
}

func (c *rawChannel) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rw.Close()
	})
	return c.closeErr
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
