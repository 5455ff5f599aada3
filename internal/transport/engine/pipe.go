package engine

import (
	"io"
	"net"
	"time"
)

// pipe is the in-process byte channel the tls.Conn runs over. Reads drain
// ciphertext queued by Unwrap; writes queue ciphertext for Wrap. Reads
// block on the engine's condition variable and are the only place the
// pump goroutine ever waits.
type pipe struct {
	e *Engine
}

var _ net.Conn = (*pipe)(nil)

func (p *pipe) Read(b []byte) (int, error) {
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.inbound) == 0 && !e.closed {
		e.waiting = true
		e.cond.Broadcast()
		e.cond.Wait()
	}
	e.waiting = false
	if len(e.inbound) == 0 {
		return 0, io.EOF
	}
	n := copy(b, e.inbound)
	e.inbound = e.inbound[n:]
	if len(e.inbound) == 0 {
		e.inbound = nil
	}
	return n, nil
}

func (p *pipe) Write(b []byte) (int, error) {
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, net.ErrClosed
	}
	e.outbound = append(e.outbound, b...)
	return len(b), nil
}

func (p *pipe) Close() error {
	p.e.Close()
	return nil
}

func (p *pipe) LocalAddr() net.Addr  { return pipeAddr{} }
func (p *pipe) RemoteAddr() net.Addr { return pipeAddr{} }

// Deadlines are enforced by the driver on the real channel.
func (p *pipe) SetDeadline(time.Time) error      { return nil }
func (p *pipe) SetReadDeadline(time.Time) error  { return nil }
func (p *pipe) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "memory" }
func (pipeAddr) String() string  { return "engine" }
