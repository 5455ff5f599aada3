// Package engine adapts crypto/tls to a buffer-oriented wrap/unwrap API.
//
// The caller owns the real channel and moves ciphertext in and out of the
// engine explicitly. Internally a tls.Conn runs on a goroutine over an
// in-memory pipe; the engine reports which side of the exchange has to act
// next through HandshakeStatus.
package engine

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	recordHeaderLen   = 5
	maxPlaintext      = 16384
	maxRecordOverhead = 2048
)

var (
	ErrHandshake = errors.New("engine: handshake failed")
	ErrRecord    = errors.New("engine: record layer failure")
)

// Engine is one side of a TLS session. Wrap and Unwrap must not be called
// concurrently with each other; the remaining methods are safe for
// concurrent use.
type Engine struct {
	tc *tls.Conn

	mu   sync.Mutex
	cond *sync.Cond

	inbound   []byte
	outbound  []byte
	plaintext []byte

	started        bool
	running        bool
	waiting        bool
	handshakeDone  bool
	finished       bool
	handshakeErr   error
	readErr        error
	outboundClosed bool
	closed         bool
}

// New builds an engine for the client or server side of a session. cfg is
// cloned; the caller may reuse it.
func New(cfg *tls.Config, client bool) *Engine {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	cfg.DynamicRecordSizingDisabled = true

	e := &Engine{}
	e.cond = sync.NewCond(&e.mu)
	p := &pipe{e: e}
	if client {
		e.tc = tls.Client(p, cfg)
	} else {
		e.tc = tls.Server(p, cfg)
	}
	return e
}

// PacketBufferSize is the largest ciphertext unit Wrap can produce.
func (e *Engine) PacketBufferSize() int {
	return recordHeaderLen + maxPlaintext + maxRecordOverhead
}

// ApplicationBufferSize is the largest plaintext unit a record carries.
func (e *Engine) ApplicationBufferSize() int {
	return maxPlaintext
}

// BeginHandshake starts the handshake. Calling it again is a no-op.
func (e *Engine) BeginHandshake() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

func (e *Engine) startLocked() {
	if e.started || e.closed {
		return
	}
	e.started = true
	e.running = true
	go e.pump()
}

func (e *Engine) pump() {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	if err := e.tc.Handshake(); err != nil {
		e.mu.Lock()
		e.handshakeErr = err
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	e.handshakeDone = true
	e.mu.Unlock()

	buf := make([]byte, maxPlaintext)
	for {
		n, err := e.tc.Read(buf)
		e.mu.Lock()
		e.plaintext = append(e.plaintext, buf[:n]...)
		if err != nil {
			e.readErr = err
		}
		e.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// idle reports whether the TLS state machine is waiting for input or has
// stopped. Must hold e.mu.
func (e *Engine) idle() bool {
	return !e.running || (e.waiting && len(e.inbound) == 0)
}

// settle blocks until idle. Must hold e.mu.
func (e *Engine) settle() {
	for !e.idle() {
		e.cond.Wait()
	}
}

func (e *Engine) HandshakeStatus() HandshakeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshakeStatusLocked()
}

func (e *Engine) handshakeStatusLocked() HandshakeStatus {
	switch {
	case !e.started || e.finished:
		return NotHandshaking
	case len(e.outbound) > 0:
		return NeedWrap
	case !e.idle():
		return NeedTask
	case e.handshakeDone:
		e.finished = true
		return Finished
	default:
		// Also the failed state; callers check Err.
		return NeedUnwrap
	}
}

// DelegatedTask returns a function that waits for pending computation, or
// nil when there is none.
func (e *Engine) DelegatedTask() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idle() {
		return nil
	}
	return func() {
		e.mu.Lock()
		e.settle()
		e.mu.Unlock()
	}
}

// Err returns the handshake failure, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handshakeErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrHandshake, e.handshakeErr)
}

// Wrap encrypts at most one record of src into dst. While handshake or
// alert bytes are pending they are drained first and src is left untouched.
func (e *Engine) Wrap(src, dst []byte) (Result, error) {
	e.mu.Lock()
	e.startLocked()
	if e.handshakeErr != nil && len(e.outbound) == 0 {
		err := e.handshakeErr
		e.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	writable := e.handshakeDone && !e.outboundClosed && !e.closed &&
		len(e.outbound) == 0 && len(src) > 0
	e.mu.Unlock()

	consumed := 0
	if writable {
		n := min(len(src), maxPlaintext)
		if len(dst) < n+recordHeaderLen+maxRecordOverhead {
			return Result{Status: BufferOverflow, HandshakeStatus: e.HandshakeStatus()}, nil
		}
		written, err := e.tc.Write(src[:n])
		consumed = written
		if err != nil {
			return Result{Consumed: consumed}, fmt.Errorf("%w: wrap: %w", ErrRecord, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	produced := copy(dst, e.outbound)
	e.outbound = e.outbound[produced:]
	if len(e.outbound) == 0 {
		e.outbound = nil
	}
	status := OK
	if produced == 0 && consumed == 0 && (e.outboundClosed || e.closed) {
		status = Closed
	}
	return Result{
		Status:          status,
		HandshakeStatus: e.handshakeStatusLocked(),
		Consumed:        consumed,
		Produced:        produced,
	}, nil
}

// Unwrap feeds all of src to the engine and copies any decrypted plaintext
// into dst. During the handshake it never blocks and produces nothing.
func (e *Engine) Unwrap(src, dst []byte) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
	if e.handshakeErr != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrHandshake, e.handshakeErr)
	}
	if e.closed {
		return Result{Status: Closed, HandshakeStatus: e.handshakeStatusLocked()}, nil
	}
	if len(src) > 0 {
		e.inbound = append(e.inbound, src...)
		e.cond.Broadcast()
	}
	res := Result{Consumed: len(src)}
	if !e.handshakeDone {
		res.Status = OK
		res.HandshakeStatus = e.handshakeStatusLocked()
		return res, nil
	}

	e.settle()
	switch {
	case len(e.plaintext) > 0 && len(dst) == 0:
		res.Status = BufferOverflow
	case len(e.plaintext) > 0:
		res.Produced = copy(dst, e.plaintext)
		e.plaintext = e.plaintext[res.Produced:]
		if len(e.plaintext) == 0 {
			e.plaintext = nil
		}
		res.Status = OK
	case e.readErr != nil && !errors.Is(e.readErr, io.EOF):
		return res, fmt.Errorf("%w: unwrap: %w", ErrRecord, e.readErr)
	case e.readErr != nil:
		res.Status = Closed
	default:
		res.Status = BufferUnderflow
	}
	res.HandshakeStatus = e.handshakeStatusLocked()
	return res, nil
}

// CloseOutbound queues a close_notify alert. Keep wrapping until
// IsOutboundDone reports true to flush it.
func (e *Engine) CloseOutbound() {
	e.mu.Lock()
	if e.outboundClosed {
		e.mu.Unlock()
		return
	}
	e.outboundClosed = true
	notify := e.handshakeDone && !e.closed
	e.mu.Unlock()
	if notify {
		_ = e.tc.CloseWrite()
	}
}

func (e *Engine) IsOutboundDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outboundClosed && len(e.outbound) == 0
}

// Close stops the engine and releases its goroutine. Buffered ciphertext
// is discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cond.Broadcast()
}

// ConnectionState is the negotiated session; zero before the handshake
// completes.
func (e *Engine) ConnectionState() tls.ConnectionState {
	e.mu.Lock()
	done := e.handshakeDone
	e.mu.Unlock()
	if !done {
		return tls.ConnectionState{}
	}
	return e.tc.ConnectionState()
}
