package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/comlink/internal/observability"
	"github.com/danmuck/comlink/internal/transport/engine"
	"github.com/rs/zerolog/log"
)

const DefaultHandshakeTimeout = time.Second

// SecureOptions tunes a SecureConn.
type SecureOptions struct {
	// HandshakeTimeout bounds each raw read during the handshake.
	HandshakeTimeout time.Duration
	// ReadTimeout bounds each raw read once secured. Zero blocks.
	ReadTimeout time.Duration
}

// SecureConn is an Endpoint that encrypts everything after EnableSecurity.
//
// Ciphertext moves through two packet-sized windows and decrypted bytes
// wait in an application-sized window until Read consumes them. Read and
// Write may run on different goroutines, but neither may be called
// concurrently with itself.
type SecureConn struct {
	raw    *rawChannel
	cfg    *tls.Config
	client bool
	opts   SecureOptions

	readTimeout atomic.Int64

	engine       *engine.Engine
	encryptedIn  *window
	encryptedOut *window
	decrypted    *window
	writeMu      sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

var _ Endpoint = (*SecureConn)(nil)

// NewSecureConn wraps rw. cfg must carry certificates for a server and
// trust roots or InsecureSkipVerify for a client.
func NewSecureConn(rw io.ReadWriteCloser, cfg *tls.Config, client bool, opts SecureOptions) *SecureConn {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	c := &SecureConn{
		raw:    newRawChannel(rw),
		cfg:    cfg,
		client: client,
		opts:   opts,
	}
	c.readTimeout.Store(int64(opts.ReadTimeout))
	return c
}

func (c *SecureConn) role() string {
	if c.client {
		return "client"
	}
	return "server"
}

// SetTimeout bounds every subsequent raw read. Zero blocks indefinitely.
func (c *SecureConn) SetTimeout(d time.Duration) {
	c.readTimeout.Store(int64(d))
}

func (c *SecureConn) Secured() bool {
	return c.engine != nil
}

// ConnectionState is the negotiated session, zero before EnableSecurity.
func (c *SecureConn) ConnectionState() tls.ConnectionState {
	if c.engine == nil {
		return tls.ConnectionState{}
	}
	return c.engine.ConnectionState()
}

// ReadUnsecured reads n bytes directly from the channel, bypassing TLS.
func (c *SecureConn) ReadUnsecured(buf []byte, n int) ([]byte, error) {
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

// WriteUnsecured writes p directly to the channel, bypassing TLS.
func (c *SecureConn) WriteUnsecured(p []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.raw.writeFull(p, timeout)
}

// EnableSecurity runs the TLS handshake over the channel. ctx bounds the
// whole exchange when it carries a deadline.
func (c *SecureConn) EnableSecurity(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if c.engine != nil {
		return nil
	}
	start := time.Now()
	eng := engine.New(c.cfg, c.client)
	c.encryptedIn = newWindow(eng.PacketBufferSize())
	c.encryptedOut = newWindow(eng.PacketBufferSize())
	c.decrypted = newWindow(eng.ApplicationBufferSize())

	err := c.handshake(ctx, eng)
	observability.RecordHandshake(c.role(), time.Since(start), err == nil)
	if err != nil {
		eng.Close()
		log.Warn().Str("role", c.role()).Err(err).Msg("transport.SecureConn handshake failed")
		return err
	}
	c.engine = eng
	state := eng.ConnectionState()
	log.Debug().
		Str("role", c.role()).
		Str("protocol", tls.VersionName(state.Version)).
		Str("cipher", tls.CipherSuiteName(state.CipherSuite)).
		Dur("took", time.Since(start)).
		Msg("transport.SecureConn secured")
	return nil
}

func (c *SecureConn) handshake(ctx context.Context, eng *engine.Engine) error {
	eng.BeginHandshake()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
		hs := eng.HandshakeStatus()
		if err := eng.Err(); err != nil && hs != engine.NeedWrap {
			return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
		switch hs {
		case engine.Finished, engine.NotHandshaking:
			return nil
		case engine.NeedUnwrap:
			if err := c.handshakeUnwrap(ctx, eng); err != nil {
				return err
			}
		case engine.NeedWrap:
			if err := c.handshakeWrap(eng); err != nil {
				return err
			}
		case engine.NeedTask:
			if err := runTask(ctx, eng.DelegatedTask()); err != nil {
				return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
			}
		}
	}
}

func (c *SecureConn) handshakeTimeout(ctx context.Context) time.Duration {
	timeout := c.opts.HandshakeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = max(left, time.Millisecond)
		}
	}
	return timeout
}

func (c *SecureConn) handshakeUnwrap(ctx context.Context, eng *engine.Engine) error {
	if c.encryptedIn.Len() == 0 {
		if err := c.fillEncrypted(c.handshakeTimeout(ctx)); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
	}
	for c.encryptedIn.Len() > 0 {
		res, err := eng.Unwrap(c.encryptedIn.Pending(), c.decrypted.Free())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
		c.encryptedIn.Consume(res.Consumed)
		c.decrypted.Commit(res.Produced)
		switch res.Status {
		case engine.OK:
		case engine.BufferUnderflow:
			c.encryptedIn.Compact()
			if err := c.fillEncrypted(c.handshakeTimeout(ctx)); err != nil {
				return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
			}
		default:
			return fmt.Errorf("%w: unwrap %s", ErrHandshakeFailed, res.Status)
		}
		if res.HandshakeStatus != engine.NeedUnwrap {
			break
		}
	}
	c.encryptedIn.Compact()
	return nil
}

func (c *SecureConn) handshakeWrap(eng *engine.Engine) error {
	c.encryptedOut.Reset()
	res, err := eng.Wrap(nil, c.encryptedOut.Free())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	c.encryptedOut.Commit(res.Produced)
	if c.encryptedOut.Len() > 0 {
		if err := c.raw.writeFull(c.encryptedOut.Pending(), c.opts.HandshakeTimeout); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		}
	}
	c.encryptedOut.Reset()
	return nil
}

func runTask(ctx context.Context, task func()) error {
	if task == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		task()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fillEncrypted performs one raw read into the free part of encryptedIn.
func (c *SecureConn) fillEncrypted(timeout time.Duration) error {
	free := c.encryptedIn.Free()
	if len(free) == 0 {
		return fmt.Errorf("%w: ciphertext window full", ErrEngineInvariant)
	}
	n, err := c.raw.readOnce(free, timeout)
	c.encryptedIn.Commit(n)
	if err != nil && n == 0 {
		return err
	}
	return nil
}

func (c *SecureConn) Read(buf []byte, n int) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if c.engine == nil {
		return nil, ErrSecurityNotEnabled
	}
	out, err := ensureSize(buf, n)
	if err != nil {
		return nil, err
	}
	for filled := 0; filled < n; {
		if c.decrypted.Len() == 0 {
			if err := c.decryptPackage(); err != nil {
				return nil, err
			}
			continue
		}
		m := copy(out[filled:], c.decrypted.Pending())
		c.decrypted.Consume(m)
		filled += m
	}
	return out, nil
}

// decryptPackage makes progress towards more plaintext in c.decrypted.
// The engine is asked first since it may hold plaintext from ciphertext
// it has already consumed.
func (c *SecureConn) decryptPackage() error {
	c.decrypted.Compact()
	res, err := c.engine.Unwrap(c.encryptedIn.Pending(), c.decrypted.Free())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionBroken, err)
	}
	c.encryptedIn.Consume(res.Consumed)
	c.decrypted.Commit(res.Produced)
	switch res.Status {
	case engine.OK:
		c.encryptedIn.Compact()
		return nil
	case engine.BufferUnderflow:
		c.encryptedIn.Compact()
		return c.fillEncrypted(time.Duration(c.readTimeout.Load()))
	case engine.Closed:
		_ = c.Close()
		return ErrConnectionClosed
	default:
		return fmt.Errorf("%w: unwrap %s", ErrEngineInvariant, res.Status)
	}
}

// Write encrypts p and sends it. timeout bounds the transmission of each
// wrapped record.
func (c *SecureConn) Write(p []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if c.engine == nil {
		return ErrSecurityNotEnabled
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for len(p) > 0 {
		c.encryptedOut.Reset()
		res, err := c.engine.Wrap(p, c.encryptedOut.Free())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionBroken, err)
		}
		if res.Status != engine.OK {
			return fmt.Errorf("%w: wrap %s", ErrEngineInvariant, res.Status)
		}
		p = p[res.Consumed:]
		c.encryptedOut.Commit(res.Produced)
		if c.encryptedOut.Len() > 0 {
			if err := c.raw.writeFull(c.encryptedOut.Pending(), timeout); err != nil {
				return err
			}
		}
	}
	c.encryptedOut.Reset()
	return nil
}

// Close sends close_notify when secured, then closes the channel. Only the
// first call does any work.
func (c *SecureConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.engine != nil {
			c.writeMu.Lock()
			c.closeOutbound()
			c.writeMu.Unlock()
			c.engine.Close()
		}
		c.closeErr = c.raw.close()
		log.Debug().Str("role", c.role()).Err(c.closeErr).Msg("transport.SecureConn closed")
	})
	return c.closeErr
}

func (c *SecureConn) closeOutbound() {
	c.engine.CloseOutbound()
	for !c.engine.IsOutboundDone() {
		c.encryptedOut.Reset()
		res, err := c.engine.Wrap(nil, c.encryptedOut.Free())
		if err != nil || res.Produced == 0 {
			return
		}
		c.encryptedOut.Commit(res.Produced)
		if err := c.raw.writeFull(c.encryptedOut.Pending(), DefaultHandshakeTimeout); err != nil {
			log.Debug().Err(err).Msg("transport.SecureConn close_notify not delivered")
			return
		}
	}
}
