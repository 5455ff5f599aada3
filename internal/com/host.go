package com

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/comlink/internal/observability"
	"github.com/danmuck/comlink/internal/protocol/negotiation"
	"github.com/danmuck/comlink/internal/protocol/session"
	"github.com/danmuck/comlink/internal/transport"
	"github.com/rs/zerolog/log"
)

// Acceptor owns a negotiated channel until it returns. The host closes the
// channel afterwards.
type Acceptor func(ctx context.Context, ch *Channel) error

type HostConfig struct {
	Name       string
	ListenAddr string
	Session    session.Config
	// Protocol is announced to every client. ByteOrder and
	// InactivityTimeout are taken from Session.
	Protocol negotiation.Protocol
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		Name:       "comhost",
		ListenAddr: ":" + strconv.Itoa(session.DefaultPort),
		Session:    session.DefaultConfig(),
		Protocol:   negotiation.Default(),
	}
}

// Host accepts connections and hands each one, secured and negotiated, to
// an Acceptor on its own goroutine.
type Host struct {
	cfg      HostConfig
	tlsCfg   *tls.Config
	protocol negotiation.Protocol
	acceptor Acceptor
	started  time.Time

	active   atomic.Int64
	accepted atomic.Uint64

	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
	draining bool
	wg       sync.WaitGroup
}

// Validate checks that the host can serve with cfg and that every client
// will be able to parse the preamble it announces.
func (c HostConfig) Validate() error {
	if err := c.Session.ValidateServerTransport(); err != nil {
		return err
	}
	order, err := c.Session.HostByteOrder()
	if err != nil {
		return err
	}
	p := c.Protocol
	p.ByteOrder = order
	p.InactivityTimeout = c.Session.InactivityTimeout
	if err := negotiation.Validate(p); err != nil {
		return fmt.Errorf("com: host protocol: %w", err)
	}
	return nil
}

func NewHost(cfg HostConfig, acceptor Acceptor) (*Host, error) {
	if acceptor == nil {
		return nil, ErrAcceptorRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Name == "" {
		cfg.Name = DefaultHostConfig().Name
	}
	if cfg.Protocol.Name == "" {
		cfg.Protocol = negotiation.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order, err := cfg.Session.HostByteOrder()
	if err != nil {
		return nil, err
	}

	h := &Host{
		cfg:      cfg,
		acceptor: acceptor,
		started:  time.Now(),
		conns:    make(map[net.Conn]struct{}),
	}
	h.protocol = cfg.Protocol
	h.protocol.ByteOrder = order
	h.protocol.InactivityTimeout = cfg.Session.InactivityTimeout

	if cfg.Session.TLS.Enabled {
		if h.tlsCfg, err = cfg.Session.ServerTLSConfig(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// WithTLSConfig replaces the file-based TLS config, mostly for tests and
// embedding. A nil config disables TLS.
func (h *Host) WithTLSConfig(cfg *tls.Config) *Host {
	h.tlsCfg = cfg
	return h
}

func (h *Host) Name() string { return h.cfg.Name }

func (h *Host) Protocol() negotiation.Protocol { return h.protocol }

func (h *Host) ActiveConnections() int64 { return h.active.Load() }

func (h *Host) AcceptedConnections() uint64 { return h.accepted.Load() }

func (h *Host) Listen() (net.Listener, error) {
	return net.Listen("tcp", h.cfg.ListenAddr)
}

// Run listens on the configured address and serves until ctx is done.
func (h *Host) Run(ctx context.Context) error {
	ln, err := h.Listen()
	if err != nil {
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done, then closes every tracked
// connection and waits for their handlers.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		h.closeAllConns()
		_ = ln.Close()
	}()

	log.Info().
		Str("host", h.cfg.Name).
		Str("addr", ln.Addr().String()).
		Bool("tls", h.tlsCfg != nil).
		Str("byte_order", h.protocol.ByteOrder.String()).
		Msg("com.Host serving")

	defer h.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !h.trackConn(conn) {
			_ = conn.Close()
			return nil
		}
		h.wg.Add(1)
		go h.handleConn(ctx, conn)
	}
}

func (h *Host) handleConn(ctx context.Context, conn net.Conn) {
	defer h.wg.Done()
	defer conn.Close()
	defer h.untrackConn(conn)

	remote := conn.RemoteAddr().String()
	active := h.active.Add(1)
	h.accepted.Add(1)
	observability.ConnectionOpened(h.cfg.Name)
	log.Debug().Str("remote", remote).Int64("active", active).Msg("com.Host client connected")
	defer func() {
		remaining := h.active.Add(-1)
		observability.ConnectionClosed(h.cfg.Name)
		log.Debug().Str("remote", remote).Int64("active", remaining).Msg("com.Host client disconnected")
	}()

	ch, err := h.negotiate(ctx, conn, remote)
	if err != nil {
		log.Warn().Str("remote", remote).Err(err).Msg("com.Host negotiation failed")
		return
	}
	defer ch.Close()

	if err := h.acceptor(ctx, ch); err != nil && !errors.Is(err, transport.ErrConnectionClosed) {
		log.Warn().Str("remote", remote).Err(err).Msg("com.Host acceptor failed")
	}
}

func (h *Host) negotiate(ctx context.Context, conn net.Conn, remote string) (*Channel, error) {
	endpoint := wrapConn(conn, h.cfg.Session, h.tlsCfg, false)
	if err := endpoint.EnableSecurity(ctx); err != nil {
		_ = endpoint.Close()
		return nil, err
	}
	if err := negotiation.Write(endpoint, h.protocol, h.cfg.Session.OperationTimeout); err != nil {
		_ = endpoint.Close()
		return nil, fmt.Errorf("com: announce protocol: %w", err)
	}
	return newChannel(endpoint, h.protocol, h.cfg.Session.ChunkOptions(), remote), nil
}

// trackConn reports false once closeAllConns has run; the caller must
// close conn itself.
func (h *Host) trackConn(conn net.Conn) bool {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	if h.draining {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Host) untrackConn(conn net.Conn) {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	delete(h.conns, conn)
}

func (h *Host) closeAllConns() {
	h.connsMu.Lock()
	defer h.connsMu.Unlock()
	h.draining = true
	for conn := range h.conns {
		_ = conn.Close()
		delete(h.conns, conn)
	}
}
