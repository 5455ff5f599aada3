package com

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/danmuck/comlink/internal/protocol/negotiation"
	"github.com/danmuck/comlink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	Address string
	Session session.Config
	// ProtocolName must match what the host announces.
	ProtocolName string
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:      net.JoinHostPort("localhost", strconv.Itoa(session.DefaultPort)),
		Session:      session.DefaultConfig(),
		ProtocolName: negotiation.DefaultName,
	}
}

// Client opens channels to one host. It holds no connection state itself;
// every Connect dials anew.
type Client struct {
	cfg    ClientConfig
	tlsCfg *tls.Config
}

func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.ProtocolName == "" {
		cfg.ProtocolName = negotiation.DefaultName
	}
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg}
	if cfg.Session.TLS.Enabled {
		var err error
		if c.tlsCfg, err = cfg.Session.ClientTLSConfig(cfg.Address); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithTLSConfig replaces the file-based TLS config. A nil config disables
// TLS.
func (c *Client) WithTLSConfig(cfg *tls.Config) *Client {
	c.tlsCfg = cfg
	return c
}

// Connect dials the host, secures the connection and reads the protocol
// preamble. The client adopts the host's byte order, and its inactivity
// timeout when none is configured locally.
func (c *Client) Connect(ctx context.Context) (*Channel, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("com: dial %s: %w", c.cfg.Address, err)
	}

	endpoint := wrapConn(conn, c.cfg.Session, c.tlsCfg, true)
	if err := endpoint.EnableSecurity(ctx); err != nil {
		_ = endpoint.Close()
		return nil, err
	}
	protocol, err := negotiation.Expect(endpoint, nil, c.cfg.ProtocolName)
	if err != nil {
		_ = endpoint.Close()
		return nil, err
	}
	if c.cfg.Session.InactivityTimeout == 0 && protocol.InactivityTimeout > 0 {
		if ts, ok := endpoint.(timeoutSetter); ok {
			ts.SetTimeout(protocol.InactivityTimeout)
		}
	}

	log.Debug().
		Str("addr", c.cfg.Address).
		Str("protocol", protocol.Name).
		Str("version", protocol.Version).
		Str("byte_order", protocol.ByteOrder.String()).
		Bool("swap", protocol.Swap()).
		Msg("com.Client connected")
	return newChannel(endpoint, protocol, c.cfg.Session.ChunkOptions(), conn.RemoteAddr().String()), nil
}
