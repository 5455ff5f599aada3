package com

import (
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/danmuck/comlink/internal/protocol/chunk"
	"github.com/danmuck/comlink/internal/protocol/negotiation"
	"github.com/danmuck/comlink/internal/protocol/session"
	"github.com/danmuck/comlink/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrAcceptorRequired = errors.New("com: acceptor required")

// Channel is one connection's chunk exchange, after security and protocol
// negotiation. Send and Receive may run on separate goroutines.
type Channel struct {
	transport *chunk.Transport
	protocol  negotiation.Protocol
	remote    string
}

func newChannel(conn transport.Endpoint, p negotiation.Protocol, opts chunk.Options, remote string) *Channel {
	opts.Swap = p.Swap()
	return &Channel{
		transport: chunk.NewTransport(conn, opts),
		protocol:  p,
		remote:    remote,
	}
}

// Send writes the buffers as one chunk.
func (c *Channel) Send(payload ...[]byte) error {
	return c.transport.WriteChunk(payload...)
}

// Receive returns the next chunk. The slice is valid until the next call.
func (c *Channel) Receive() ([]byte, error) {
	return c.transport.ReadChunk()
}

// Protocol is what the host announced for this connection.
func (c *Channel) Protocol() negotiation.Protocol { return c.protocol }

func (c *Channel) RemoteAddr() string { return c.remote }

// Endpoint exposes the underlying connection, mainly for TLS state.
func (c *Channel) Endpoint() transport.Endpoint { return c.transport.Endpoint() }

func (c *Channel) Close() error {
	return c.transport.Close()
}

type timeoutSetter interface {
	SetTimeout(time.Duration)
}

// wrapConn picks the endpoint variant for conn. A nil tlsCfg yields a plain
// connection.
func wrapConn(conn net.Conn, cfg session.Config, tlsCfg *tls.Config, client bool) transport.Endpoint {
	if tlsCfg == nil {
		plain := transport.NewPlainConn(conn)
		plain.SetTimeout(cfg.InactivityTimeout)
		return plain
	}
	params := cfg.TLSParameters()
	log.Debug().
		Str("remote", conn.RemoteAddr().String()).
		Bool("client", client).
		Str("tls_protocol", params.Protocol).
		Bool("client_auth", params.ClientAuthRequired).
		Dur("handshake_timeout", params.HandshakeTimeout).
		Msg("com securing connection")
	return transport.NewSecureConn(conn, tlsCfg, client, transport.SecureOptions{
		HandshakeTimeout: params.HandshakeTimeout,
		ReadTimeout:      cfg.InactivityTimeout,
	})
}
