package com

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/comlink/internal/protocol/chunk"
	"github.com/danmuck/comlink/internal/protocol/negotiation"
	"github.com/danmuck/comlink/internal/testutil/testlog"
	"github.com/danmuck/comlink/internal/testutil/tlstest"
	"github.com/danmuck/comlink/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type hostOption func(*HostConfig)

func startHost(t *testing.T, acceptor Acceptor, serverTLS *tls.Config, opts ...hostOption) (*Host, string) {
	t.Helper()
	cfg := DefaultHostConfig()
	cfg.Name = "test-host"
	for _, opt := range opts {
		opt(&cfg)
	}
	host, err := NewHost(cfg, acceptor)
	require.NoError(t, err)
	host.WithTLSConfig(serverTLS)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- host.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Errorf("host did not stop")
		}
	})
	return host, ln.Addr().String()
}

func newClient(t *testing.T, addr string, clientTLS *tls.Config) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Address = addr
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client.WithTLSConfig(clientTLS)
}

func TestBouncePlain(t *testing.T) {
	testlog.Start(t)
	_, addr := startHost(t, Bounce, nil)

	ch, err := newClient(t, addr, nil).Connect(context.Background())
	require.NoError(t, err)
	defer ch.Close()

	require.Equal(t, negotiation.DefaultName, ch.Protocol().Name)
	require.NoError(t, ch.Send([]byte("hello")))
	reply, err := ch.Receive()
	require.NoError(t, err)
	require.Equal(t, `You said: "hello". Goodbye.`, string(reply))

	_, err = ch.Receive()
	require.ErrorIs(t, err, transport.ErrConnectionClosed)
}

func TestBounceMutualTLS(t *testing.T) {
	testlog.Start(t)
	serverTLS, clientTLS := tlstest.Configs(t, true)
	_, addr := startHost(t, Bounce, serverTLS)

	ch, err := newClient(t, addr, clientTLS).Connect(context.Background())
	require.NoError(t, err)
	defer ch.Close()

	secure, ok := ch.Endpoint().(*transport.SecureConn)
	require.True(t, ok, "expected a secure endpoint")
	require.True(t, secure.ConnectionState().HandshakeComplete)

	require.NoError(t, ch.Send([]byte("over "), []byte("tls")))
	reply, err := ch.Receive()
	require.NoError(t, err)
	require.Equal(t, `You said: "over tls". Goodbye.`, string(reply))
}

func TestEchoWithForeignByteOrder(t *testing.T) {
	testlog.Start(t)
	foreign := chunk.BigEndian
	if chunk.NativeByteOrder() == chunk.BigEndian {
		foreign = chunk.LittleEndian
	}
	serverTLS, clientTLS := tlstest.Configs(t, false)
	_, addr := startHost(t, Echo, serverTLS, func(cfg *HostConfig) {
		cfg.Session.ByteOrder = foreign.String()
		cfg.Session.InactivityTimeout = 5 * time.Second
	})

	ch, err := newClient(t, addr, clientTLS).Connect(context.Background())
	require.NoError(t, err)
	defer ch.Close()

	require.Equal(t, foreign, ch.Protocol().ByteOrder)
	require.True(t, ch.Protocol().Swap())
	require.Equal(t, 5*time.Second, ch.Protocol().InactivityTimeout)

	for _, size := range []int{0, 1, 4096, 70_000} {
		payload := bytes.Repeat([]byte{byte(size)}, size)
		require.NoError(t, ch.Send(payload))
		got, err := ch.Receive()
		require.NoError(t, err)
		require.Equal(t, payload, got, "size %d", size)
	}
}

func TestClientRejectsUnexpectedProtocol(t *testing.T) {
	testlog.Start(t)
	_, addr := startHost(t, Echo, nil, func(cfg *HostConfig) {
		cfg.Protocol.Name = "SOMETHING-ELSE"
	})

	_, err := newClient(t, addr, nil).Connect(context.Background())
	require.ErrorIs(t, err, negotiation.ErrNameMismatch)
}

func TestClientFailsAgainstUntrustedHost(t *testing.T) {
	testlog.Start(t)
	serverTLS, _ := tlstest.Configs(t, false)
	_, strangerTLS := tlstest.Configs(t, false)
	_, addr := startHost(t, Echo, serverTLS)

	_, err := newClient(t, addr, strangerTLS).Connect(context.Background())
	require.ErrorIs(t, err, transport.ErrHandshakeFailed)
}

func TestHostTracksConnections(t *testing.T) {
	testlog.Start(t)
	host, addr := startHost(t, Echo, nil)

	ch, err := newClient(t, addr, nil).Connect(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return host.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, host.AcceptedConnections())

	require.NoError(t, ch.Close())
	require.Eventually(t, func() bool { return host.ActiveConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type handoffListener struct {
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func (l *handoffListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *handoffListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *handoffListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestHostClosesConnectionAcceptedAfterShutdown(t *testing.T) {
	testlog.Start(t)
	host, err := NewHost(DefaultHostConfig(), Echo)
	require.NoError(t, err)
	host.closeAllConns()

	server, peer := net.Pipe()
	defer peer.Close()
	ln := &handoffListener{conns: make(chan net.Conn, 1), closed: make(chan struct{})}
	ln.conns <- server

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- host.Serve(ctx, ln) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve kept running after a late accept")
	}
	require.Zero(t, host.ActiveConnections())
	require.Zero(t, host.AcceptedConnections())

	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, err = peer.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestNewHostRequiresAcceptor(t *testing.T) {
	_, err := NewHost(DefaultHostConfig(), nil)
	require.ErrorIs(t, err, ErrAcceptorRequired)
}

func TestNewHostRejectsUnparseableProtocol(t *testing.T) {
	for _, name := range []string{"A;B", " padded "} {
		cfg := DefaultHostConfig()
		cfg.Protocol.Name = name
		_, err := NewHost(cfg, Echo)
		require.ErrorIs(t, err, negotiation.ErrMalformed, "name %q", name)
	}

	cfg := DefaultHostConfig()
	cfg.Protocol.Version = `1."2"`
	_, err := NewHost(cfg, Echo)
	require.ErrorIs(t, err, negotiation.ErrMalformed)
}

func TestAdminRouter(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	host, err := NewHost(DefaultHostConfig(), Bounce)
	require.NoError(t, err)
	router := host.AdminRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connections", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Active   int64 `json:"active"`
		Protocol struct {
			Name      string `json:"name"`
			ByteOrder string `json:"byte_order"`
		} `json:"protocol"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Zero(t, body.Active)
	require.Equal(t, negotiation.DefaultName, body.Protocol.Name)
	require.Equal(t, chunk.NativeByteOrder().String(), body.Protocol.ByteOrder)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "comlink_http_requests_total")
}
