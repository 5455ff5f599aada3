package session

import (
	"time"

	"github.com/danmuck/comlink/internal/protocol/chunk"
)

const DefaultPort = 1099

// SecurityMode selects how strictly transport security is enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig names the certificate material and policy for one side.
type TLSConfig struct {
	Enabled bool
	// Mutual requires the client to present a certificate.
	Mutual bool
	// Protocol pins the TLS version, e.g. "TLSv1.3". Empty allows TLS 1.2+.
	Protocol           string
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines connection-level transport defaults.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// InactivityTimeout bounds each steady-state read. Zero blocks.
	InactivityTimeout time.Duration
	// OperationTimeout bounds each buffer write of a chunk.
	OperationTimeout time.Duration
	// ByteOrder is the order a host announces; clients adopt the host's.
	ByteOrder      string
	ReadBufferSize int
	MaxChunkLength uint64
	SecurityMode   SecurityMode
	TLS            TLSConfig
}

// DefaultConfig returns the defaults both commands start from.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  time.Second,
		InactivityTimeout: 0,
		OperationTimeout:  chunk.OperationTimeout(),
		ByteOrder:         chunk.NativeByteOrder().String(),
		ReadBufferSize:    chunk.DefaultReadBufferSize,
		MaxChunkLength:    chunk.MaxContentLength,
		SecurityMode:      SecurityModeDevelopment,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.InactivityTimeout < 0 {
		c.InactivityTimeout = 0
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.ByteOrder == "" {
		c.ByteOrder = d.ByteOrder
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxChunkLength == 0 || c.MaxChunkLength > chunk.MaxContentLength {
		c.MaxChunkLength = d.MaxChunkLength
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}

// HostByteOrder parses ByteOrder.
func (c Config) HostByteOrder() (chunk.ByteOrder, error) {
	return chunk.ParseByteOrder(c.ByteOrder)
}

// ChunkOptions maps the config onto chunk transport options. Swap is left
// to the negotiated protocol.
func (c Config) ChunkOptions() chunk.Options {
	return chunk.Options{
		MaxContentLength: c.MaxChunkLength,
		OperationTimeout: c.OperationTimeout,
		ReadBufferSize:   c.ReadBufferSize,
	}
}
