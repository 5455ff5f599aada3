package config

import (
	"strings"
	"time"

	"github.com/danmuck/comlink/internal/com"
	"github.com/danmuck/comlink/internal/protocol/session"
)

// ClientConfig converts the file layout into a com.ClientConfig over the
// package defaults.
func (f ClientFile) ClientConfig() (com.ClientConfig, error) {
	cfg := com.DefaultClientConfig()
	cfg.Address = strings.TrimSpace(f.Address)
	if v := strings.TrimSpace(f.ProtocolName); v != "" {
		cfg.ProtocolName = v
	}
	s, err := f.Session.Config()
	if err != nil {
		return com.ClientConfig{}, err
	}
	cfg.Session = s
	return cfg, nil
}

// Config overlays the section onto session.DefaultConfig. Empty fields keep
// their defaults.
func (s SessionSection) Config() (session.Config, error) {
	cfg := session.DefaultConfig()
	if v := strings.TrimSpace(s.ByteOrder); v != "" {
		cfg.ByteOrder = v
	}
	var err error
	if cfg.ConnectTimeout, err = durationOr(s.ConnectTimeout, cfg.ConnectTimeout); err != nil {
		return session.Config{}, err
	}
	if cfg.HandshakeTimeout, err = durationOr(s.HandshakeTimeout, cfg.HandshakeTimeout); err != nil {
		return session.Config{}, err
	}
	if cfg.InactivityTimeout, err = durationOr(s.InactivityTimeout, cfg.InactivityTimeout); err != nil {
		return session.Config{}, err
	}
	if cfg.OperationTimeout, err = durationOr(s.OperationTimeout, cfg.OperationTimeout); err != nil {
		return session.Config{}, err
	}
	if s.ReadBufferSize > 0 {
		cfg.ReadBufferSize = s.ReadBufferSize
	}
	if s.MaxChunkLength > 0 {
		cfg.MaxChunkLength = s.MaxChunkLength
	}
	if v := strings.TrimSpace(s.SecurityMode); v != "" {
		cfg.SecurityMode = session.SecurityMode(v)
	}
	cfg.TLS = session.TLSConfig{
		Enabled:            s.TLS.Enabled,
		Mutual:             s.TLS.Mutual,
		Protocol:           strings.TrimSpace(s.TLS.Protocol),
		CertFile:           strings.TrimSpace(s.TLS.CertFile),
		KeyFile:            strings.TrimSpace(s.TLS.KeyFile),
		CAFile:             strings.TrimSpace(s.TLS.CAFile),
		ServerName:         strings.TrimSpace(s.TLS.ServerName),
		InsecureSkipVerify: s.TLS.InsecureSkipVerify,
	}
	return cfg.WithDefaults(), nil
}

func durationOr(raw string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return parseDuration(raw)
}
