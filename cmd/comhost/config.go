package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/comlink/internal/com"
	"github.com/danmuck/comlink/internal/config"
	"github.com/danmuck/comlink/internal/protocol/chunk"
	"github.com/danmuck/comlink/internal/protocol/session"
)

type serviceConfig struct {
	Host        com.HostConfig
	Acceptor    string
	AdminAddr   string
	CorsOrigins []string
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Host:     com.DefaultHostConfig(),
		Acceptor: "bounce",
	}
}

// loadServiceConfig overlays only the keys present in path onto the
// defaults. The layout is the one configgen writes.
func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw config.HostFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load comhost config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serviceConfig{}, fmt.Errorf("load comhost config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		if v := strings.TrimSpace(raw.Name); v != "" {
			cfg.Host.Name = v
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.Host.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("acceptor") {
		cfg.Acceptor = strings.TrimSpace(raw.Acceptor)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}

	p := &cfg.Host.Protocol
	if meta.IsDefined("protocol", "name") {
		p.Name = strings.TrimSpace(raw.Protocol.Name)
	}
	if meta.IsDefined("protocol", "version") {
		p.Version = strings.TrimSpace(raw.Protocol.Version)
	}
	if meta.IsDefined("protocol", "id_strategy") {
		p.IdStrategy = strings.TrimSpace(raw.Protocol.IdStrategy)
	}
	if meta.IsDefined("protocol", "type_dictionary") {
		p.TypeDictionary = raw.Protocol.TypeDictionary
	}

	s := &cfg.Host.Session
	rs := raw.Session
	if meta.IsDefined("session", "byte_order") {
		s.ByteOrder = strings.TrimSpace(rs.ByteOrder)
	}
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", rs.ConnectTimeout, &s.ConnectTimeout},
		{"handshake_timeout", rs.HandshakeTimeout, &s.HandshakeTimeout},
		{"inactivity_timeout", rs.InactivityTimeout, &s.InactivityTimeout},
		{"operation_timeout", rs.OperationTimeout, &s.OperationTimeout},
	} {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "read_buffer_size") {
		s.ReadBufferSize = rs.ReadBufferSize
	}
	if meta.IsDefined("session", "max_chunk_length") {
		if rs.MaxChunkLength == 0 || rs.MaxChunkLength > chunk.MaxContentLength {
			return serviceConfig{}, fmt.Errorf("session.max_chunk_length must be in [1, %d]", chunk.MaxContentLength)
		}
		s.MaxChunkLength = rs.MaxChunkLength
	}
	if meta.IsDefined("session", "security_mode") {
		s.SecurityMode = session.SecurityMode(strings.TrimSpace(rs.SecurityMode))
	}

	t := rs.TLS
	if meta.IsDefined("session", "tls", "enabled") {
		s.TLS.Enabled = t.Enabled
	}
	if meta.IsDefined("session", "tls", "mutual") {
		s.TLS.Mutual = t.Mutual
	}
	if meta.IsDefined("session", "tls", "protocol") {
		s.TLS.Protocol = strings.TrimSpace(t.Protocol)
	}
	if meta.IsDefined("session", "tls", "cert_file") {
		s.TLS.CertFile = strings.TrimSpace(t.CertFile)
	}
	if meta.IsDefined("session", "tls", "key_file") {
		s.TLS.KeyFile = strings.TrimSpace(t.KeyFile)
	}
	if meta.IsDefined("session", "tls", "ca_file") {
		s.TLS.CAFile = strings.TrimSpace(t.CAFile)
	}
	if meta.IsDefined("session", "tls", "server_name") {
		s.TLS.ServerName = strings.TrimSpace(t.ServerName)
	}
	if meta.IsDefined("session", "tls", "insecure_skip_verify") {
		s.TLS.InsecureSkipVerify = t.InsecureSkipVerify
	}

	if _, err := com.AcceptorByName(cfg.Acceptor); err != nil {
		return serviceConfig{}, err
	}
	if err := cfg.Host.Validate(); err != nil {
		return serviceConfig{}, fmt.Errorf("load comhost config: %w", err)
	}
	return cfg, nil
}
