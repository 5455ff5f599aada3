package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/comlink/internal/protocol/chunk"
	"github.com/danmuck/comlink/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// HostFile is the on-disk layout of a comhost config.
type HostFile struct {
	Name        string         `toml:"name"`
	ListenAddr  string         `toml:"listen_addr"`
	AdminAddr   string         `toml:"admin_addr"`
	Acceptor    string         `toml:"acceptor"`
	CorsOrigins []string       `toml:"cors_origins"`
	Protocol    ProtocolFile   `toml:"protocol"`
	Session     SessionSection `toml:"session"`
}

// ClientFile is the on-disk layout of a comclient config.
type ClientFile struct {
	Address      string         `toml:"address"`
	ProtocolName string         `toml:"protocol_name"`
	Session      SessionSection `toml:"session"`
}

type ProtocolFile struct {
	Name           string `toml:"name"`
	Version        string `toml:"version"`
	IdStrategy     string `toml:"id_strategy"`
	TypeDictionary string `toml:"type_dictionary"`
}

// SessionSection mirrors session.Config. Durations are Go duration strings.
type SessionSection struct {
	ByteOrder         string     `toml:"byte_order"`
	ConnectTimeout    string     `toml:"connect_timeout"`
	HandshakeTimeout  string     `toml:"handshake_timeout"`
	InactivityTimeout string     `toml:"inactivity_timeout"`
	OperationTimeout  string     `toml:"operation_timeout"`
	ReadBufferSize    int        `toml:"read_buffer_size"`
	MaxChunkLength    uint64     `toml:"max_chunk_length"`
	SecurityMode      string     `toml:"security_mode"`
	TLS               TLSSection `toml:"tls"`
}

type TLSSection struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	Protocol           string `toml:"protocol"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func LoadHostConfig(path string) (HostFile, error) {
	var cfg HostFile
	if err := loadToml(path, &cfg); err != nil {
		return HostFile{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "comhost"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", session.DefaultPort)
	}
	if cfg.Acceptor == "" {
		cfg.Acceptor = "bounce"
	}
	if err := ValidateHostConfig(cfg); err != nil {
		return HostFile{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientFile, error) {
	var cfg ClientFile
	if err := loadToml(path, &cfg); err != nil {
		return ClientFile{}, err
	}
	if cfg.Address == "" {
		cfg.Address = fmt.Sprintf("localhost:%d", session.DefaultPort)
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientFile{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateHostConfig(cfg HostFile) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("host config missing name")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("host config missing listen_addr")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Acceptor)) {
	case "bounce", "echo":
	default:
		return fmt.Errorf("host config unknown acceptor: %q", cfg.Acceptor)
	}
	if strings.ContainsAny(cfg.Protocol.Name, ";\n") {
		return fmt.Errorf("host config protocol name must not contain ';' or newlines")
	}
	if err := validateSession(cfg.Session); err != nil {
		return fmt.Errorf("session invalid: %w", err)
	}
	if cfg.Session.TLS.Enabled &&
		(strings.TrimSpace(cfg.Session.TLS.CertFile) == "" || strings.TrimSpace(cfg.Session.TLS.KeyFile) == "") {
		return fmt.Errorf("host config tls requires cert_file and key_file")
	}
	return nil
}

func ValidateClientConfig(cfg ClientFile) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("client config missing address")
	}
	if err := validateSession(cfg.Session); err != nil {
		return fmt.Errorf("session invalid: %w", err)
	}
	return nil
}

func validateSession(s SessionSection) error {
	if _, err := chunk.ParseByteOrder(s.ByteOrder); err != nil {
		return err
	}
	for name, raw := range map[string]string{
		"connect_timeout":    s.ConnectTimeout,
		"handshake_timeout":  s.HandshakeTimeout,
		"inactivity_timeout": s.InactivityTimeout,
		"operation_timeout":  s.OperationTimeout,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if s.MaxChunkLength > chunk.MaxContentLength {
		return fmt.Errorf("max_chunk_length must not exceed %d", chunk.MaxContentLength)
	}
	if s.ReadBufferSize < 0 {
		return fmt.Errorf("read_buffer_size must not be negative")
	}
	if _, err := session.ParseTLSVersion(s.TLS.Protocol); err != nil {
		return err
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
