package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/comlink/internal/protocol/chunk"
	"github.com/danmuck/comlink/internal/protocol/session"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesLoad(t *testing.T) {
	for _, kind := range []string{"host", "client"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := Load(path, kind); err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected %s template overwrite to be refused", kind)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("forced %s template write: %v", kind, err)
		}
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadHostConfigDefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, `
listen_addr = "127.0.0.1:2099"
acceptor = "echo"

[protocol]
name = "LEGACY"
id_strategy = "sequential"

[session]
byte_order = "big"
inactivity_timeout = "30s"
max_chunk_length = 1048576

[session.tls]
protocol = "TLSv1.2"
`)
	file, err := LoadHostConfig(path)
	if err != nil {
		t.Fatalf("load host config: %v", err)
	}
	if file.Name != "comhost" {
		t.Fatalf("unexpected default name: %q", file.Name)
	}
	if file.ListenAddr != "127.0.0.1:2099" {
		t.Fatalf("unexpected listen addr: %q", file.ListenAddr)
	}
	if file.Protocol.Name != "LEGACY" || file.Protocol.IdStrategy != "sequential" {
		t.Fatalf("unexpected protocol: %+v", file.Protocol)
	}
	sess, err := file.Session.Config()
	if err != nil {
		t.Fatalf("convert session: %v", err)
	}
	order, err := sess.HostByteOrder()
	if err != nil || order != chunk.BigEndian {
		t.Fatalf("unexpected byte order: %v err=%v", order, err)
	}
	if sess.InactivityTimeout != 30*time.Second {
		t.Fatalf("unexpected inactivity timeout: %s", sess.InactivityTimeout)
	}
	if sess.HandshakeTimeout != time.Second {
		t.Fatalf("unexpected default handshake timeout: %s", sess.HandshakeTimeout)
	}
	if sess.MaxChunkLength != 1<<20 {
		t.Fatalf("unexpected max chunk length: %d", sess.MaxChunkLength)
	}
	if sess.TLS.Protocol != "TLSv1.2" {
		t.Fatalf("unexpected tls protocol: %q", sess.TLS.Protocol)
	}
	if sess.SecurityMode != session.SecurityModeDevelopment {
		t.Fatalf("unexpected security mode: %q", sess.SecurityMode)
	}
}

func TestLoadClientConfig(t *testing.T) {
	path := writeFile(t, `
protocol_name = "LEGACY"

[session]
connect_timeout = "250ms"

[session.tls]
enabled = true
ca_file = "/etc/comlink/ca.crt"
server_name = "comhost.internal"
`)
	file, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load client config: %v", err)
	}
	cfg, err := file.ClientConfig()
	if err != nil {
		t.Fatalf("convert client config: %v", err)
	}
	if cfg.Address != "localhost:1099" {
		t.Fatalf("unexpected default address: %q", cfg.Address)
	}
	if cfg.ProtocolName != "LEGACY" {
		t.Fatalf("unexpected protocol name: %q", cfg.ProtocolName)
	}
	if cfg.Session.ConnectTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected connect timeout: %s", cfg.Session.ConnectTimeout)
	}
	if !cfg.Session.TLS.Enabled || cfg.Session.TLS.ServerName != "comhost.internal" {
		t.Fatalf("unexpected tls config: %+v", cfg.Session.TLS)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"acceptor", `acceptor = "reverse"`, "unknown acceptor"},
		{"byte order", "[session]\nbyte_order = \"middle\"", "byte order"},
		{"duration", "[session]\nhandshake_timeout = \"soon\"", "handshake_timeout"},
		{"negative duration", "[session]\noperation_timeout = \"-1s\"", "operation_timeout"},
		{"tls version", "[session.tls]\nprotocol = \"SSLv3\"", "tls"},
		{"tls material", "[session.tls]\nenabled = true", "cert_file"},
		{"protocol name", "[protocol]\nname = \"A;B\"", "protocol name"},
		{"chunk length", "[session]\nmax_chunk_length = 4294967296", "max_chunk_length"},
		{"syntax", `name = `, "parse failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadHostConfig(writeFile(t, tc.content))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}
