package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Load parses and validates the file at path as kind.
func Load(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		_, err := LoadHostConfig(path)
		return err
	case "client":
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const hostTemplate = `name = "comhost"
listen_addr = ":1099"
admin_addr = "127.0.0.1:7099"
acceptor = "bounce"
cors_origins = ["http://localhost:3000"]

[protocol]
name = "COMLINK"
version = "1.0"
id_strategy = ""
type_dictionary = ""

[session]
byte_order = "LITTLE_ENDIAN"
handshake_timeout = "1s"
inactivity_timeout = "0s"
operation_timeout = "1s"
read_buffer_size = 8192
security_mode = "development"

[session.tls]
enabled = false
mutual = false
protocol = "TLSv1.3"
cert_file = "certs/host.crt"
key_file = "certs/host.key"
ca_file = "certs/ca.crt"
`

const clientTemplate = `address = "localhost:1099"
protocol_name = "COMLINK"

[session]
connect_timeout = "5s"
handshake_timeout = "1s"
operation_timeout = "1s"
security_mode = "development"

[session.tls]
enabled = false
mutual = false
protocol = "TLSv1.3"
cert_file = "certs/client.crt"
key_file = "certs/client.key"
ca_file = "certs/ca.crt"
server_name = "localhost"
`
