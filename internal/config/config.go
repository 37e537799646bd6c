package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/oshri-humanz/talkie/internal/util"
)

type Config struct {
	Server Server `json:"server"`
	Client Client `json:"client"`
}

type Server struct {
	// Bind address for the coordinator, e.g. "127.0.0.1:8787".
	// Set host to "0.0.0.0" to accept connections from other machines.
	ListenAddr string `json:"listen_addr"`
}

type Client struct {
	// Coordinator websocket endpoint, e.g. ws://host:8787/ws.
	ServerURL string `json:"server_url"`

	// Display name announced on join. Empty keeps the assigned default.
	DisplayName string `json:"display_name"`

	// Keep-alive interval in seconds. 0 disables heartbeats.
	HeartbeatSec int `json:"heartbeat_seconds"`
}

func Default() Config {
	return Config{
		Server: Server{
			ListenAddr: "127.0.0.1:8787",
		},
		Client: Client{
			ServerURL:    "ws://127.0.0.1:8787/ws",
			HeartbeatSec: 15,
		},
	}
}

func (c *Config) Validate() error {
	host, port, err := net.SplitHostPort(c.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("server.listen_addr: %w", err)
	}
	if host != "" && net.ParseIP(host) == nil {
		return errors.New("server.listen_addr host must be an IP address")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return errors.New("server.listen_addr port must be 0..65535")
	}

	if raw := strings.TrimSpace(c.Client.ServerURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("client.server_url: %v", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return errors.New("client.server_url scheme must be ws or wss")
		}
		if u.Host == "" {
			return errors.New("client.server_url is missing a host")
		}
	}

	if name := strings.TrimSpace(c.Client.DisplayName); name != "" {
		if _, err := util.ValidateDisplayName(name); err != nil {
			return fmt.Errorf("client.display_name: %w", err)
		}
	}

	if c.Client.HeartbeatSec < 0 {
		return errors.New("client.heartbeat_seconds must be >= 0")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
