package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/defistate/defistate-router-go/router"
	"gopkg.in/yaml.v3"
)

// DefaultSnapshotBufferSize is the number of stream updates queued for the
// daemon before the stream client blocks.
const DefaultSnapshotBufferSize = 100

// RouterdConfig is the configuration of the router daemon.
type RouterdConfig struct {
	// ListenAddr serves JSON-RPC over HTTP, and over WebSocket on /ws.
	ListenAddr string `yaml:"listen_addr"`
	// MetricsAddr serves Prometheus metrics on /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
	// UpstreamURL is an optional router snapshot stream to follow.
	UpstreamURL        string        `yaml:"upstream_url"`
	SnapshotBufferSize uint          `yaml:"snapshot_buffer_size"`
	Router             router.Config `yaml:"router"`
}

// Default returns the values LoadConfig starts from.
func Default() RouterdConfig {
	return RouterdConfig{
		ListenAddr:         ":8545",
		MetricsAddr:        ":9090",
		SnapshotBufferSize: DefaultSnapshotBufferSize,
		Router:             router.DefaultConfig(),
	}
}

// LoadConfig reads a YAML file on top of Default.
func LoadConfig(path string) (*RouterdConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RouterdConfig) validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if c.UpstreamURL != "" && c.SnapshotBufferSize == 0 {
		return errors.New("config: snapshot_buffer_size must be greater than 0")
	}
	return nil
}
