package agent

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the node agent configuration, including the token issued at
// registration.
type Config struct {
	EngineURL        string `toml:"engine_url"`
	NodeID           string `toml:"node_id"`
	Identity         string `toml:"identity"`
	GPUModel         string `toml:"gpu_model"`
	VRAMGb           int    `toml:"vram_gb"`
	Token            string `toml:"token"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
}

// LoadConfig loads agent configuration from a TOML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.HeartbeatSeconds == 0 {
		cfg.HeartbeatSeconds = 60
	}

	return &cfg, nil
}

// Save writes the configuration to a TOML file. The file holds the node token,
// so it is not world-readable.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
