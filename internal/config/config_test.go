package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3002, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Matchmaker.FreshnessWindow())
	assert.Equal(t, 50, cfg.Matchmaker.CandidateLimit)
	assert.Equal(t, 10*time.Second, cfg.Matchmaker.AttemptTimeout())
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Queue.Visibility())
	assert.Equal(t, 5*time.Minute, cfg.Metrics.Interval())
	assert.Equal(t, 50, cfg.Metrics.RecentJobs)
	assert.Equal(t, 20, cfg.Metrics.RecentNodes)
	assert.Equal(t, "confirmed", cfg.Ledger.Commitment)
}

func TestLoad(t *testing.T) {
	content := `
[server]
port = 4000

[database]
host = "db.internal"
password = "secret"

[ledger]
websocket_url = "wss://rpc.example.org"
node_registry_program = "NodeReg111"
job_receipt_program = "JobRcpt111"
payment_splitter_program = "PaySplit111"

[webhooks]
discord_url = "https://discord.example/hook"
extra_urls = ["https://a.example/hook", "https://b.example/hook"]

[queue]
workers = 8
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "wss://rpc.example.org", cfg.Ledger.WebsocketURL)
	assert.Equal(t, "NodeReg111", cfg.Ledger.NodeRegistryProgram)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Len(t, cfg.Webhooks.ExtraURLs, 2)

	// Unset values still get defaults
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Password = "pw"
	assert.Equal(t,
		"postgres://postgres:pw@localhost:5432/hypernode?sslmode=disable",
		cfg.Database.DatabaseURL())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}
