package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 180*time.Second, cfg.Feed.Interval)
	assert.Equal(t, "Europe/London", cfg.Feed.TimeZone)
	assert.Equal(t, "parkflow-transform/v1", cfg.Feed.Source)
	assert.Equal(t, 1, cfg.Log.Partitions)
	assert.Equal(t, 256, cfg.Subscriptions.QueueSize)
	assert.Equal(t, 0, cfg.Export.MaxAttempts)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, "parkflow.yaml", `
database:
  path: /var/lib/parkflow.db
feed:
  url: https://feed.example/carparks.csv
  interval: 60s
  dedup: true
log:
  partitions: 4
server:
  addr: ":9000"
`)
	t.Setenv("PARKFLOW_SERVER_ADDR", ":9100")
	t.Setenv("PARKFLOW_SUBSCRIPTIONS_QUEUE_SIZE", "32")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/parkflow.db", cfg.Database.Path)
	assert.Equal(t, "https://feed.example/carparks.csv", cfg.Feed.URL)
	assert.Equal(t, time.Minute, cfg.Feed.Interval)
	assert.True(t, cfg.Feed.Dedup)
	assert.Equal(t, 4, cfg.Log.Partitions)
	assert.Equal(t, ":9100", cfg.Server.Addr, "environment wins over the file")
	assert.Equal(t, 32, cfg.Subscriptions.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Feed.Timeout, "unset values keep defaults")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("PARKFLOW_FEED_URL=https://dotenv.example/feed.csv\n"), 0o644))
	t.Setenv("PARKFLOW_FEED_URL", "")
	os.Unsetenv("PARKFLOW_FEED_URL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example/feed.csv", cfg.Feed.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PARKFLOW_FEED_URL", "https://feed.example")
	t.Setenv("PARKFLOW_LOG_PARTITIONS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Feed.URL = "https://feed.example"

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing url", mutate: func(c *Config) { c.Feed.URL = "" }, want: "feed.url"},
		{name: "bad zone", mutate: func(c *Config) { c.Feed.TimeZone = "Mars/Olympus" }, want: "feed.time_zone"},
		{name: "partitions", mutate: func(c *Config) { c.Log.Partitions = -1 }, want: "log.partitions"},
		{name: "queue", mutate: func(c *Config) { c.Subscriptions.QueueSize = -3 }, want: "subscriptions.queue_size"},
		{name: "chat id", mutate: func(c *Config) { c.Alerts.RulesFile = "alerts.cue"; c.Alerts.ChatToken = "t" }, want: "alerts.chat_id"},
		{name: "export attempts", mutate: func(c *Config) { c.Export.MaxAttempts = -1 }, want: "export.max_attempts"},
	}

	require.NoError(t, valid.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_RulesWithoutChatToken(t *testing.T) {
	cfg := Default()
	cfg.Feed.URL = "https://feed.example"
	cfg.Alerts.RulesFile = "alerts.cue"

	assert.NoError(t, cfg.Validate())
}
