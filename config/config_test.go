package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  order_updated_topic_name: "order.updated"
redis:
  host: "localhost"
  port: 6379
carrier:
  mode: "correios"
  base_url: "https://api.correios.com.br"
  username: "shop"
  api_key: "secret"
  batch_size: 25
  requests_per_second: 2.5
  rate_limit_per_minute: 120
  time_zone: "America/Sao_Paulo"
tracking:
  interval_minutes: 15
  autostart: false
  worker_http_addr: ":8090"
  admin_token: "t0k"
api:
  http_addr: ":8080"
  kafka_consumer_group: "track-api"
  current_status_ttl_seconds: 600
log:
  level: "debug"
  format: "console"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.DSN())
	require.Equal(t, "order.updated", cfg.Kafka.OrderUpdatedTopicName)
	require.Equal(t, "localhost:9092", cfg.Kafka.Addr())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, 25, cfg.Carrier.BatchSize)
	require.Equal(t, 2.5, cfg.Carrier.RequestsPerSecond)
	require.Equal(t, int64(120), cfg.Carrier.RateLimitPerMinute)
	require.Equal(t, 15, cfg.Tracking.IntervalMinutes)
	require.False(t, cfg.Tracking.AutostartEnabled())
	require.Equal(t, ":8080", cfg.API.HTTPAddr)
	require.Equal(t, "debug", cfg.Log.Level)

	loc, err := cfg.Carrier.Location()
	require.NoError(t, err)
	require.Equal(t, "America/Sao_Paulo", loc.String())
}

func TestDefaults(t *testing.T) {
	var cfg Config
	require.Empty(t, cfg.Database.DSN())
	require.Empty(t, cfg.Kafka.Addr())
	require.Empty(t, cfg.Redis.Addr())
	require.True(t, cfg.Tracking.AutostartEnabled())

	loc, err := cfg.Carrier.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
