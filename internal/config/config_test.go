package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, 15, cfg.CheckConcurrency)
	assert.Equal(t, 20*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "posture-scan-tasks", cfg.Kafka.ScanTopic)
	assert.True(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, 0.05, cfg.Telemetry.SamplingRatio)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CLOUDGAUGE_API_ADDR", ":9999")
	t.Setenv("CLOUDGAUGE_KAFKA_GROUP_ID", "override-group")
	t.Setenv("CLOUDGAUGE_CHECK_CONCURRENCY", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.APIAddr)
	assert.Equal(t, "override-group", cfg.Kafka.GroupID)
	assert.Equal(t, 4, cfg.CheckConcurrency)
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_addr: ":7070"
kafka:
  brokers:
    - broker-a:9092
    - broker-b:9092
  scan_topic: custom-scan
postgres:
  dsn: postgres://scan:scan@db:5432/scans
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.APIAddr)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "custom-scan", cfg.Kafka.ScanTopic)
	assert.Equal(t, "postgres://scan:scan@db:5432/scans", cfg.Postgres.DSN)
	// Untouched keys keep their defaults.
	assert.Equal(t, "posture-aggregate-tasks", cfg.Kafka.AggregateTopic)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CLOUDGAUGE_CHECK_CONCURRENCY", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check_concurrency")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
