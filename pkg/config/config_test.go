package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "heapshot.yaml")
	content := `
log:
  level: debug
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 100*time.Millisecond, cfg.Processor.LiveInterval)
	assert.Equal(t, 64<<20, cfg.Processor.MaxBufferLength)
	assert.Equal(t, 2, cfg.Processor.Workers)
	assert.Equal(t, 1000, cfg.Heapshot.BatchSize)
	assert.Equal(t, 64, cfg.Heapshot.TraceDepth)
	assert.False(t, cfg.Heapshot.KeepFiles)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "heapshot.yaml")
	content := `
processor:
  live_interval: 250ms
  max_buffer_length: 1048576
  workers: 4
heapshot:
  data_dir: /tmp/heapshots
  batch_size: 5000
  keep_files: true
  trace_depth: 16
database:
  enabled: true
  type: postgres
  host: db.example.com
  port: 5432
  database: heapshot_reports
  user: admin
  password: secret
storage:
  type: local
  local_path: /tmp/captures
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Processor.LiveInterval)
	assert.Equal(t, 1048576, cfg.Processor.MaxBufferLength)
	assert.Equal(t, 4, cfg.Processor.Workers)
	assert.Equal(t, "/tmp/heapshots", cfg.Heapshot.DataDir)
	assert.Equal(t, 5000, cfg.Heapshot.BatchSize)
	assert.True(t, cfg.Heapshot.KeepFiles)
	assert.Equal(t, 16, cfg.Heapshot.TraceDepth)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, "heapshot_reports", cfg.Database.Database)
	assert.Equal(t, "/tmp/captures", cfg.Storage.LocalPath)
}

func TestLoad_InvalidDatabaseType(t *testing.T) {
	content := []byte(`
database:
  enabled: true
  type: clickhouse
`)
	_, err := LoadFromReader("yaml", content)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestLoad_COSWithCredentials(t *testing.T) {
	content := []byte(`
storage:
  type: cos
  bucket: captures-1250000000
  region: ap-guangzhou
  secret_id: test-id
  secret_key: test-key
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "captures-1250000000", cfg.Storage.Bucket)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HEAPSHOT_LOG_LEVEL", "warn")
	t.Setenv("HEAPSHOT_HEAPSHOT_BATCH_SIZE", "250")

	cfg, err := LoadFromReader("yaml", []byte("log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 250, cfg.Heapshot.BatchSize)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Processor: ProcessorConfig{LiveInterval: time.Second, MaxBufferLength: 1024, Workers: 1},
			Heapshot:  HeapshotConfig{BatchSize: 10},
			Database:  DatabaseConfig{Type: "sqlite", Path: "reports.db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero live interval", func(c *Config) { c.Processor.LiveInterval = 0 }, "live interval must be positive"},
		{"zero buffer length", func(c *Config) { c.Processor.MaxBufferLength = 0 }, "max buffer length must be positive"},
		{"no workers", func(c *Config) { c.Processor.Workers = 0 }, "workers must be at least 1"},
		{"no batch size", func(c *Config) { c.Heapshot.BatchSize = 0 }, "batch size must be at least 1"},
		{"disabled database is not checked", func(c *Config) { c.Database.Type = "oracle" }, ""},
		{"sqlite without path", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Path = ""
		}, "database path is required"},
		{"postgres without host", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Type = "postgres"
		}, "database host is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnsureDataDir(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "heapshots", "data")

	cfg := &Config{
		Heapshot: HeapshotConfig{
			DataDir: dataDir,
		},
	}

	err := cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(dataDir)
	assert.NoError(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/heapshot.yaml")
	// Should not return error, use defaults
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Log.Level)
}
