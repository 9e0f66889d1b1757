package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/inkwell/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inkwell.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  host: "127.0.0.1"
  port: 9000
storage:
  data_dir: "./data"
  embedding_backend: sqlite
  sqlite_path: vectors.db
embedding:
  host: http://embeddings.local:8000
  model: nomic-embed-text
  requests_per_second: 4
reembed:
  call_timeout: 5s
  chunk_size: 256
  chunk_overlap: 32
watch:
  directories: [notes]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	dir := filepath.Dir(path)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join(dir, "vectors.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 5*time.Second, cfg.Reembed.CallTimeout)
	assert.Equal(t, 256, cfg.Reembed.ChunkSize)
	assert.Equal(t, []string{filepath.Join(dir, "notes")}, cfg.Watch.Directories)
	assert.True(t, cfg.Watch.RecursiveOrDefault())
	assert.NoError(t, cfg.Validate())

	aiCfg := cfg.AIConfig()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "http://embeddings.local:8000/v1", aiCfg.EmbeddingHost)
	assert.Equal(t, 1, aiCfg.Burst)

	rc := cfg.ReembedConfig()
	assert.Equal(t, "nomic-embed-text", rc.Model)
	assert.Equal(t, 32, rc.ChunkOverlap)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendBadger, cfg.Storage.EmbeddingBackend)
	assert.Equal(t, "embeddinggemma", cfg.Embedding.Model)
	assert.Equal(t, 512, cfg.Reembed.ChunkSize)
	assert.Equal(t, 64, cfg.Reembed.ChunkOverlap)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.Equal(t, []string{".md", ".txt"}, cfg.Watch.Extensions)
	assert.Nil(t, cfg.Watch.Recursive)
	assert.NoError(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		path string
		want string
	}{
		{"", ""},
		{"/abs/db", "/abs/db"},
		{"./rel", "/etc/inkwell/rel"},
		{"rel/db", "/etc/inkwell/rel/db"},
		{"~/db", filepath.Join(home, "db")},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, expandPath(tt.path, "/etc/inkwell"), "expandPath(%q)", tt.path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown backend", func(c *Config) { c.Storage.EmbeddingBackend = "postgres" }},
		{"sqlite without path", func(c *Config) {
			c.Storage.EmbeddingBackend = BackendSQLite
			c.Storage.SQLitePath = ""
		}},
		{"overlap too large", func(c *Config) { c.Reembed.ChunkOverlap = c.Reembed.ChunkSize }},
		{"no parallelism", func(c *Config) { c.Reembed.Parallelism = -1 }},
		{"top k above max", func(c *Config) { c.Search.DefaultTopK = 1000 }},
		{"threshold out of range", func(c *Config) { c.Search.DefaultThreshold = 1.5 }},
		{"empty model", func(c *Config) { c.Embedding.Model = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfiguration)
		})
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Embedding.Model = "saved-model"
	cfg.Storage.DataDir = "/var/lib/inkwell"

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-model", loaded.Embedding.Model)
	assert.Equal(t, cfg.Reembed.RetryDelay, loaded.Reembed.RetryDelay)
	assert.Equal(t, "/var/lib/inkwell", loaded.Storage.DataDir)
}
