// Package config loads inkwell's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/inkwell/ai"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/reembed"
	"gopkg.in/yaml.v3"
)

// Storage backends for embeddings.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reembed   ReembedConfig   `yaml:"reembed"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds database locations.
type StorageConfig struct {
	// DataDir holds the badger database
	DataDir string `yaml:"data_dir"`
	// EmbeddingBackend is "badger" (same database as documents) or "sqlite"
	EmbeddingBackend string `yaml:"embedding_backend"`
	SQLitePath       string `yaml:"sqlite_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Host              string        `yaml:"host"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// ReembedConfig holds batch embedding settings.
type ReembedConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	Parallelism  int           `yaml:"parallelism"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	DefaultThreshold float64 `yaml:"default_threshold"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
	ProjectID   uint64        `yaml:"project_id"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads and parses the config file at path, applies defaults, and
// expands paths. Relative paths are relative to the file's directory and
// "~/" is the home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.ExpandPaths(filepath.Dir(path))
	return &cfg, nil
}

// ExpandPaths makes every configured path absolute against baseDir.
func (c *Config) ExpandPaths(baseDir string) {
	c.Storage.DataDir = expandPath(c.Storage.DataDir, baseDir)
	c.Storage.SQLitePath = expandPath(c.Storage.SQLitePath, baseDir)
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], baseDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.EmbeddingBackend {
	case BackendBadger:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.embedding_backend %q is not one of %s, %s",
			c.Storage.EmbeddingBackend, BackendBadger, BackendSQLite))
	}
	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := core.ValidateChunkParams(c.Reembed.ChunkSize, c.Reembed.ChunkOverlap); err != nil {
		errs = append(errs, fmt.Errorf("reembed: %w", err))
	}
	if c.Reembed.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("reembed.parallelism must be positive, got %d", c.Reembed.Parallelism))
	}
	if c.Reembed.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("reembed.max_retries must be positive, got %d", c.Reembed.MaxRetries))
	}
	if c.Search.DefaultTopK <= 0 || c.Search.DefaultTopK > c.Search.MaxTopK {
		errs = append(errs, fmt.Errorf("search.default_top_k must be in [1, %d], got %d", c.Search.MaxTopK, c.Search.DefaultTopK))
	}
	if c.Search.DefaultThreshold < -1 || c.Search.DefaultThreshold > 1 {
		errs = append(errs, fmt.Errorf("search.default_threshold must be in [-1, 1], got %g", c.Search.DefaultThreshold))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)
	}
	return nil
}

// AIConfig returns the embedding provider configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithTimeout(c.Embedding.Timeout),
		ai.WithRateLimit(c.Embedding.RequestsPerSecond, c.Embedding.Burst),
	)
}

// ReembedConfig returns the batch embedding configuration.
func (c *Config) ReembedConfig() *reembed.Config {
	return &reembed.Config{
		BatchSize:      c.Reembed.BatchSize,
		ReportInterval: c.Reembed.BatchSize,
		MaxRetries:     c.Reembed.MaxRetries,
		RetryDelay:     c.Reembed.RetryDelay,
		Parallelism:    c.Reembed.Parallelism,
		CallTimeout:    c.Reembed.CallTimeout,
		Model:          c.Embedding.Model,
		ChunkSize:      c.Reembed.ChunkSize,
		ChunkOverlap:   c.Reembed.ChunkOverlap,
	}
}

// expandPath converts a path to absolute. "~/" is the home directory; other
// relative paths are relative to configDir.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
		return path
	}
	return filepath.Join(configDir, path)
}
