package config

import (
	"time"

	"github.com/poiesic/inkwell/ai"
	"github.com/poiesic/inkwell/reembed"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "~/.inkwell/db"
	}
	if cfg.Storage.EmbeddingBackend == "" {
		cfg.Storage.EmbeddingBackend = BackendBadger
	}
	if cfg.Storage.EmbeddingBackend == BackendSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "~/.inkwell/embeddings.db"
	}

	aiDefaults := ai.DefaultConfig()
	if cfg.Embedding.Host == "" {
		cfg.Embedding.Host = aiDefaults.EmbeddingHost
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = aiDefaults.EmbeddingModel
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = aiDefaults.Timeout
	}

	reembedDefaults := reembed.DefaultConfig()
	if cfg.Reembed.BatchSize == 0 {
		cfg.Reembed.BatchSize = reembedDefaults.BatchSize
	}
	if cfg.Reembed.Parallelism == 0 {
		cfg.Reembed.Parallelism = reembedDefaults.Parallelism
	}
	if cfg.Reembed.MaxRetries == 0 {
		cfg.Reembed.MaxRetries = reembedDefaults.MaxRetries
	}
	if cfg.Reembed.RetryDelay == 0 {
		cfg.Reembed.RetryDelay = reembedDefaults.RetryDelay
	}
	if cfg.Reembed.CallTimeout == 0 {
		cfg.Reembed.CallTimeout = reembedDefaults.CallTimeout
	}
	if cfg.Reembed.ChunkSize == 0 {
		cfg.Reembed.ChunkSize = reembedDefaults.ChunkSize
	}
	if cfg.Reembed.ChunkOverlap == 0 {
		cfg.Reembed.ChunkOverlap = reembedDefaults.ChunkOverlap
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.DefaultThreshold == 0 {
		cfg.Search.DefaultThreshold = 0.3
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".md", ".txt"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
