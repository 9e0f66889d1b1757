// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/inkwell"
	"github.com/poiesic/inkwell/config"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

// serviceOptions are appended to every service the commands open.
var serviceOptions []inkwell.Option

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "inkwell",
		Usage: "Document embedding and semantic search",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"INKWELL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides config)",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL (overrides config)",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name (overrides config)",
			},
		},
		Before: before,
		Commands: []*cli.Command{
			{
				Name:      "reembed",
				Usage:     "Bring document embeddings up to date",
				ArgsUsage: "[document ids...]",
				Action:    reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to process in each batch",
					},
					&cli.IntFlag{
						Name:  "parallelism",
						Usage: "Number of documents embedded concurrently",
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed embedding calls",
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Chunk size in characters",
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Characters shared by consecutive chunks",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search documents by meaning",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Maximum number of results",
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum similarity score (default from config)",
					},
					&cli.Uint64Flag{
						Name:  "project",
						Usage: "Only search documents of this project",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show embedding statistics",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "model",
						Usage: "Report the dimension of this model",
					},
				},
			},
			{
				Name:  "doc",
				Usage: "Manage documents",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Add a document and embed it",
						Action: docAddCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "title",
								Aliases:  []string{"t"},
								Usage:    "Document title",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "content",
								Usage: "Document content; read from stdin when neither content nor file is set",
							},
							&cli.PathFlag{
								Name:    "file",
								Aliases: []string{"f"},
								Usage:   "Read content from file",
							},
							&cli.Uint64Flag{
								Name:  "project",
								Usage: "Project id",
							},
						},
					},
					{
						Name:      "ingest",
						Usage:     "Add or update documents from files",
						ArgsUsage: "<path...>",
						Action:    docIngestCommand,
						Flags: []cli.Flag{
							&cli.Uint64Flag{
								Name:  "project",
								Usage: "Project id",
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List documents",
						Action: docListCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:    "all",
								Aliases: []string{"a"},
								Usage:   "Include deleted documents",
							},
						},
					},
					{
						Name:      "rm",
						Usage:     "Delete documents and their embeddings",
						ArgsUsage: "<document ids...>",
						Action:    docRemoveCommand,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Usage: "Listen host (overrides config)",
					},
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Listen port (overrides config)",
					},
				},
			},
			{
				Name:      "watch",
				Usage:     "Watch directories and keep their documents embedded",
				ArgsUsage: "[directories...]",
				Action:    watchCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "sync",
						Usage: "Ingest existing files before watching",
						Value: true,
					},
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Quiet period before a changed file is ingested",
					},
				},
			},
			{
				Name:  "config",
				Usage: "Configuration helpers",
				Subcommands: []*cli.Command{
					{
						Name:      "init",
						Usage:     "Write a configuration file with default values",
						ArgsUsage: "<path>",
						Action:    configInitCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "Overwrite an existing file",
							},
						},
					},
				},
			},
		},
	}
}

func before(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !c.IsSet("log-level") && cfg.LogLevel != "" {
		if err := c.Set("log-level", cfg.LogLevel); err != nil {
			return err
		}
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return setupLogger(c)
}

// loadConfig reads --config when set and applies the global overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.ExpandPaths(wd)
	}

	if c.IsSet("db") {
		cfg.Storage.DataDir = c.String("db")
	}
	if c.IsSet("embedding-host") {
		cfg.Embedding.Host = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.Embedding.Model = c.String("embedding-model")
	}
	return cfg, nil
}

func configFrom(c *cli.Context) *config.Config {
	cfg, _ := c.App.Metadata[configKey].(*config.Config)
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// openService opens a service for cfg. The caller must Close it.
func openService(cfg *config.Config) (*inkwell.Service, error) {
	svc, err := inkwell.New(cfg, serviceOptions...)
	if err != nil {
		return nil, err
	}
	if err := svc.Open(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return svc, nil
}

const shutdownTimeout = 10 * time.Second
