package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/poiesic/inkwell"
	"github.com/poiesic/inkwell/config"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/ingestion"
	"github.com/poiesic/inkwell/search"
	"github.com/poiesic/inkwell/server"
	"github.com/urfave/cli/v2"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func reembedCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if c.IsSet("batch-size") {
		cfg.Reembed.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("parallelism") {
		cfg.Reembed.Parallelism = c.Int("parallelism")
	}
	if c.IsSet("max-retries") {
		cfg.Reembed.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("retry-delay") {
		cfg.Reembed.RetryDelay = c.Duration("retry-delay")
	}
	if c.IsSet("chunk-size") {
		cfg.Reembed.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("chunk-overlap") {
		cfg.Reembed.ChunkOverlap = c.Int("chunk-overlap")
	}

	ids, err := parseIDs(c.Args().Slice())
	if err != nil {
		return err
	}

	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signalContext(c)
	defer stop()

	errOut := c.App.ErrWriter
	fmt.Fprintf(errOut, "Database: %s\n", cfg.Storage.DataDir)
	fmt.Fprintf(errOut, "Embedding host: %s\n", cfg.Embedding.Host)
	fmt.Fprintf(errOut, "Embedding model: %s\n", cfg.Embedding.Model)
	fmt.Fprintln(errOut)

	var outcomes core.Outcomes
	if len(ids) == 0 {
		outcomes, err = svc.ReembedAll(ctx, errOut)
	} else {
		outcomes, err = svc.Reembed(ctx, ids)
	}
	if outcomes != nil {
		printOutcomes(c.App.Writer, outcomes)
	}
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func printOutcomes(w io.Writer, outcomes core.Outcomes) {
	ids := make([]core.ID, 0, len(outcomes))
	for id, outcome := range outcomes {
		if outcome.Status == core.StatusFailed {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(w, "document %d failed: %v\n", id, outcomes[id].Err)
	}
	fmt.Fprintf(w, "%d embedded, %d skipped, %d failed\n",
		outcomes.Count(core.StatusEmbedded), outcomes.Count(core.StatusSkipped), outcomes.Count(core.StatusFailed))
}

func searchCommand(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return errors.New("search query is required")
	}
	cfg := configFrom(c)

	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	q := search.Query{
		Text:      text,
		Threshold: cfg.Search.DefaultThreshold,
		TopK:      c.Int("top-k"),
	}
	if c.IsSet("threshold") {
		q.Threshold = c.Float64("threshold")
	}
	if c.IsSet("project") {
		project := core.ID(c.Uint64("project"))
		q.ProjectId = &project
	}

	results, err := svc.SearchDocuments(c.Context, q)
	if errors.Is(err, core.ErrProviderFailure) {
		fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", err)
		results, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Fprintf(out, "%d: %s (%d)[%0.3f] %q\n", i, hit.Title, hit.DocumentId, hit.Score, snippet(hit.Snippet, 80))
	}
	return nil
}

func snippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func statsCommand(c *cli.Context) error {
	svc, err := openService(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	var stats *core.EmbeddingStatistics
	if model := c.String("model"); model != "" {
		stats, err = svc.GetEmbeddingStatisticsForModel(c.Context, model)
	} else {
		stats, err = svc.GetEmbeddingStatistics(c.Context)
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Embeddings:\t%d\n", stats.TotalEmbeddings)
	fmt.Fprintf(tw, "Documents:\t%d\n", stats.DocumentCount)
	fmt.Fprintf(tw, "Per document:\t%.2f\n", stats.AvgEmbeddingsPerDocument)
	fmt.Fprintf(tw, "Avg chunk length:\t%.1f\n", stats.AvgChunkLength)
	fmt.Fprintf(tw, "Model:\t%s\n", stats.Model)
	fmt.Fprintf(tw, "Dimension:\t%d\n", stats.Dimension)
	models := make([]string, 0, len(stats.PerModel))
	for model := range stats.PerModel {
		models = append(models, model)
	}
	sort.Strings(models)
	for _, model := range models {
		fmt.Fprintf(tw, "  %s:\t%d embeddings, dimension %d\n", model, stats.PerModel[model], stats.PerModelDimension[model])
	}
	return tw.Flush()
}

func docAddCommand(c *cli.Context) error {
	content := c.String("content")
	switch {
	case c.IsSet("content"):
	case c.IsSet("file"):
		data, err := os.ReadFile(c.Path("file"))
		if err != nil {
			return err
		}
		content = string(data)
	default:
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return err
		}
		content = string(data)
	}

	svc, err := openService(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	doc, err := svc.AddDocument(c.Context, &core.Document{
		ProjectId: core.ID(c.Uint64("project")),
		Title:     c.String("title"),
		Content:   content,
		Source:    c.Path("file"),
	})
	if err != nil {
		return err
	}
	svc.Wait()

	embs, err := svc.DocumentEmbeddings(c.Context, doc.Id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "added document %d (%d chunks)\n", doc.Id, len(embs))
	return nil
}

func docIngestCommand(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return errors.New("at least one path is required")
	}

	svc, err := openService(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	project := core.ID(c.Uint64("project"))
	for _, path := range paths {
		doc, err := svc.IngestFile(c.Context, path, project)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s -> document %d\n", path, doc.Id)
	}
	svc.Wait()
	return nil
}

func docListCommand(c *cli.Context) error {
	svc, err := openService(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	docs, err := svc.ListDocuments(c.Context, c.Bool("all"))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tVERSION\tTITLE\tSTATE")
	for _, doc := range docs {
		state := "active"
		if doc.Deleted {
			state = "deleted"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", doc.Id, doc.ProjectId, doc.Version, doc.Title, state)
	}
	return tw.Flush()
}

func docRemoveCommand(c *cli.Context) error {
	ids, err := parseIDs(c.Args().Slice())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("at least one document id is required")
	}

	svc, err := openService(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, id := range ids {
		if err := svc.DeleteDocument(c.Context, id); err != nil {
			return fmt.Errorf("deleting document %d: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "deleted document %d\n", id)
	}
	return nil
}

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signalContext(c)
	defer stop()

	var watcher *ingestion.Watcher
	if len(cfg.Watch.Directories) > 0 {
		w, err := startWatcher(ctx, svc, nil, true)
		if err != nil {
			return err
		}
		watcher = w
	}

	srv := server.NewServer(svc, nil)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = srv.Stop(shutdownCtx)
	}
	if watcher != nil {
		watcher.Stop()
	}
	return err
}

func watchCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if c.IsSet("debounce") {
		cfg.Watch.Debounce = c.Duration("debounce")
	}
	dirs := c.Args().Slice()
	if len(dirs) == 0 && len(cfg.Watch.Directories) == 0 {
		return errors.New("no directories to watch")
	}

	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signalContext(c)
	defer stop()

	w, err := startWatcher(ctx, svc, dirs, c.Bool("sync"))
	if err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func startWatcher(ctx context.Context, svc *inkwell.Service, dirs []string, sync bool) (*ingestion.Watcher, error) {
	w, err := svc.NewWatcher(dirs...)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	if sync {
		if err := w.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.Stop()
			return nil, err
		}
	}
	return w, nil
}

func configInitCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("config path is required")
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

func parseIDs(args []string) ([]core.ID, error) {
	ids := make([]core.ID, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid document id %q", arg)
		}
		ids = append(ids, core.ID(id))
	}
	return ids, nil
}
