// Package ingestion keeps documents and their embeddings in step.
//
// The Pipeline type manages the document workflow:
//   - Adding, updating and deleting documents in storage
//   - Re-embedding changed documents asynchronously
//   - Ingesting files by path, keyed on the file's absolute path
//
// Embedding runs on a worker pool. Errors during async processing are logged
// but do not fail the ingestion operation; call Wait to block until queued
// work is done.
//
// Watcher feeds file changes under one or more directories into a Pipeline,
// debouncing bursts of writes to the same file.
package ingestion
