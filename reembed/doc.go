// Package reembed keeps stored embeddings in step with document content.
//
// Coordinator runs batch embedding requests: for each document it decides
// whether the existing embeddings are still current, and if not it chunks the
// content, embeds every chunk and swaps the document's embedding set in a
// single store transaction. Documents are processed concurrently on a bounded
// worker pool; at most one replacement per document is in flight at a time.
//
// Reembedder drives the coordinator over every active document with progress
// output, for model changes and maintenance runs.
package reembed
