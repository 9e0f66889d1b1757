// Package stats summarizes the embedding store.
//
// Aggregator folds over every stored embedding on each call. Results may
// reflect a batch that is still in progress; each document is either fully
// old or fully new because replacement is atomic per document.
//
// Cache memoizes the summary and drops it when the event bus reports a change
// to any document's embeddings.
package stats
