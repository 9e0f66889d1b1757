package search

import "github.com/poiesic/inkwell/core"

// ExclusionReason says why a stored embedding was not ranked.
type ExclusionReason string

const (
	ExcludedModel           ExclusionReason = "model"
	ExcludedMissingDocument ExclusionReason = "missing_document"
	ExcludedDeleted         ExclusionReason = "deleted"
	ExcludedProject         ExclusionReason = "project"
	ExcludedStale           ExclusionReason = "stale"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query Query)
	AfterQueryEmbedding(dimension int)
	CandidateExcluded(emb *core.DocumentEmbedding, reason ExclusionReason)
	AfterRanking(ranking *Ranking)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query) {}
func (n *noopMonitor) AfterQueryEmbedding(_ int) {}
func (n *noopMonitor) CandidateExcluded(_ *core.DocumentEmbedding, _ ExclusionReason) {}
func (n *noopMonitor) AfterRanking(_ *Ranking) {}
func (n *noopMonitor) Finish(_ []*core.SearchResult) {}
