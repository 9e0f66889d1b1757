package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/inkwell"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/search"
	"github.com/poiesic/inkwell/storage"
)

type searchRequest struct {
	Query     string   `json:"query"`
	Model     string   `json:"model,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
	ProjectID *uint64  `json:"project_id,omitempty"`
}

type searchResponse struct {
	Query   string               `json:"query"`
	Results []*core.SearchResult `json:"results"`
	Warning string               `json:"warning,omitempty"`
}

type documentRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	ProjectID uint64 `json:"project_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

type documentResponse struct {
	ID         uint64    `json:"id"`
	ProjectID  uint64    `json:"project_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content,omitempty"`
	Source     string    `json:"source,omitempty"`
	Checksum   string    `json:"checksum"`
	Version    uint64    `json:"version"`
	Deleted    bool      `json:"deleted"`
	InsertedAt time.Time `json:"inserted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type embeddingResponse struct {
	ID         string            `json:"id"`
	ChunkIndex int               `json:"chunk_index"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Model      string            `json:"model"`
	Dimension  int               `json:"dimension"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]string `json:"metadata"`
}

type reembedRequest struct {
	DocumentIDs  []uint64 `json:"document_ids"`
	Model        string   `json:"model,omitempty"`
	ChunkSize    int      `json:"chunk_size,omitempty"`
	ChunkOverlap int      `json:"chunk_overlap,omitempty"`
}

type outcomeResponse struct {
	Status core.Status `json:"status"`
	Chunks int         `json:"chunks"`
	Error  string      `json:"error,omitempty"`
}

type reembedResponse struct {
	Embedded int                        `json:"embedded"`
	Skipped  int                        `json:"skipped"`
	Failed   int                        `json:"failed"`
	Outcomes map[string]outcomeResponse `json:"outcomes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.service.State()
	if state != inkwell.StateReady {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": state.String()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q := search.Query{
		Text:      req.Query,
		Model:     req.Model,
		Threshold: s.config.Search.DefaultThreshold,
		TopK:      req.TopK,
	}
	if req.Threshold != nil {
		q.Threshold = *req.Threshold
	}
	if req.ProjectID != nil {
		id := core.ID(*req.ProjectID)
		q.ProjectId = &id
	}
	s.logger.Debug("search request", "query", req.Query, "top_k", req.TopK)

	results, err := s.service.SearchDocuments(r.Context(), q)
	if errors.Is(err, core.ErrProviderFailure) {
		// An unreachable embedding service means no matches, not a failed request
		s.logger.Warn("search returned no results", "err", err)
		s.respondJSON(w, http.StatusOK, searchResponse{
			Query:   req.Query,
			Results: []*core.SearchResult{},
			Warning: err.Error(),
		})
		return
	}
	if err != nil {
		s.logger.Error("search failed", "err", err)
		s.respondFailure(w, err)
		return
	}
	if results == nil {
		results = []*core.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var (
		stats *core.EmbeddingStatistics
		err   error
	)
	if model := r.URL.Query().Get("model"); model != "" {
		stats, err = s.service.GetEmbeddingStatisticsForModel(r.Context(), model)
	} else {
		stats, err = s.service.GetEmbeddingStatistics(r.Context())
	}
	if err != nil {
		s.logger.Error("statistics failed", "err", err)
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReembed(w http.ResponseWriter, r *http.Request) {
	var req reembedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		outcomes core.Outcomes
		err      error
	)
	if len(req.DocumentIDs) == 0 {
		outcomes, err = s.service.ReembedAll(r.Context(), io.Discard)
	} else {
		batch := s.config.ReembedConfig().Request(toIDs(req.DocumentIDs))
		if req.Model != "" {
			batch.Model = req.Model
		}
		if req.ChunkSize != 0 {
			batch.ChunkSize = req.ChunkSize
			batch.ChunkOverlap = req.ChunkOverlap
		}
		outcomes, err = s.service.RunBatch(r.Context(), batch)
	}
	if err != nil {
		s.logger.Error("reembed failed", "err", err)
		s.respondFailure(w, err)
		return
	}

	resp := reembedResponse{
		Embedded: outcomes.Count(core.StatusEmbedded),
		Skipped:  outcomes.Count(core.StatusSkipped),
		Failed:   outcomes.Count(core.StatusFailed),
		Outcomes: make(map[string]outcomeResponse, len(outcomes)),
	}
	for id, outcome := range outcomes {
		out := outcomeResponse{Status: outcome.Status, Chunks: outcome.Chunks}
		if outcome.Err != nil {
			out.Error = outcome.Err.Error()
		}
		resp.Outcomes[strconv.FormatUint(uint64(id), 10)] = out
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	includeDeleted, _ := strconv.ParseBool(r.URL.Query().Get("include_deleted"))
	docs, err := s.service.ListDocuments(r.Context(), includeDeleted)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		resp := toDocumentResponse(doc)
		resp.Content = ""
		out = append(out, resp)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("create document request", "title", req.Title)

	doc, err := s.service.AddDocument(r.Context(), &core.Document{
		ProjectId: core.ID(req.ProjectID),
		Title:     req.Title,
		Content:   req.Content,
		Source:    req.Source,
	})
	if err != nil {
		s.logger.Error("create document failed", "err", err)
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	doc, err := s.service.GetDocument(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := s.service.UpdateDocument(r.Context(), &core.Document{
		Id:        id,
		ProjectId: core.ID(req.ProjectID),
		Title:     req.Title,
		Content:   req.Content,
		Source:    req.Source,
	})
	if err != nil {
		s.logger.Error("update document failed", "document", id, "err", err)
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete document request", "document", id)
	if err := s.service.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", "document", id, "err", err)
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDocumentEmbeddings(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}
	embs, err := s.service.DocumentEmbeddings(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	out := make([]embeddingResponse, 0, len(embs))
	for _, emb := range embs {
		out = append(out, embeddingResponse{
			ID:         emb.Id,
			ChunkIndex: emb.ChunkIndex,
			Start:      emb.Start,
			End:        emb.End,
			Model:      emb.Model,
			Dimension:  emb.Dimension(),
			CreatedAt:  emb.CreatedAt,
			Metadata:   emb.Metadata,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"embeddings": out})
}

func (s *Server) documentID(w http.ResponseWriter, r *http.Request) (core.ID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return core.ID(id), true
}

func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidConfiguration), errors.Is(err, core.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inkwell.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrProviderFailure):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrCancelled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toIDs(ids []uint64) []core.ID {
	out := make([]core.ID, len(ids))
	for i, id := range ids {
		out[i] = core.ID(id)
	}
	return out
}

func toDocumentResponse(doc *core.Document) documentResponse {
	return documentResponse{
		ID:         uint64(doc.Id),
		ProjectID:  uint64(doc.ProjectId),
		Title:      doc.Title,
		Content:    doc.Content,
		Source:     doc.Source,
		Checksum:   doc.Checksum,
		Version:    doc.Version,
		Deleted:    doc.Deleted,
		InsertedAt: doc.InsertedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}
