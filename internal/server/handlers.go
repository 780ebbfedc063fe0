package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/embeddings"
	"github.com/raaihank/arguana-embed/internal/store"
	"github.com/raaihank/arguana-embed/internal/websocket"
)

const maxBodyBytes = 32 << 20

// EmbedRequest is the body of POST /embed
type EmbedRequest struct {
	Texts     []string `json:"texts"`
	BatchSize int      `json:"batch_size,omitempty"`
}

// EmbedResponse maps every distinct input text to its vector
type EmbedResponse struct {
	Model      string               `json:"model"`
	Dimensions int                  `json:"dimensions"`
	Count      int                  `json:"count"`
	Embeddings map[string][]float32 `json:"embeddings"`
}

// SearchRequest is the body of POST /search
type SearchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float32 `json:"min_similarity,omitempty"`
}

// SearchHit is one stored text close to the query
type SearchHit struct {
	Text       string  `json:"text"`
	Similarity float32 `json:"similarity"`
}

// SearchResponse lists stored texts ordered by similarity
type SearchResponse struct {
	Model   string      `json:"model"`
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// ModelInfo describes one supported model family
type ModelInfo struct {
	Name         string `json:"name"`
	Repo         string `json:"repo"`
	Adapter      string `json:"adapter,omitempty"`
	Tokenizer    string `json:"tokenizer"`
	Pooling      string `json:"pooling"`
	Normalized   bool   `json:"normalized"`
	SingleDevice bool   `json:"single_device,omitempty"`
	Loaded       bool   `json:"loaded"`
	Parameters   int64  `json:"parameters,omitempty"`
	Checkpoint   string `json:"checkpoint,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"model":     s.model.CacheKey(),
		"devices":   s.options.Devices.String(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleModels lists the supported model families
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	families := embeddings.Families()
	infos := make([]ModelInfo, 0, len(families))
	for _, f := range families {
		info := ModelInfo{
			Name:         f.Name,
			Repo:         f.Repo,
			Adapter:      f.AdapterRepo,
			Tokenizer:    f.Tokenizer.String(),
			Pooling:      f.Pooling.String(),
			Normalized:   f.Normalize,
			SingleDevice: f.SingleDevice,
		}
		if f.Name == s.model.Name() {
			info.Loaded = true
			info.Parameters = s.model.Parameters
			info.Checkpoint = s.model.Checkpoint
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": infos})
}

// handleStats reports model and connection statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"model":  s.model.GetStats(),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.wsHub != nil {
		resp["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEmbed embeds a batch of texts
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req EmbedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "texts must not be empty")
		return
	}
	if s.config.MaxTexts > 0 && len(req.Texts) > s.config.MaxTexts {
		writeError(w, http.StatusRequestEntityTooLarge, "too_many_texts", "too many texts in one request")
		return
	}
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "batch_size must not be negative")
		return
	}

	opts := s.options
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}

	start := time.Now()
	vectors, err := s.embed(r.Context(), requestID, req.Texts, opts)
	if err != nil {
		log.Error("Embedding request failed", zap.Int("texts", len(req.Texts)), zap.Error(err))
		status, code := statusForError(err)
		writeError(w, status, code, err.Error())
		return
	}

	log.Info("Embedding request completed",
		zap.Int("texts", len(req.Texts)),
		zap.Int("unique", len(vectors)),
		zap.Duration("duration", time.Since(start)))

	writeJSON(w, http.StatusOK, EmbedResponse{
		Model:      s.model.CacheKey(),
		Dimensions: dimensions(vectors),
		Count:      len(vectors),
		Embeddings: vectors,
	})
}

// handleSearch embeds a query and returns the closest stored texts
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())

	var req SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query must not be empty")
		return
	}

	vectors, err := s.embed(r.Context(), requestID, []string{req.Query}, s.options)
	if err != nil {
		status, code := statusForError(err)
		writeError(w, status, code, err.Error())
		return
	}

	results, err := s.store.FindSimilar(r.Context(), vectors[req.Query], &store.SearchOptions{
		Model:         s.model.CacheKey(),
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		s.logger.WithRequestID(requestID).Error("Similarity search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "store_error", "similarity search failed")
		return
	}

	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, SearchHit{Text: res.Record.Text, Similarity: res.Similarity})
	}
	writeJSON(w, http.StatusOK, SearchResponse{Model: s.model.CacheKey(), Query: req.Query, Results: hits})
}

// embed runs one job, reporting its progress to WebSocket clients
func (s *Server) embed(ctx context.Context, jobID string, texts []string, opts embeddings.EmbedOptions) (map[string][]float32, error) {
	if s.wsHub != nil {
		opts.Progress = s.wsHub.ProgressReporter(jobID, s.model.CacheKey())
		s.broadcastJob(jobID, "started", len(texts), opts.BatchSize, 0, nil)
	}

	s.inferMu.Lock()
	start := time.Now()
	vectors, err := embeddings.GetEmbeddings(ctx, s.model, texts, opts)
	s.inferMu.Unlock()

	if s.wsHub != nil {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		s.broadcastJob(jobID, status, len(texts), opts.BatchSize, time.Since(start), err)
	}
	return vectors, err
}

func (s *Server) broadcastJob(jobID, status string, texts, batchSize int, took time.Duration, err error) {
	event := websocket.JobEvent{
		JobID:      jobID,
		Model:      s.model.CacheKey(),
		Status:     status,
		Texts:      texts,
		BatchSize:  batchSize,
		DurationMS: float64(took.Microseconds()) / 1000,
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.wsHub.BroadcastEvent(websocket.Event{Type: websocket.EventTypeJob, RequestID: jobID, Data: event})
}

// statusForError maps embedding failures to HTTP statuses
func statusForError(err error) (int, string) {
	var embErr *embeddings.EmbeddingError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	case errors.Is(err, embeddings.ErrInvalidInput):
		return http.StatusBadRequest, embeddings.ErrInvalidInput.Type
	case errors.Is(err, embeddings.ErrSequenceTooLong):
		return http.StatusUnprocessableEntity, embeddings.ErrSequenceTooLong.Type
	case errors.Is(err, embeddings.ErrOutOfMemory), errors.Is(err, embeddings.ErrNoBatchSize):
		return http.StatusServiceUnavailable, embeddings.ErrOutOfMemory.Type
	case errors.As(err, &embErr):
		return http.StatusInternalServerError, embErr.Type
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func dimensions(vectors map[string][]float32) int {
	for _, v := range vectors {
		return len(v)
	}
	return 0
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	requestID := w.Header().Get("X-Request-ID")
	writeJSON(w, status, errorResponse{Error: code, Message: message, RequestID: requestID})
}
