package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vectorstore"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

const defaultBatchPageSize = 50

type embeddingsRequest struct {
	Texts []string `json:"texts"`
}

type embeddingResult struct {
	Vector   []float32 `json:"vector"`
	CacheHit bool      `json:"cache_hit"`
}

type addChunksRequest struct {
	BatchID string             `json:"batch_id"`
	Chunks  []models.TextChunk `json:"chunks"`
}

type searchRequest struct {
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

type retrieveRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
	ErrorCode string `json:"error_code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if err := vectorstore.ValidateTenantID(tenant); err != nil {
		s.respondErr(w, err)
		return
	}
	var req embeddingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.encoder.Encode(r.Context(), req.Texts, tenant)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	out := make([]embeddingResult, len(res.Vectors))
	for i, v := range res.Vectors {
		out[i] = embeddingResult{Vector: v, CacheHit: res.CacheHit[i]}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"embeddings": out,
		"hits":       res.Hits,
		"misses":     res.Misses,
	})
}

func (s *Server) handleAddChunks(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var req addChunksRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("add chunks request", zap.String("tenant_id", tenant), zap.Int("chunks", len(req.Chunks)))
	res, err := s.indexer.IndexChunks(r.Context(), tenant, req.BatchID, req.Chunks)
	if err != nil && res != nil {
		// Applied in memory but not persisted. The persist route retries it.
		err = kerrors.FromContext(err)
		s.logger.Error("add chunks not persisted", zap.String("tenant_id", tenant), zap.Error(err))
		s.respondJSON(w, kerrors.HTTPStatus(err), map[string]interface{}{
			"success":       false,
			"error":         err.Error(),
			"error_kind":    kerrors.KindOf(err),
			"error_code":    kerrors.CodeOf(err),
			"retryable":     kerrors.IsRetryable(err),
			"vectors_added": res.VectorsAdded,
			"total_vectors": res.TotalVectors,
			"batch_id":      res.BatchID,
		})
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":       true,
		"vectors_added": res.VectorsAdded,
		"total_vectors": res.TotalVectors,
		"batch_id":      res.BatchID,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	s.logger.Debug("clear request", zap.String("tenant_id", tenant))
	if err := s.indexer.Clear(r.Context(), tenant); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "total_vectors": 0})
}

// handlePersist retries writing a tenant store that has unpersisted changes.
func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	store, err := s.stores.Store(r.Context(), tenant)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if err := store.Persist(r.Context()); err != nil {
		s.respondErr(w, err)
		return
	}
	health := store.HealthCheck()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"healthy": health.Healthy(),
		"store":   health,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	store, err := s.stores.Store(r.Context(), tenant)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	hits, err := store.Search(r.Context(), req.Vector, req.K)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "documents": hits})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("retrieve request", zap.String("tenant_id", tenant), zap.Int("max_results", req.MaxResults))
	resp := s.retriever.Retrieve(r.Context(), models.RetrieveQuery{
		Query:      req.Query,
		TenantID:   tenant,
		MaxResults: req.MaxResults,
	})
	status := http.StatusOK
	if !resp.Success {
		status = kerrors.StatusForCode(kerrors.Code(resp.ErrorCode))
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) handleTenantHealth(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	store, err := s.stores.Store(r.Context(), tenant)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	health := store.HealthCheck()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"healthy":       health.Healthy(),
		"store":         health,
		"keyword_state": s.retriever.KeywordState(tenant),
	})
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if err := vectorstore.ValidateTenantID(tenant); err != nil {
		s.respondErr(w, err)
		return
	}
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, "ingestion ledger not enabled")
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultBatchPageSize)
	batches, err := s.ledger.ListBatches(r.Context(), tenant, offset, limit)
	if err != nil {
		s.logger.Error("list batches failed", zap.String("tenant_id", tenant), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.ledger.CountBatches(r.Context(), tenant)
	if err != nil {
		s.logger.Error("count batches failed", zap.String("tenant_id", tenant), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"batches": batches,
		"total":   total,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.stores.Stats()
	totalVectors := 0
	for _, h := range stats {
		totalVectors += h.Vectors
	}
	resp := map[string]interface{}{
		"tenants":          stats,
		"tenant_count":     len(stats),
		"total_vectors":    totalVectors,
		"cache_entries":    s.encoder.CacheLen(),
		"embedding_model":  s.encoder.ModelID(),
		"dimensions":       s.encoder.Dimensions(),
		"vector_index_dir": s.stores.DataDir(),
	}

	if s.config != nil {
		policy := s.retriever.Policy()
		resp["config"] = map[string]interface{}{
			"embedding_backend": s.config.Embedding.Backend,
			"index_type":        s.config.VectorStore.IndexType,
			"semantic_weight":   policy.SemanticWeight,
			"keyword_weight":    policy.KeywordWeight,
			"phrase_boost":      policy.PhraseBoost,
			"min_score":         policy.MinScore,
			"keyword_enabled":   policy.KeywordEnabled,
			"config_reload":     s.config.Watch.ConfigReload,
		}
		usage, err := storage.MeasureUsage(
			s.config.Storage.DataDir,
			s.config.Storage.LedgerPath,
			s.config.Storage.CachePath,
		)
		if err == nil {
			resp["disk_usage_bytes"] = usage.Total
			resp["disk_usage"] = usage
			resp["largest_tenants"] = usage.LargestTenants(5)
		} else {
			s.logger.Debug("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondErr(w, kerrors.Wrap(err, kerrors.CodeQueryInvalidInput, "invalid request body"))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondErr maps a coded error to its status and the error envelope.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	err = kerrors.FromContext(err)
	status := kerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respondJSON(w, status, errorResponse{
		Error:     err.Error(),
		ErrorKind: string(kerrors.KindOf(err)),
		ErrorCode: string(kerrors.CodeOf(err)),
		Retryable: kerrors.IsRetryable(err),
	})
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message, ErrorKind: string(kerrors.KindInternal)})
}
