// Package server provides the HTTP API for kensaku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/retrieval"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/vectorstore"
	"github.com/hyperjump/kensaku/pkg/utils"
)

const defaultRequestTimeout = 60 * time.Second

// Deps are the services the API exposes.
type Deps struct {
	Encoder   *embedding.Encoder
	Stores    *vectorstore.Manager
	Indexer   *indexer.Indexer
	Retriever *retrieval.Retriever
	// Ledger is optional; without it the batches endpoint returns 501.
	Ledger storage.Ledger
}

// Server is the HTTP server for the kensaku API.
type Server struct {
	encoder   *embedding.Encoder
	stores    *vectorstore.Manager
	indexer   *indexer.Indexer
	retriever *retrieval.Retriever
	ledger    storage.Ledger
	config    *config.Config
	logger    *zap.Logger
	router    chi.Router
	server    *http.Server
}

// NewServer creates a server with the given dependencies. cfg may be nil in
// tests; status then omits the configuration summary.
func NewServer(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		encoder:   deps.Encoder,
		stores:    deps.Stores,
		indexer:   deps.Indexer,
		retriever: deps.Retriever,
		ledger:    deps.Ledger,
		config:    cfg,
		logger:    utils.OrNop(logger),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	timeout := defaultRequestTimeout
	if s.config != nil && s.config.Server.RequestTimeout > 0 {
		timeout = s.config.Server.RequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Get("/status", s.handleStatus)
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Post("/embeddings", s.handleEmbeddings)
			r.Post("/chunks", s.handleAddChunks)
			r.Delete("/chunks", s.handleClear)
			r.Post("/persist", s.handlePersist)
			r.Post("/search", s.handleSearch)
			r.Post("/retrieve", s.handleRetrieve)
			r.Get("/health", s.handleTenantHealth)
			r.Get("/batches", s.handleBatches)
		})
	})
	return r
}

// requestLogger logs each request at debug level through zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", time.Since(start)))
	})
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	host, port := "localhost", 8080
	if s.config != nil {
		host, port = s.config.Server.Host, s.config.Server.Port
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
