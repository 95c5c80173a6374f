// Package server provides the HTTP API for Legalyze.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/legalyze/legalyze/internal/analysis"
	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/indexer"
	"github.com/legalyze/legalyze/internal/rag"
	"github.com/legalyze/legalyze/internal/search"
	"github.com/legalyze/legalyze/internal/storage"
	"github.com/legalyze/legalyze/internal/vector"
	"go.uber.org/zap"
)

// requestTimeout bounds every request except chat streams.
const requestTimeout = 120 * time.Second

// WatchService manages the watched inbox directories.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Legalyze API.
type Server struct {
	engine     *search.Engine
	indexer    *indexer.Indexer
	chat       *rag.Service
	analyzer   *analysis.Analyzer
	storage    storage.Storage
	chunkIndex vector.ChunkIndex
	config     *config.Config
	configMu   sync.Mutex
	configPath string
	watch      WatchService
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the inbox endpoints. Directory changes are saved to configPath when it is set.
func WithWatch(watch WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = watch
		s.configPath = configPath
	}
}

// WithChunkIndex reports the vector index size in the status endpoint.
func WithChunkIndex(ci vector.ChunkIndex) Option {
	return func(s *Server) { s.chunkIndex = ci }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	chat *rag.Service,
	analyzer *analysis.Analyzer,
	storage storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		engine:   engine,
		indexer:  idx,
		chat:     chat,
		analyzer: analyzer,
		storage:  storage,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// Chat streams for as long as the model generates.
		r.Post("/contracts/{id}/chat", s.handleChat)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(middleware.Compress(5))

			r.Get("/status", s.handleStatus)
			r.Get("/search", s.handleSearch)
			r.Post("/search", s.handleSearch)

			r.Post("/contracts", s.handleUpload)
			r.Get("/contracts", s.handleListContracts)
			r.Get("/contracts/{id}", s.handleGetContract)
			r.Delete("/contracts/{id}", s.handleDeleteContract)
			r.Get("/contracts/{id}/chunks", s.handleListChunks)
			r.Get("/contracts/{id}/messages", s.handleListMessages)
			r.Post("/contracts/{id}/analyze", s.handleAnalyze)

			r.Get("/watch/directories", s.handleWatchDirectoriesList)
			r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
			r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
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
