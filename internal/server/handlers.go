package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/indexer"
	"github.com/legalyze/legalyze/internal/llm"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/rag"
	"github.com/legalyze/legalyze/internal/storage"
	"go.uber.org/zap"
)

// multipartMemory is the part of a multipart upload kept in memory; the rest spills to disk.
const multipartMemory = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.config.Upload.MaxBytes
	// Leave room for the multipart envelope and the category field.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusBadRequest, indexer.ErrFileTooLarge.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if err := s.indexer.ValidateUpload(header.Filename, header.Size); err != nil {
		s.fail(w, "upload rejected", err)
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	s.logger.Debug("upload request",
		zap.String("file", header.Filename),
		zap.Int("bytes", len(content)),
		zap.String("category", r.FormValue("category")))
	c, err := s.indexer.Upload(r.Context(), &models.ContractInput{
		FileName: header.Filename,
		Category: models.Category(r.FormValue("category")),
		Content:  content,
	})
	if err != nil {
		s.fail(w, "upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       c.ID,
		"fileName": c.FileName,
		"category": c.Category,
		"status":   c.Status,
		"chunks":   c.ChunkCount,
	})
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.ContractFilter
	if v := q.Get("category"); v != "" {
		c, ok := parseCategory(v)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown category: "+v)
			return
		}
		filter.Category = c
	}
	if v := q.Get("status"); v != "" {
		st, ok := models.ParseStatus(v)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown status: "+v)
			return
		}
		filter.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	contracts, err := s.storage.ListContracts(r.Context(), filter)
	if err != nil {
		s.fail(w, "list contracts failed", err)
		return
	}
	if contracts == nil {
		contracts = []*models.Contract{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"contracts": contracts})
}

// parseCategory accepts only known categories, unlike models.ParseCategory which falls back.
func parseCategory(v string) (models.Category, bool) {
	c := models.ParseCategory(v)
	return c, strings.EqualFold(strings.TrimSpace(v), string(c))
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.storage.GetContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "get contract failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete contract request", zap.String("id", id))
	if err := s.indexer.DeleteContract(r.Context(), id); err != nil {
		s.fail(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetContract(r.Context(), id); err != nil {
		s.fail(w, "get contract failed", err)
		return
	}
	chunks, err := s.storage.GetChunks(r.Context(), id)
	if err != nil {
		s.fail(w, "list chunks failed", err)
		return
	}
	if chunks == nil {
		chunks = []*models.Chunk{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"chunks": chunks})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetContract(r.Context(), id); err != nil {
		s.fail(w, "get contract failed", err)
		return
	}
	msgs, err := s.storage.ListMessages(r.Context(), id)
	if err != nil {
		s.fail(w, "list messages failed", err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("analyze request", zap.String("id", id))
	result, err := s.analyzer.Analyze(r.Context(), id)
	if err != nil {
		s.fail(w, "analysis failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		q := r.URL.Query()
		query.Query = q.Get("q")
		query.ContractID = q.Get("contract_id")
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			query.Limit = n
		}
		switch q.Get("mode") {
		case "keyword":
			query.KeywordEnabled = true
		case "semantic":
			query.SemanticEnabled = true
		case "", "hybrid":
		default:
			s.respondError(w, http.StatusBadRequest, "mode must be keyword, semantic or hybrid")
			return
		}
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contracts, err := s.storage.CountContracts(ctx)
	if err != nil {
		s.fail(w, "status: count contracts failed", err)
		return
	}
	chunks, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.fail(w, "status: count chunks failed", err)
		return
	}
	messages, err := s.storage.CountMessages(ctx)
	if err != nil {
		s.fail(w, "status: count messages failed", err)
		return
	}
	resp := map[string]interface{}{
		"contracts": contracts,
		"chunks":    chunks,
		"messages":  messages,
	}
	if s.chunkIndex != nil {
		resp["vector_index_size"] = s.chunkIndex.Size()
	}
	cfg := s.config
	resp["config"] = map[string]interface{}{
		"storage_driver":       cfg.Storage.Driver,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"chunk_size":           cfg.Chunking.ChunkSize,
		"top_k":                cfg.Retrieval.TopK,
		"completion_model":     cfg.Completion.Model,
		"database_path":        cfg.Storage.DatabasePath,
		"bleve_index_path":     cfg.Storage.BleveIndexPath,
		"vector_index_path":    cfg.Storage.VectorIndexPath,
		"upload_dir":           cfg.Storage.UploadDir,
	}
	if usage, err := storage.DiskUsage(cfg.Storage); err == nil {
		resp["disk_usage_bytes"] = usage.Total()
		resp["disk_usage"] = usage
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.fail(w, "watch add directory failed", err)
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.fail(w, "watch add directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.fail(w, "watch remove directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current inbox list to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, indexer.ErrInvalidFileType),
		errors.Is(err, indexer.ErrFileTooLarge),
		errors.Is(err, rag.ErrEmptyQuestion),
		errors.Is(err, models.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, rag.ErrContractNotFound):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and responds with the matching status. Internal errors are logged at error level.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
