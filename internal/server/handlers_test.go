package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/legalyze/legalyze/internal/analysis"
	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/embedding"
	"github.com/legalyze/legalyze/internal/indexer"
	"github.com/legalyze/legalyze/internal/keyword"
	"github.com/legalyze/legalyze/internal/llm"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/rag"
	"github.com/legalyze/legalyze/internal/search"
	"github.com/legalyze/legalyze/internal/storage"
	"github.com/legalyze/legalyze/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dims = 16

const ndaText = "§1 Confidential Information. The recipient keeps all disclosed information secret.\n" +
	"§2 Term. This agreement lasts five years.\n" +
	"§3 Remedies. The discloser may seek injunctive relief for any breach."

const analysisReply = `{"contract_type":"NDA","risk_score":40,"summary":"Mutual NDA.",` +
	`"flags":[{"section":"§3","severity":"MEDIUM","title":"Broad remedies","description":"d","suggestion":"s"}],` +
	`"missing_clauses":["Return of Materials"]}`

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type testServer struct {
	srv     *Server
	handler http.Handler
	store   storage.Storage
	indexer *indexer.Indexer
	chat    *llm.ScriptedModel
	config  *config.Config
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "legalyze.db")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = dims
	cfg.Upload.Extensions = []string{".pdf", ".docx", ".txt"}
	cfg.Upload.MaxBytes = 1 << 20
	config.ApplyDefaults(cfg)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	embedder := embedding.NewMockEmbedder(dims)
	vectors, err := vector.NewMemoryIndex(dims)
	require.NoError(t, err)
	kw, err := keyword.NewMemBleveIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	idx := indexer.NewIndexer(store, embedder, vectors, kw, cfg, nil)
	engine := search.NewEngine(store, embedder, vectors, kw, &cfg.Retrieval)
	chatModel := llm.NewScriptedModel("Under §3 the discloser may seek an injunction.")
	chat := rag.NewService(store, embedder, vectors, chatModel, cfg.Retrieval, rag.WithWarmer(idx))
	analyzer := analysis.NewAnalyzer(store, llm.NewScriptedModel(analysisReply))

	opts = append([]Option{WithChunkIndex(vectors)}, opts...)
	srv := NewServer(engine, idx, chat, analyzer, store, cfg, zap.NewNop(), opts...)
	return &testServer{srv: srv, handler: srv.Handler(), store: store, indexer: idx, chat: chatModel, config: cfg}
}

func (ts *testServer) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) ingest(t *testing.T) *models.Contract {
	t.Helper()
	c, err := ts.indexer.IngestContract(context.Background(), &models.ContractInput{
		FileName: "nda.txt",
		Category: models.CategoryLegal,
		Content:  []byte(ndaText),
	})
	require.NoError(t, err)
	return c
}

func multipartBody(t *testing.T, fileName, category string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if category != "" {
		require.NoError(t, mw.WriteField("category", category))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleUpload(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, "nda.txt", "business", []byte(ndaText))
	w := ts.do(t, http.MethodPost, "/api/v1/contracts", body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var out struct {
		ID       string `json:"id"`
		FileName string `json:"fileName"`
		Category string `json:"category"`
		Status   string `json:"status"`
		Chunks   int    `json:"chunks"`
	}
	decode(t, w, &out)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "nda.txt", out.FileName)
	assert.Equal(t, "BUSINESS", out.Category)
	assert.Equal(t, string(models.StatusUploading), out.Status)
	assert.Equal(t, 3, out.Chunks)

	c, err := ts.store.GetContract(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, c.ChunkCount)
}

func TestHandleUpload_rejected(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name     string
		fileName string
		content  []byte
		want     int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"bad extension", "malware.exe", []byte("MZ"), http.StatusBadRequest},
		{"too large", "big.txt", bytes.Repeat([]byte("a"), 1<<20+1), http.StatusBadRequest},
		{"no text", "blank.txt", []byte("   \n  "), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fileName, "", tt.content)
			w := ts.do(t, http.MethodPost, "/api/v1/contracts", body, ct)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			var out map[string]string
			decode(t, w, &out)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestHandleListContracts(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 1},
		{"?category=legal", http.StatusOK, 1},
		{"?category=business", http.StatusOK, 0},
		{"?status=uploading&limit=5", http.StatusOK, 1},
		{"?status=complete", http.StatusOK, 0},
		{"?category=unknown", http.StatusBadRequest, 0},
		{"?status=done", http.StatusBadRequest, 0},
		{"?limit=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, "/api/v1/contracts"+tt.query, nil, "")
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var out struct {
				Contracts []*models.Contract `json:"contracts"`
			}
			decode(t, w, &out)
			require.Len(t, out.Contracts, tt.count)
			if tt.count > 0 {
				assert.Equal(t, c.ID, out.Contracts[0].ID)
			}
		})
	}
}

func TestHandleGetContract(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	w := ts.do(t, http.MethodGet, "/api/v1/contracts/"+c.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Contract
	decode(t, w, &got)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "nda.txt", got.FileName)
	assert.NotContains(t, w.Body.String(), "recipient keeps", "full text must not be serialized")

	w = ts.do(t, http.MethodGet, "/api/v1/contracts/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListChunks(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	w := ts.do(t, http.MethodGet, "/api/v1/contracts/"+c.ID+"/chunks", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Chunks []*models.Chunk `json:"chunks"`
	}
	decode(t, w, &out)
	require.Len(t, out.Chunks, 3)
	assert.Equal(t, "chunk_1", out.Chunks[0].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/contracts/missing/chunks", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDeleteContract(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	w := ts.do(t, http.MethodDelete, "/api/v1/contracts/"+c.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err := ts.store.GetContract(context.Background(), c.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	w = ts.do(t, http.MethodDelete, "/api/v1/contracts/"+c.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAnalyze(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	w := ts.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/analyze", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res analysis.Result
	decode(t, w, &res)
	assert.Equal(t, "NDA", res.ContractType)
	assert.Equal(t, 40, res.RiskScore)
	assert.Equal(t, 1, res.FlagCount)

	got, err := ts.store.GetContract(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)

	w = ts.do(t, http.MethodPost, "/api/v1/contracts/missing/analyze", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleChat(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	body := []byte(`{"messages":[{"role":"user","content":"What remedies are available?"}]}`)
	w := ts.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/chat", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	var text strings.Builder
	var events []string
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		events = append(events, payload)
		if payload == "[DONE]" {
			continue
		}
		var ev chatEvent
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		text.WriteString(ev.Text)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "[DONE]", events[len(events)-1])
	assert.Equal(t, "Under §3 the discloser may seek an injunction.", text.String())

	w = ts.do(t, http.MethodGet, "/api/v1/contracts/"+c.ID+"/messages", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Messages []*models.Message `json:"messages"`
	}
	decode(t, w, &out)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, models.RoleUser, out.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, out.Messages[1].Role)
	assert.NotEmpty(t, out.Messages[1].ChunksUsed)
}

func TestHandleChat_errors(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	tests := []struct {
		name  string
		id    string
		body  string
		setup func()
		want  int
	}{
		{"invalid body", c.ID, `{`, nil, http.StatusBadRequest},
		{"no messages", c.ID, `{"messages":[]}`, nil, http.StatusBadRequest},
		{"assistant last", c.ID, `{"messages":[{"role":"assistant","content":"hi"}]}`, nil, http.StatusBadRequest},
		{"unknown contract", "missing", `{"messages":[{"role":"user","content":"hi"}]}`, nil, http.StatusNotFound},
		{"rate limited", c.ID, `{"messages":[{"role":"user","content":"hi"}]}`, func() { ts.chat.Err = llm.ErrRateLimited }, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/contracts/%s/chat", tt.id), []byte(tt.body), "application/json")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		})
	}

	msgs, err := ts.store.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "failed turns are not stored")
}

func TestHandleSearch(t *testing.T) {
	ts := newTestServer(t)
	c := ts.ingest(t)

	w := ts.do(t, http.MethodGet, "/api/v1/search?q=injunctive+relief&mode=keyword&limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.SearchResponse
	decode(t, w, &resp)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, c.ID, resp.Hits[0].ContractID)
	assert.Contains(t, resp.Hits[0].Text, "injunctive")

	body := []byte(`{"query":"five years","contract_id":"` + c.ID + `"}`)
	w = ts.do(t, http.MethodPost, "/api/v1/search", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"empty query", http.MethodGet, "/api/v1/search?q=+", ""},
		{"bad mode", http.MethodGet, "/api/v1/search?q=term&mode=fuzzy", ""},
		{"bad limit", http.MethodGet, "/api/v1/search?q=term&limit=ten", ""},
		{"bad body", http.MethodPost, "/api/v1/search", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.target, []byte(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.ingest(t)

	w := ts.do(t, http.MethodGet, "/api/v1/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out map[string]interface{}
	decode(t, w, &out)
	assert.EqualValues(t, 1, out["contracts"])
	assert.EqualValues(t, 3, out["chunks"])
	assert.EqualValues(t, 0, out["messages"])
	assert.EqualValues(t, 3, out["vector_index_size"])
	assert.Contains(t, out, "disk_usage_bytes")
	cfg, ok := out["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "mock", cfg["embedding_provider"])
}

func TestHandleWatchDirectories(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	mock := &mockWatchService{dirs: []string{"/tmp/inbox"}}
	ts := newTestServer(t, WithWatch(mock, configPath))

	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &list)
	assert.Equal(t, []string{"/tmp/inbox"}, list.Directories)

	dir := t.TempDir()
	body, _ := json.Marshal(map[string]interface{}{"path": dir, "sync": false})
	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", body, "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, mock.dirs, dir)

	saved, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(saved), dir)

	w = ts.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, mock.dirs, dir)
}

func TestHandleWatchDirectories_errors(t *testing.T) {
	ts := newTestServer(t, WithWatch(&mockWatchService{}, ""))
	file := filepath.Join(t.TempDir(), "contract.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"bad body", http.MethodPost, "/api/v1/watch/directories", "{", http.StatusBadRequest},
		{"no path", http.MethodPost, "/api/v1/watch/directories", `{}`, http.StatusBadRequest},
		{"missing directory", http.MethodPost, "/api/v1/watch/directories", `{"path":"/definitely/not/here"}`, http.StatusNotFound},
		{"not a directory", http.MethodPost, "/api/v1/watch/directories", `{"path":"` + file + `"}`, http.StatusBadRequest},
		{"remove without path", http.MethodDelete, "/api/v1/watch/directories", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.target, []byte(tt.body), "application/json")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestHandleWatchDirectories_disabled(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil, "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{indexer.ErrInvalidFileType, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", indexer.ErrFileTooLarge), http.StatusBadRequest},
		{rag.ErrEmptyQuestion, http.StatusBadRequest},
		{models.ErrEmptyQuery, http.StatusBadRequest},
		{storage.ErrNotFound, http.StatusNotFound},
		{rag.ErrContractNotFound, http.StatusNotFound},
		{indexer.ErrNoText, http.StatusUnprocessableEntity},
		{fmt.Errorf("generate: %w", llm.ErrRateLimited), http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
