// Package main is the Legalyze CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/legalyze/legalyze/internal/analysis"
	"github.com/legalyze/legalyze/internal/cli"
	"github.com/legalyze/legalyze/internal/config"
	"github.com/legalyze/legalyze/internal/embedding"
	"github.com/legalyze/legalyze/internal/extract"
	"github.com/legalyze/legalyze/internal/fileid"
	"github.com/legalyze/legalyze/internal/indexer"
	"github.com/legalyze/legalyze/internal/keyword"
	"github.com/legalyze/legalyze/internal/llm"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/rag"
	"github.com/legalyze/legalyze/internal/search"
	"github.com/legalyze/legalyze/internal/server"
	"github.com/legalyze/legalyze/internal/storage"
	"github.com/legalyze/legalyze/internal/vector"
	"github.com/legalyze/legalyze/internal/watcher"
	"github.com/legalyze/legalyze/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/legalyze/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory takes precedence so that running from a project checkout uses the local config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "chunk":
		runChunk()
	case "list":
		runList()
	case "show":
		runShow()
	case "search":
		runSearch()
	case "ask":
		runAsk()
	case "analyze":
		runAnalyze()
	case "delete":
		runDelete()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("legalyze version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads config, creates the logger and opens every component.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger, *Components) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return cfg, resolved, logger, components
}

func outputFormat(v string) cli.OutputFormat {
	switch v {
	case "json":
		return cli.OutputJSON
	case "text", "":
		return cli.OutputText
	default:
		fatalf("Unknown output format %q; use text or json", v)
		return cli.OutputText
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()

	model, err := newChatModel(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create completion client", zap.Error(err))
	}
	chat := components.ChatService(model)
	analyzer := components.Analyzer(model, cfg)

	idx := components.Indexer
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(ev watcher.Event) {
			c, ingested, err := idx.IngestFile(context.Background(), ev.Path, ev.Category)
			if err != nil {
				logger.Warn("inbox ingest failed", zap.String("path", ev.Path), zap.Error(err))
				return
			}
			if ingested {
				logger.Info("inbox contract ingested",
					zap.String("id", c.ID),
					zap.String("path", ev.Path),
					zap.String("category", string(ev.Category)))
			}
		},
		func(ev watcher.Event) {
			err := idx.DeleteContract(context.Background(), fileid.ForPath(ev.Path))
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				logger.Warn("inbox delete failed", zap.String("path", ev.Path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		idx,
		chat,
		analyzer,
		components.Storage,
		cfg,
		logger,
		server.WithWatch(watchSvc, resolvedConfigPath),
		server.WithChunkIndex(components.ChunkIndex),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	components.SaveVectors()
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	category := fs.String("category", "", "contract category (ADMINISTRATIVE, EDUCATIONAL, LEGAL, BUSINESS)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: legalyze ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	info, err := os.Stat(path)
	if err != nil {
		fatalf("Failed to stat path: %v", err)
	}

	cfg, _, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	defer components.SaveVectors()

	ctx := context.Background()
	cat := models.ParseCategory(*category)
	idx := components.Indexer
	if !info.IsDir() {
		c, ingested, err := idx.IngestFile(ctx, path, cat)
		if err != nil {
			fatalf("Ingest failed: %v", err)
		}
		if !ingested {
			fmt.Printf("Unchanged: %s (%s)\n", c.FileName, c.ID)
			return
		}
		color.Green("✓ Ingested %s: %d chunks (%s)\n", c.FileName, c.ChunkCount, c.ID)
		return
	}

	exts := cfg.Watch.Extensions
	total := countFiles(path, func(p string) bool { return idx.Accepts(p, exts) })
	bar := cli.NewProgressBar(os.Stderr, total, "Ingesting")
	var failed []string
	n, err := idx.IngestDirectory(ctx, path, cat, exts, func(p string, err error) {
		_ = bar.Add(1)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", p, err))
		}
	})
	_ = bar.Finish()
	fmt.Println()
	for _, f := range failed {
		color.Red("✗ %s\n", f)
	}
	if err != nil {
		fatalf("Ingesting directory failed: %v", err)
	}
	color.Green("✓ Ingested %d file(s) from %s\n", n, path)
}

// countFiles returns the number of files under dir accepted by match.
func countFiles(dir string, match func(string) bool) int {
	n := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && match(path) {
			n++
		}
		return nil
	})
	return n
}

func runChunk() {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	size := fs.Int("size", indexer.DefaultChunkSize, "chunk size (threshold is size*4 characters)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: legalyze chunk [flags] <file>")
		os.Exit(1)
	}
	chunks, err := chunkFile(fs.Arg(0), *size)
	if err != nil {
		fatalf("Chunking failed: %v", err)
	}
	if err := cli.WriteChunks(os.Stdout, chunks, outputFormat(*output)); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// chunkFile extracts, cleans and chunks a file without touching storage.
func chunkFile(path string, size int) ([]*models.Chunk, error) {
	text, err := extract.NewExtractor().Extract(path)
	if err != nil {
		return nil, err
	}
	return indexer.ChunkDocument(indexer.Preprocess(text), size), nil
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	category := fs.String("category", "", "filter by category")
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 20, "maximum number of contracts")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	filter := models.ContractFilter{Limit: *limit}
	if *category != "" {
		filter.Category = models.ParseCategory(*category)
	}
	if *status != "" {
		st, ok := models.ParseStatus(*status)
		if !ok {
			fatalf("Unknown status: %s", *status)
		}
		filter.Status = st
	}
	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	contracts, err := components.Storage.ListContracts(context.Background(), filter)
	if err != nil {
		fatalf("List failed: %v", err)
	}
	if err := cli.WriteContracts(os.Stdout, contracts, outputFormat(*output)); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runShow() {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: legalyze show [flags] <contract-id>")
		os.Exit(1)
	}
	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	c, err := components.Storage.GetContract(context.Background(), fs.Arg(0))
	if err != nil {
		fatalf("Show failed: %v", err)
	}
	if err := cli.WriteContract(os.Stdout, c, outputFormat(*output)); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// buildQuery joins all positional args with spaces so multi-word queries work the same with
// or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the positional arguments to the front so that
// flag.Parse sees them. The flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	contractID := fs.String("contract", "", "restrict to one contract")
	limit := fs.Int("limit", 10, "number of results")
	kwEnabled := fs.Bool("keyword", true, "enable keyword search")
	semEnabled := fs.Bool("semantic", true, "enable semantic search")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: legalyze search [flags] <query>")
		os.Exit(1)
	}
	format := outputFormat(*output)
	searchQuery := &models.SearchQuery{
		Query:           query,
		ContractID:      *contractID,
		Limit:           *limit,
		KeywordEnabled:  *kwEnabled,
		SemanticEnabled: *semEnabled,
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		// The server holds the bleve lock, so go through its API when it is running.
		var err error
		response, err = searchViaHTTP(*serverURL, searchQuery)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
	} else {
		_, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		response, err = components.Engine.Search(context.Background(), searchQuery)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fmt.Println("Usage: legalyze ask [flags] <contract-id> <question>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	question := buildQuery(fs.Args()[1:])

	cfg, _, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	model, err := newChatModel(cfg, logger)
	if err != nil {
		fatalf("Failed to create completion client: %v", err)
	}

	history := []models.ChatTurn{{Role: models.RoleUser, Content: question}}
	answer, err := components.ChatService(model).Ask(context.Background(), id, history, func(delta string) error {
		_, err := fmt.Print(delta)
		return err
	})
	fmt.Println()
	if err != nil {
		fatalf("Ask failed: %v", err)
	}
	color.New(color.Faint).Printf("grounded on: %s\n", strings.Join(answer.ChunksUsed, ", "))
}

func runAnalyze() {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: legalyze analyze [flags] <contract-id>")
		os.Exit(1)
	}
	format := outputFormat(*output)
	cfg, _, logger, components := setup(*configPath, *debug)
	defer logger.Sync()
	defer components.Close()
	model, err := newChatModel(cfg, logger)
	if err != nil {
		fatalf("Failed to create completion client: %v", err)
	}

	ctx := context.Background()
	id := fs.Arg(0)
	if _, err := components.Analyzer(model, cfg).Analyze(ctx, id); err != nil {
		fatalf("Analysis failed: %v", err)
	}
	c, err := components.Storage.GetContract(ctx, id)
	if err != nil {
		fatalf("Failed to load contract: %v", err)
	}
	if err := cli.WriteContract(os.Stdout, c, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: legalyze delete [flags] <contract-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)
	_, _, logger, components := setup(*configPath, false)
	defer logger.Sync()
	defer components.Close()

	if err := components.Indexer.DeleteContract(context.Background(), id); err != nil {
		fatalf("Deletion failed: %v", err)
	}
	components.SaveVectors()
	fmt.Printf("Contract deleted: %s\n", id)
}

// statusConfigResponse holds configuration info returned by status.
type statusConfigResponse struct {
	StorageDriver       string `json:"storage_driver"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	ChunkSize           int    `json:"chunk_size,omitempty"`
	TopK                int    `json:"top_k,omitempty"`
	CompletionModel     string `json:"completion_model,omitempty"`
	DatabasePath        string `json:"database_path,omitempty"`
	BleveIndexPath      string `json:"bleve_index_path,omitempty"`
	VectorIndexPath     string `json:"vector_index_path,omitempty"`
	UploadDir           string `json:"upload_dir,omitempty"`
}

// statusResponse is the shape of the GET /api/v1/status response.
type statusResponse struct {
	Contracts       int64                 `json:"contracts"`
	Chunks          int64                 `json:"chunks"`
	Messages        int64                 `json:"messages"`
	VectorIndexSize int                   `json:"vector_index_size"`
	DiskUsageBytes  *int64                `json:"disk_usage_bytes,omitempty"`
	Config          *statusConfigResponse `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := outputFormat(*output)

	var status *statusResponse
	if *serverURL != "" {
		var err error
		status, err = statusViaHTTP(*serverURL)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, _, logger, components := setup(*configPath, false)
		defer logger.Sync()
		defer components.Close()
		var err error
		status, err = localStatus(context.Background(), cfg, components)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
	}
	if err := writeStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (*statusResponse, error) {
	contracts, err := c.Storage.CountContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count contracts: %w", err)
	}
	chunks, err := c.Storage.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	messages, err := c.Storage.CountMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	status := &statusResponse{
		Contracts:       contracts,
		Chunks:          chunks,
		Messages:        messages,
		VectorIndexSize: c.ChunkIndex.Size(),
		Config: &statusConfigResponse{
			StorageDriver:       cfg.Storage.Driver,
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			ChunkSize:           cfg.Chunking.ChunkSize,
			TopK:                cfg.Retrieval.TopK,
			CompletionModel:     cfg.Completion.Model,
			DatabasePath:        cfg.Storage.DatabasePath,
			BleveIndexPath:      cfg.Storage.BleveIndexPath,
			VectorIndexPath:     cfg.Storage.VectorIndexPath,
			UploadDir:           cfg.Storage.UploadDir,
		},
	}
	if usage, err := storage.DiskUsage(cfg.Storage); err == nil {
		total := usage.Total()
		status.DiskUsageBytes = &total
	}
	return status, nil
}

func writeStatus(w io.Writer, status *statusResponse, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(w, "contracts:          %d\n", status.Contracts)
	fmt.Fprintf(w, "chunks:             %d\n", status.Chunks)
	fmt.Fprintf(w, "messages:           %d\n", status.Messages)
	fmt.Fprintf(w, "vector_index_size:  %d\n", status.VectorIndexSize)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
	}
	if c := status.Config; c != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		fmt.Fprintf(w, "storage_driver:     %s\n", c.StorageDriver)
		fmt.Fprintf(w, "embedding_provider: %s\n", c.EmbeddingProvider)
		if c.EmbeddingDimensions > 0 {
			fmt.Fprintf(w, "embedding_dims:     %d\n", c.EmbeddingDimensions)
		}
		if c.ChunkSize > 0 {
			fmt.Fprintf(w, "chunk_size:         %d\n", c.ChunkSize)
		}
		if c.TopK > 0 {
			fmt.Fprintf(w, "top_k:              %d\n", c.TopK)
		}
		if c.CompletionModel != "" {
			fmt.Fprintf(w, "completion_model:   %s\n", c.CompletionModel)
		}
		if c.DatabasePath != "" {
			fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
		}
		if c.BleveIndexPath != "" {
			fmt.Fprintf(w, "bleve_index_path:   %s\n", c.BleveIndexPath)
		}
		if c.VectorIndexPath != "" {
			fmt.Fprintf(w, "vector_index_path:  %s\n", c.VectorIndexPath)
		}
		if c.UploadDir != "" {
			fmt.Fprintf(w, "upload_dir:         %s\n", c.UploadDir)
		}
	}
	return nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	ChunkIndex   *vector.MemoryIndex
	KeywordIndex keyword.KeywordIndex
	Engine       *search.Engine
	Indexer      *indexer.Indexer

	retrieval  config.RetrievalConfig
	vectorPath string
	logger     *zap.Logger
}

// ChatService returns the document chat service backed by model.
func (c *Components) ChatService(model llm.ChatModel) *rag.Service {
	counter, err := rag.NewTokenCounter()
	if err != nil {
		c.logger.Warn("tiktoken unavailable, estimating token counts", zap.Error(err))
	}
	return rag.NewService(c.Storage, c.Embedder, c.ChunkIndex, model, c.retrieval,
		rag.WithWarmer(c.Indexer),
		rag.WithTokenCounter(counter),
		rag.WithLogger(c.logger))
}

// Analyzer returns the risk analyzer backed by model.
func (c *Components) Analyzer(model llm.ChatModel, cfg *config.Config) *analysis.Analyzer {
	return analysis.NewAnalyzer(c.Storage, model,
		analysis.WithModelName(cfg.Completion.AnalysisModel),
		analysis.WithLogger(c.logger))
}

// SaveVectors persists the vector index so the next start does not rebuild it from storage.
func (c *Components) SaveVectors() {
	if c.ChunkIndex == nil || c.vectorPath == "" {
		return
	}
	if err := c.ChunkIndex.Save(c.vectorPath); err != nil {
		c.logger.Warn("vector index save failed", zap.String("path", c.vectorPath), zap.Error(err))
	}
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.ChunkIndex != nil {
		_ = c.ChunkIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

func newChatModel(cfg *config.Config, logger *zap.Logger) (*llm.Client, error) {
	return llm.NewClient(cfg.Completion, llm.WithLogger(logger))
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.Open(ctx, cfg.Storage, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: store, vectorPath: cfg.Storage.VectorIndexPath, logger: logger}

	c.Embedder, err = embedding.New(cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.ChunkIndex, err = vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if err := c.ChunkIndex.Load(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index load skipped, rebuilding from storage",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw

	c.Engine = search.NewEngine(store, c.Embedder, c.ChunkIndex, kw, &cfg.Retrieval, search.WithLogger(logger))
	c.Indexer = indexer.NewIndexer(store, c.Embedder, c.ChunkIndex, kw, cfg, extract.NewExtractor(), indexer.WithLogger(logger))
	c.retrieval = cfg.Retrieval

	loaded, err := c.Indexer.Warm(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to warm indices: %w", err)
	}
	logger.Debug("indices ready",
		zap.Int("contracts_loaded", loaded),
		zap.Int("vector_index_size", c.ChunkIndex.Size()))
	return c, nil
}

func printUsage() {
	fmt.Println(`legalyze - contract analysis with risk flags and document chat

Usage:
  legalyze server [flags]                 Start the HTTP server and inbox watcher
  legalyze ingest [flags] <file-or-dir>   Ingest contracts (extract, chunk, embed, index)
  legalyze chunk [flags] <file>           Show how a file is chunked, without storing it
  legalyze list [flags]                   List contracts
  legalyze show [flags] <id>              Show a contract with its analysis
  legalyze search [flags] <query>         Search chunks across contracts
  legalyze ask [flags] <id> <question>    Ask a question about a contract
  legalyze analyze [flags] <id>           Run the risk analysis of a contract
  legalyze delete [flags] <id>            Delete a contract
  legalyze status [flags]                 Show storage and index status
  legalyze version                        Show version
  legalyze help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/legalyze/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging
  --output string    Output format: text or json (list, show, search, analyze, status, chunk)

Ingest Flags:
  --category string  ADMINISTRATIVE, EDUCATIONAL, LEGAL (default) or BUSINESS

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --contract string  Restrict results to one contract
  --limit int        Number of results (default: 10)
  --keyword          Enable keyword search (default: true)
  --semantic         Enable semantic search (default: true)

Environment:
  GROQ_API_KEY       API key for the completion endpoint (required by server, ask, analyze)

Examples:
  legalyze server
  legalyze ingest --category business ./contracts
  legalyze chunk lease.pdf
  legalyze analyze file:3f2a...
  legalyze ask file:3f2a... "Can the landlord terminate without notice?"
  legalyze search --output json "non-compete"
  legalyze status --server ""`)
}
