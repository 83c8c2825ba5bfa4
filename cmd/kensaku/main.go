// Package main is the Kensaku CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/cli"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/server"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/watcher"
	"github.com/hyperjump/kensaku/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kensaku/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kensaku server" from the project dir uses the project's config.
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
	case "retrieve":
		runRetrieve()
	case "ingest":
		runIngest()
	case "clear":
		runClear()
	case "batches":
		runBatches()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kensaku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// openDirect loads config and initializes components for commands that run
// without a server. The returned cleanup syncs the logger and closes everything.
func openDirect(configPath string) (*Components, *config.Config, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return components, cfg, func() {
		components.Close()
		_ = logger.Sync()
	}
}

func exitOnErr(what string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.ConfigReload {
		reloader := watcher.NewPolicyReloader(components.Retriever, logger)
		w := reloader.Watch(resolvedConfigPath, watcher.WithLogger(logger))
		if err := w.Start(watchCtx); err != nil {
			logger.Warn("config reload disabled", zap.String("path", resolvedConfigPath), zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	srv := server.NewServer(server.Deps{
		Encoder:   components.Encoder,
		Stores:    components.Stores,
		Indexer:   components.Indexer,
		Retriever: components.Retriever,
		Ledger:    components.Ledger,
	}, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil {
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
}

// printRetrieveUsage prints retrieve subcommand usage.
func printRetrieveUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kensaku retrieve --tenant <id> [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kensaku retrieve --tenant acme invoice total
  kensaku retrieve --tenant acme "invoice total" --max 3
  kensaku retrieve --tenant acme --server "" invoice   # direct storage
  kensaku retrieve --tenant acme --output json invoice
`)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "kensaku retrieve invoice --max 3"
// would otherwise leave --max unparsed.
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

func runRetrieve() {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage when server is not running)")
	tenant := fs.String("tenant", "", "tenant to query (required)")
	maxResults := fs.Int("max", 0, "maximum number of results (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printRetrieveUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" || *tenant == "" {
		printRetrieveUsage(fs)
		os.Exit(1)
	}
	format := cli.ParseOutputFormat(*outputFormat)
	q := models.RetrieveQuery{Query: query, TenantID: *tenant, MaxResults: *maxResults}

	var response *models.RetrieveResponse
	if *serverURL != "" {
		// The server holds the store files open; go through it when it runs.
		var err error
		response, err = retrieveViaHTTP(*serverURL, q)
		exitOnErr("Retrieve failed", err)
	} else {
		components, _, cleanup := openDirect(*configPath)
		defer cleanup()
		response = components.Retriever.Retrieve(context.Background(), q)
	}

	exitOnErr("Output failed", cli.WriteRetrieveResponse(os.Stdout, response, format))
	if !response.Success {
		os.Exit(1)
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	tenant := fs.String("tenant", "", "tenant to ingest into (required)")
	batchID := fs.String("batch", "", "batch id (generated when empty)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 1 || *tenant == "" {
		fmt.Println("Usage: kensaku ingest --tenant <id> [--batch <id>] <file|->")
		os.Exit(1)
	}
	chunks, err := readChunksFile(fs.Arg(0))
	exitOnErr("Failed to read chunks", err)

	var result *models.AddResult
	if *serverURL != "" {
		result, err = ingestViaHTTP(*serverURL, *tenant, *batchID, chunks)
	} else {
		components, _, cleanup := openDirect(*configPath)
		defer cleanup()
		result, err = components.Indexer.IndexChunks(context.Background(), *tenant, *batchID, chunks)
	}
	exitOnErr("Ingest failed", err)
	exitOnErr("Output failed", cli.WriteAddResult(os.Stdout, *tenant, result, cli.ParseOutputFormat(*outputFormat)))
}

func readChunksFile(path string) ([]models.TextChunk, error) {
	if path == "-" {
		return readChunks(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readChunks(f)
}

// readChunks parses a JSON array of chunks, a stream of JSON chunk objects
// (one per line), or plain text with one chunk per non-empty line.
func readChunks(r io.Reader) ([]models.TextChunk, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var chunks []models.TextChunk
		if err := json.Unmarshal(trimmed, &chunks); err != nil {
			return nil, fmt.Errorf("parse chunk array: %w", err)
		}
		return chunks, nil
	case '{':
		var chunks []models.TextChunk
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		for {
			var c models.TextChunk
			err := dec.Decode(&c)
			if err == io.EOF {
				return chunks, nil
			}
			if err != nil {
				return nil, fmt.Errorf("parse chunk %d: %w", len(chunks)+1, err)
			}
			chunks = append(chunks, c)
		}
	}
	var chunks []models.TextChunk
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			chunks = append(chunks, models.TextChunk{Text: line})
		}
	}
	return chunks, scanner.Err()
}

func runClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	tenant := fs.String("tenant", "", "tenant to clear (required)")
	_ = fs.Parse(os.Args[2:])

	if *tenant == "" {
		fmt.Println("Usage: kensaku clear --tenant <id>")
		os.Exit(1)
	}
	var err error
	if *serverURL != "" {
		err = clearViaHTTP(*serverURL, *tenant)
	} else {
		components, _, cleanup := openDirect(*configPath)
		defer cleanup()
		err = components.Indexer.Clear(context.Background(), *tenant)
	}
	exitOnErr("Clear failed", err)
	fmt.Printf("Tenant cleared: %s\n", *tenant)
}

func runBatches() {
	fs := flag.NewFlagSet("batches", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	tenant := fs.String("tenant", "", "tenant to list (required)")
	offset := fs.Int("offset", 0, "records to skip")
	limit := fs.Int("limit", 20, "records to show")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *tenant == "" {
		fmt.Println("Usage: kensaku batches --tenant <id> [--offset n] [--limit n]")
		os.Exit(1)
	}
	var (
		batches []*models.BatchRecord
		err     error
	)
	if *serverURL != "" {
		batches, err = batchesViaHTTP(*serverURL, *tenant, *offset, *limit)
	} else {
		components, _, cleanup := openDirect(*configPath)
		defer cleanup()
		batches, err = components.Ledger.ListBatches(context.Background(), *tenant, *offset, *limit)
	}
	exitOnErr("Listing batches failed", err)
	exitOnErr("Output failed", cli.WriteBatches(os.Stdout, batches, cli.ParseOutputFormat(*outputFormat)))
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *cli.Status
	if *serverURL != "" {
		var err error
		status, err = statusViaHTTP(*serverURL)
		exitOnErr("Status failed", err)
	} else {
		components, cfg, cleanup := openDirect(*configPath)
		defer cleanup()
		status = &cli.Status{
			DataDir:    components.Stores.DataDir(),
			Model:      components.Encoder.ModelID(),
			Dimensions: components.Encoder.Dimensions(),
			Tenants:    components.Stores.Stats(),
		}
		if usage, err := storage.MeasureUsage(cfg.Storage.DataDir, cfg.Storage.LedgerPath, cfg.Storage.CachePath); err == nil {
			status.DiskUsageBytes = usage.Total
		}
	}
	exitOnErr("Output failed", cli.WriteStatus(os.Stdout, status, cli.ParseOutputFormat(*outputFormat)))
}

func printUsage() {
	fmt.Println(`kensaku - Multi-tenant hybrid retrieval engine

Usage:
  kensaku server [flags]                      Start the HTTP server
  kensaku retrieve --tenant <id> <query>      Retrieve ranked chunks for a query
  kensaku ingest --tenant <id> <file|->       Embed and store chunks (JSON array, JSON lines, or text lines)
  kensaku clear --tenant <id>                 Remove every vector of a tenant
  kensaku batches --tenant <id>               List a tenant's ingestion history
  kensaku status [flags]                      Show store and model status
  kensaku version                             Show version
  kensaku help                                Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kensaku/config.yaml)
  --debug            Enable debug logging

Client Flags (retrieve, ingest, clear, batches, status):
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    Output format: text or json (default: text)

Retrieve Flags:
  --tenant string    Tenant to query
  --max int          Maximum results (default from config)

Ingest Flags:
  --tenant string    Tenant to ingest into
  --batch string     Batch id (generated when empty)

Examples:
  kensaku server
  kensaku ingest --tenant acme chunks.jsonl
  kensaku retrieve --tenant acme "invoice total"
  kensaku retrieve --tenant acme --output json invoice total
  kensaku batches --tenant acme --limit 5
  kensaku clear --tenant acme
  kensaku status`)
}
