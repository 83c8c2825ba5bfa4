package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/server"
	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"invoice total", "--max", "3"},
			expected: []string{"--max", "3", "invoice total"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--tenant", "acme", "invoice total"},
			expected: []string{"--tenant", "acme", "invoice total"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"invoice total"},
			expected: []string{"invoice total"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"invoice", "total", "--tenant", "acme"},
			expected: []string{"--tenant", "acme", "invoice", "total"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder(%q) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"invoice", "total"}, "invoice total"},
		{[]string{"invoice total"}, "invoice total"},
		{[]string{"  padded  "}, "padded"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := buildQuery(tt.args); got != tt.want {
			t.Errorf("buildQuery(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestReadChunks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"json array", `[{"text":"first"},{"text":"second","page":2}]`, []string{"first", "second"}},
		{"json lines", "{\"text\":\"first\"}\n{\"text\":\"second\"}\n", []string{"first", "second"}},
		{"plain text", "first line\n\n  second line  \n", []string{"first line", "second line"}},
		{"empty", "  \n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := readChunks(strings.NewReader(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, c := range chunks {
				got = append(got, c.Text)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("readChunks texts = %q, want %q", got, tt.want)
			}
		})
	}

	chunks, err := readChunks(strings.NewReader(`[{"text":"p","page":4,"upstream_confidence":87}]`))
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Page != 4 || chunks[0].UpstreamConfidence == nil || *chunks[0].UpstreamConfidence != 87 {
		t.Errorf("chunk fields not decoded: %+v", chunks[0])
	}

	if _, err := readChunks(strings.NewReader(`[{"text":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
embedding:
  backend: mock
  dimensions: 16
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
embedding:
  backend: mock
  dimensions: 16
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func testConfig(t *testing.T, withDiskCache bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	content := `
embedding:
  backend: mock
  dimensions: 32
storage:
  data_dir: ./stores
  ledger_path: ./ledger.db
`
	if withDiskCache {
		content += "  cache_path: ./cache\n"
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

var sampleChunks = []models.TextChunk{
	{Text: "invoice total amount due"},
	{Text: "weather forecast tomorrow"},
	{Text: "invoice sent to customer"},
}

func TestInitializeComponents_IngestAndRetrieve(t *testing.T) {
	cfg := testConfig(t, true)
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	res, err := c.Indexer.IndexChunks(ctx, "acme", "b1", sampleChunks)
	if err != nil {
		t.Fatal(err)
	}
	if res.VectorsAdded != 3 || res.TotalVectors != 3 {
		t.Errorf("unexpected add result %+v", res)
	}

	resp := c.Retriever.Retrieve(ctx, models.RetrieveQuery{Query: "invoice total", TenantID: "acme", MaxResults: 2})
	if !resp.Success {
		t.Fatalf("retrieve failed: %s", resp.Error)
	}
	if len(resp.Documents) == 0 || resp.Documents[0].Text != "invoice total amount due" {
		t.Errorf("unexpected documents %+v", resp.Documents)
	}

	batches, err := c.Ledger.ListBatches(ctx, "acme", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 || batches[0].BatchID != "b1" {
		t.Errorf("unexpected ledger %+v", batches)
	}
}

func TestInitializeComponents_PersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t, false)
	ctx := context.Background()

	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Indexer.IndexChunks(ctx, "acme", "", sampleChunks); err != nil {
		t.Fatal(err)
	}
	c.Close()

	c, err = initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	store, err := c.Stores.Store(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if store.Count() != 3 {
		t.Errorf("count after restart = %d, want 3", store.Count())
	}
}

func TestInitializeComponents_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Embedding.Backend = "nonexistent"
	if _, err := initializeComponents(cfg, zap.NewNop()); err == nil {
		t.Error("expected error for unknown embedding backend")
	}
}

func TestInitializeComponents_FailsWhenRemoteEmbedderUnreachable(t *testing.T) {
	cfg := testConfig(t, false)
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	cfg.Embedding.Backend = "remote"
	cfg.Embedding.RemoteURL = down.URL + "/v1"
	cfg.Embedding.CallTimeout = 2 * time.Second

	c, err := initializeComponents(cfg, zap.NewNop())
	if err == nil {
		c.Close()
		t.Fatal("expected startup to fail against an unreachable embedding endpoint")
	}
	if code := kerrors.CodeOf(err); code != kerrors.CodeModelUnavailable {
		t.Errorf("error code = %q, want %q (%v)", code, kerrors.CodeModelUnavailable, err)
	}
	if _, statErr := os.Stat(cfg.Storage.LedgerPath); !os.IsNotExist(statErr) {
		t.Errorf("ledger should not be created when the embedder is down: %v", statErr)
	}
}

func TestHTTPClient(t *testing.T) {
	cfg := testConfig(t, false)
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	srv := server.NewServer(server.Deps{
		Encoder:   c.Encoder,
		Stores:    c.Stores,
		Indexer:   c.Indexer,
		Retriever: c.Retriever,
		Ledger:    c.Ledger,
	}, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	res, err := ingestViaHTTP(ts.URL, "acme", "batch-1", sampleChunks)
	if err != nil {
		t.Fatal(err)
	}
	if res.VectorsAdded != 3 || res.BatchID != "batch-1" {
		t.Errorf("unexpected add result %+v", res)
	}

	resp, err := retrieveViaHTTP(ts.URL, models.RetrieveQuery{Query: "invoice total", TenantID: "acme", MaxResults: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || len(resp.Documents) == 0 {
		t.Errorf("unexpected retrieve response %+v", resp)
	}

	resp, err = retrieveViaHTTP(ts.URL, models.RetrieveQuery{Query: "", TenantID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success || resp.ErrorKind != "empty_query" {
		t.Errorf("expected empty_query failure, got %+v", resp)
	}

	batches, err := batchesViaHTTP(ts.URL, "acme", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Errorf("batches = %d, want 1", len(batches))
	}

	status, err := statusViaHTTP(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if status.Dimensions != 32 || len(status.Tenants) != 1 || status.Tenants[0].Vectors != 3 {
		t.Errorf("unexpected status %+v", status)
	}

	if err := clearViaHTTP(ts.URL, "acme"); err != nil {
		t.Fatal(err)
	}
	if _, err := ingestViaHTTP(ts.URL, "../bad", "", sampleChunks); err == nil {
		t.Error("expected error for invalid tenant")
	}
}
