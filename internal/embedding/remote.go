package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// RemoteEmbedder calls an OpenAI-compatible embeddings endpoint (TEI, Ollama,
// vLLM, OpenAI). Requests are rate limited before they leave the process.
type RemoteEmbedder struct {
	embedder   embeddings.Embedder
	limiter    *rate.Limiter
	modelID    string
	dimensions int
}

// RemoteOptions configures a RemoteEmbedder.
type RemoteOptions struct {
	BaseURL    string
	Token      string
	ModelID    string
	Dimensions int
	BatchSize  int
	// RateLimit is requests per second; zero or less disables limiting.
	RateLimit float64
}

// NewRemoteEmbedder creates an embedder for the endpoint in opts.
func NewRemoteEmbedder(opts RemoteOptions) (*RemoteEmbedder, error) {
	token := opts.Token
	if token == "" {
		// Local OpenAI-compatible services ignore the token but the client requires one.
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(opts.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(opts.ModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	embOpts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if opts.BatchSize > 0 {
		embOpts = append(embOpts, embeddings.WithBatchSize(opts.BatchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, embOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &RemoteEmbedder{
		embedder:   embedder,
		limiter:    rate.NewLimiter(limit, 1),
		modelID:    opts.ModelID,
		dimensions: opts.Dimensions,
	}, nil
}

// Embed embeds a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.embedder.EmbedQuery(ctx, text)
}

// EmbedBatch embeds texts in one request per provider batch.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.embedder.EmbedDocuments(ctx, texts)
}

func (e *RemoteEmbedder) Dimensions() int { return e.dimensions }
func (e *RemoteEmbedder) ModelID() string { return e.modelID }

// Close is a no-op; the HTTP client holds no resources worth releasing.
func (e *RemoteEmbedder) Close() error { return nil }
