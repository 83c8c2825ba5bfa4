//go:build cgo

package embedding

import (
	"context"
	"fmt"

	fastembed "github.com/anush008/fastembed-go"
)

// fastEmbedModels maps model IDs to fastembed model constants and dimensions.
var fastEmbedModels = map[string]struct {
	model fastembed.EmbeddingModel
	dim   int
}{
	"sentence-transformers/all-MiniLM-L6-v2": {fastembed.AllMiniLML6V2, 384},
	"BAAI/bge-small-en-v1.5":                 {fastembed.BGESmallENV15, 384},
	"BAAI/bge-small-en":                      {fastembed.BGESmallEN, 384},
	"BAAI/bge-base-en-v1.5":                  {fastembed.BGEBaseENV15, 768},
	"BAAI/bge-base-en":                       {fastembed.BGEBaseEN, 768},
}

// FastEmbedEmbedder runs a local fastembed ONNX model.
type FastEmbedEmbedder struct {
	model      *fastembed.FlagEmbedding
	modelID    string
	dimensions int
	batchSize  int
}

// NewFastEmbedEmbedder loads modelID, downloading it into cacheDir on first use.
func NewFastEmbedEmbedder(modelID, cacheDir string, maxLength int) (*FastEmbedEmbedder, error) {
	known, ok := fastEmbedModels[modelID]
	if !ok {
		return nil, fmt.Errorf("unsupported fastembed model %q", modelID)
	}
	if maxLength <= 0 {
		maxLength = 512
	}
	showProgress := false
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                known.model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}
	return &FastEmbedEmbedder{
		model:      model,
		modelID:    modelID,
		dimensions: known.dim,
		batchSize:  256,
	}, nil
}

// Embed embeds a single passage.
func (e *FastEmbedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds passages.
func (e *FastEmbedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs, err := e.model.PassageEmbed(texts, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fastembed passage embedding: %w", err)
	}
	return vecs, nil
}

// EmbedQueries embeds queries with the model's query instruction.
func (e *FastEmbedEmbedder) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.model.QueryEmbed(text)
		if err != nil {
			return nil, fmt.Errorf("fastembed query embedding: %w", err)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *FastEmbedEmbedder) Dimensions() int { return e.dimensions }
func (e *FastEmbedEmbedder) ModelID() string { return e.modelID }

// Close releases the ONNX session.
func (e *FastEmbedEmbedder) Close() error {
	if e.model != nil {
		err := e.model.Destroy()
		e.model = nil
		return err
	}
	return nil
}
