//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/kensaku/pkg/utils"
)

// onnxLibEnv names the onnxruntime shared library when it is not on the default search path.
const onnxLibEnv = "ONNXRUNTIME_LIB_PATH"

// ONNXEmbedder runs a sentence-transformer exported to ONNX and mean-pools its
// last hidden state over the attention mask. Run() reuses pre-allocated
// tensors, so the embedder is not safe for concurrent use; callers go through
// Encoder.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	modelID    string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	hiddenState   *ort.Tensor[float32]
}

// NewONNXEmbedder loads the model at modelPath. The tokenizer comes from a
// vocab.txt beside the model when present.
func NewONNXEmbedder(modelPath, modelID string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx model %s: %w", modelPath, err)
	}
	if dimensions <= 0 || maxTokens <= 1 {
		return nil, fmt.Errorf("invalid onnx shape: dimensions=%d max_tokens=%d", dimensions, maxTokens)
	}
	if !ort.IsInitialized() {
		if lib := os.Getenv(onnxLibEnv); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	tokenizer, err := NewModelTokenizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	e := &ONNXEmbedder{modelID: modelID, dimensions: dimensions, maxTokens: maxTokens, tokenizer: tokenizer}
	seq := ort.NewShape(1, int64(maxTokens))
	if e.inputIDs, err = ort.NewEmptyTensor[int64](seq); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.attentionMask, err = ort.NewEmptyTensor[int64](seq); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDs, err = ort.NewEmptyTensor[int64](seq); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if e.hiddenState, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(maxTokens), int64(dimensions))); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.hiddenState},
		nil,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return e, nil
}

// Embed runs one inference and returns the L2-normalized mean-pooled output.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	emb := meanPool(e.hiddenState.GetData(), mask, e.dimensions)
	utils.NormalizeL2(emb)
	return emb, nil
}

// meanPool averages the hidden rows whose mask is set. hidden is row-major
// [len(mask)][dims].
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	out := make([]float32, dims)
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dims : (t+1)*dims]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}

// EmbedBatch calls Embed for each text, stopping at the first failure.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns the configured model identity.
func (e *ONNXEmbedder) ModelID() string {
	return e.modelID
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []interface{ Destroy() error }{e.inputIDs, e.attentionMask, e.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if e.hiddenState != nil {
		_ = e.hiddenState.Destroy()
	}
	e.inputIDs, e.attentionMask, e.tokenTypeIDs, e.hiddenState = nil, nil, nil, nil
	return err
}
