package embedding

import (
	"fmt"

	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

// Options selects and configures an embedding backend.
type Options struct {
	Backend           string
	ModelID           string
	ModelPath         string
	Dimensions        int
	MaxTokens         int
	BatchSize         int
	RemoteURL         string
	RemoteToken       string
	RateLimit         float64
	FastEmbedCacheDir string
}

// NewEmbedder creates the backend named by opts.Backend: "onnx", "fastembed",
// "remote", or "mock". Initialization failures carry CodeModelUnavailable.
func NewEmbedder(opts Options) (Embedder, error) {
	e, err := newBackend(opts)
	if err != nil {
		if kerrors.CodeOf(err) != "" {
			return nil, err
		}
		return nil, kerrors.Wrapf(err, kerrors.CodeModelUnavailable, "initialize %s embedder", opts.Backend)
	}
	return e, nil
}

func newBackend(opts Options) (Embedder, error) {
	switch opts.Backend {
	case "onnx", "":
		e, err := NewONNXEmbedder(opts.ModelPath, opts.ModelID, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "fastembed":
		e, err := NewFastEmbedEmbedder(opts.ModelID, opts.FastEmbedCacheDir, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		if opts.Dimensions > 0 && e.Dimensions() != opts.Dimensions {
			_ = e.Close()
			return nil, fmt.Errorf("fastembed model %s has dimension %d, configured %d",
				opts.ModelID, e.Dimensions(), opts.Dimensions)
		}
		return e, nil
	case "remote":
		e, err := NewRemoteEmbedder(RemoteOptions{
			BaseURL:    opts.RemoteURL,
			Token:      opts.RemoteToken,
			ModelID:    opts.ModelID,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			RateLimit:  opts.RateLimit,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mock":
		return NewMockEmbedder(opts.Dimensions), nil
	default:
		return nil, kerrors.Errorf(kerrors.CodeConfigValidateInvalidValue, "unknown embedding backend: %s", opts.Backend)
	}
}
