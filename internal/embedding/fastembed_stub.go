//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

var errFastEmbedUnavailable = errors.New("fastembed embedder requires CGO; use the remote backend instead")

// FastEmbedEmbedder stub type when built without CGO (see fastembed.go).
type FastEmbedEmbedder struct{}

// NewFastEmbedEmbedder returns an error when built without CGO.
func NewFastEmbedEmbedder(_, _ string, _ int) (*FastEmbedEmbedder, error) {
	return nil, errFastEmbedUnavailable
}

func (e *FastEmbedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errFastEmbedUnavailable
}

func (e *FastEmbedEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errFastEmbedUnavailable
}

func (e *FastEmbedEmbedder) Dimensions() int { return 0 }
func (e *FastEmbedEmbedder) ModelID() string { return "" }
func (e *FastEmbedEmbedder) Close() error    { return nil }
