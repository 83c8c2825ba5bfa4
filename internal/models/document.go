// Package models defines core data structures for chunks, index entries, queries, and results.
package models

import "time"

// TextChunk is a fragment of extracted document text handed to the retrieval
// core by the ingestion pipeline. It is never mutated after construction.
type TextChunk struct {
	Text string    `json:"text"`
	Page int       `json:"page,omitempty"`
	BBox []float64 `json:"bbox,omitempty"`
	// UpstreamConfidence is the extraction quality signal in [0,1]. Values
	// above 1 are read as percentages.
	UpstreamConfidence *float64 `json:"upstream_confidence,omitempty"`
	SourceMethod       string   `json:"source_method,omitempty"`
	// ConsensusEngines is the number of extraction engines that agreed on
	// the text; zero means no consensus signal.
	ConsensusEngines int            `json:"consensus_engines,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// IndexEntry is the metadata record paired with one stored vector.
// VectorID is the only join key between the similarity index and metadata.
type IndexEntry struct {
	VectorID           uint64         `json:"vector_id"`
	TenantID           string         `json:"tenant_id"`
	Text               string         `json:"text"`
	BatchID            string         `json:"upload_batch_id"`
	AddedAt            time.Time      `json:"added_at"`
	Page               int            `json:"page,omitempty"`
	BBox               []float64      `json:"bbox,omitempty"`
	UpstreamConfidence *float64       `json:"upstream_confidence,omitempty"`
	SourceMethod       string         `json:"source_method,omitempty"`
	ConsensusEngines   int            `json:"consensus_engines,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// NewIndexEntry builds the metadata record for chunk.
func NewIndexEntry(id uint64, tenantID, batchID string, chunk TextChunk, addedAt time.Time) IndexEntry {
	return IndexEntry{
		VectorID:           id,
		TenantID:           tenantID,
		Text:               chunk.Text,
		BatchID:            batchID,
		AddedAt:            addedAt,
		Page:               chunk.Page,
		BBox:               chunk.BBox,
		UpstreamConfidence: chunk.UpstreamConfidence,
		SourceMethod:       chunk.SourceMethod,
		ConsensusEngines:   chunk.ConsensusEngines,
		Metadata:           chunk.Metadata,
	}
}

// NormalizedUpstream returns the upstream confidence in [0,1] and whether one was present.
func (e *IndexEntry) NormalizedUpstream() (float64, bool) {
	if e.UpstreamConfidence == nil {
		return 0, false
	}
	v := *e.UpstreamConfidence
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, true
}
