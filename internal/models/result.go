package models

import "time"

// AddResult reports the outcome of adding a batch to a tenant store.
type AddResult struct {
	VectorsAdded int    `json:"vectors_added"`
	TotalVectors int    `json:"total_vectors"`
	BatchID      string `json:"batch_id,omitempty"`
}

// SearchHit is one vector store match.
type SearchHit struct {
	Entry           IndexEntry `json:"entry"`
	SimilarityScore float64    `json:"similarity_score"`
	Rank            int        `json:"rank"`
}

// RetrievedDocument is one ranked retrieval result.
type RetrievedDocument struct {
	VectorID        uint64  `json:"vector_id"`
	Text            string  `json:"text"`
	Page            int     `json:"page,omitempty"`
	BatchID         string  `json:"upload_batch_id,omitempty"`
	SourceMethod    string  `json:"source_method,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
	KeywordScore    float64 `json:"keyword_score"`
	HybridScore     float64 `json:"hybrid_score"`
	PhraseMatch     bool    `json:"phrase_match,omitempty"`
	Confidence      float64 `json:"confidence"`
	RelevanceRank   int     `json:"relevance_rank"`
}

// Search methods reported in RetrieveResponse.SearchMethod.
const (
	SearchMethodHybrid   = "hybrid"
	SearchMethodSemantic = "semantic"
)

// RetrieveResponse is the structured result of a retrieve call. Failures are
// reported through Success, Error, and ErrorKind rather than a Go error.
type RetrieveResponse struct {
	Success      bool                 `json:"success"`
	Documents    []*RetrievedDocument `json:"documents"`
	SearchMethod string               `json:"search_method,omitempty"`
	Query        string               `json:"query"`
	TenantID     string               `json:"tenant_id"`
	TotalResults int                  `json:"total_results"`
	QueryTime    int64                `json:"query_time_ms"`
	Warning      string               `json:"warning,omitempty"`
	Error        string               `json:"error,omitempty"`
	ErrorKind    string               `json:"error_kind,omitempty"`
	ErrorCode    string               `json:"error_code,omitempty"`
	Retryable    bool                 `json:"retryable,omitempty"`
}

// Batch event kinds recorded in the ingestion ledger.
const (
	BatchEventAdd   = "add"
	BatchEventClear = "clear"
)

// BatchRecord is one ingestion ledger row.
type BatchRecord struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenant_id"`
	BatchID      string    `json:"batch_id,omitempty"`
	Event        string    `json:"event"`
	VectorsAdded int       `json:"vectors_added"`
	TotalVectors int       `json:"total_vectors"`
	CreatedAt    time.Time `json:"created_at"`
}
