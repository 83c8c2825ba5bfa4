package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vectorstore"
)

func sampleResponse() *models.RetrieveResponse {
	return &models.RetrieveResponse{
		Success:      true,
		Query:        "invoice total",
		TenantID:     "acme",
		SearchMethod: models.SearchMethodHybrid,
		TotalResults: 1,
		QueryTime:    42,
		Documents: []*models.RetrievedDocument{
			{
				VectorID:        7,
				Text:            "Invoice total amount due",
				Page:            3,
				SimilarityScore: 0.8,
				KeywordScore:    1,
				HybridScore:     0.92,
				PhraseMatch:     true,
				Confidence:      0.71,
				RelevanceRank:   1,
			},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := map[string]OutputFormat{
		"json":   OutputJSON,
		" JSON ": OutputJSON,
		"text":   OutputText,
		"":       OutputText,
		"yaml":   OutputText,
	}
	for in, want := range tests {
		if got := ParseOutputFormat(in); got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteRetrieveResponse_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteRetrieveResponse(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteRetrieveResponse(json): %v", err)
	}
	var decoded models.RetrieveResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != 42 {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.QueryTime)
	}
	if len(decoded.Documents) != 1 || decoded.Documents[0].VectorID != 7 {
		t.Errorf("decoded documents: %+v", decoded.Documents)
	}
}

func TestWriteRetrieveResponse_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRetrieveResponse(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatalf("WriteRetrieveResponse(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "42ms", "hybrid", "Rank: 1", "Confidence: 0.71", "Page: 3", "phrase match", "Invoice total amount due"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteRetrieveResponse_textFailure(t *testing.T) {
	response := &models.RetrieveResponse{
		Error:     "embedding backend failed",
		ErrorKind: "model_unavailable",
		Retryable: true,
	}
	var buf bytes.Buffer
	_ = WriteRetrieveResponse(&buf, response, OutputText)
	out := buf.String()
	if !strings.Contains(out, "model_unavailable") || !strings.Contains(out, "retry") {
		t.Errorf("unexpected failure output:\n%s", out)
	}
}

func TestWriteRetrieveResponse_warning(t *testing.T) {
	response := &models.RetrieveResponse{Success: true, Warning: "vector store unavailable"}
	var buf bytes.Buffer
	_ = WriteRetrieveResponse(&buf, response, OutputText)
	if !strings.Contains(buf.String(), "Warning: vector store unavailable") {
		t.Errorf("warning not printed:\n%s", buf.String())
	}
}

func TestWriteAddResult(t *testing.T) {
	res := &models.AddResult{VectorsAdded: 2, TotalVectors: 5, BatchID: "b1"}
	var buf bytes.Buffer
	_ = WriteAddResult(&buf, "acme", res, OutputText)
	if !strings.Contains(buf.String(), "Added 2 vectors to acme (batch b1)") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	_ = WriteAddResult(&buf, "acme", res, OutputJSON)
	var decoded models.AddResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded != *res {
		t.Errorf("decoded %+v, err %v", decoded, err)
	}
}

func TestWriteStatus_text(t *testing.T) {
	status := &Status{
		DataDir:        "/data",
		Model:          "mini",
		Dimensions:     384,
		DiskUsageBytes: 2048,
		Tenants: []vectorstore.Health{
			{TenantID: "acme", Loaded: true, Vectors: 10, Consistent: true, Dirty: true},
			{TenantID: "idle"},
		},
	}
	var buf bytes.Buffer
	_ = WriteStatus(&buf, status, OutputText)
	out := buf.String()
	for _, sub := range []string{"/data", "mini (384 dims)", "2.0 KiB", "Tenants:    2", "10 vectors, unsaved changes", "not loaded"} {
		if !strings.Contains(out, sub) {
			t.Errorf("status output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteBatches(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	batches := []*models.BatchRecord{
		{Event: models.BatchEventClear, CreatedAt: at},
		{Event: models.BatchEventAdd, BatchID: "b1", VectorsAdded: 3, TotalVectors: 3, CreatedAt: at},
	}
	var buf bytes.Buffer
	_ = WriteBatches(&buf, batches, OutputText)
	out := buf.String()
	if !strings.Contains(out, "2026-01-02 03:04:05  clear") || !strings.Contains(out, "+3 (total 3)") {
		t.Errorf("unexpected batches output:\n%s", out)
	}

	buf.Reset()
	_ = WriteBatches(&buf, nil, OutputText)
	if !strings.Contains(buf.String(), "No batches") {
		t.Errorf("unexpected empty output %q", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
