// Package cli provides output formatting for the kensaku command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vectorstore"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named s; anything but "json" is text.
func ParseOutputFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieveResponse writes a retrieval response to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteRetrieveResponse(w io.Writer, response *models.RetrieveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	writeRetrieveText(w, response)
	return nil
}

func writeRetrieveText(w io.Writer, response *models.RetrieveResponse) {
	if !response.Success {
		fmt.Fprintf(w, "\nRetrieval failed (%s): %s\n", response.ErrorKind, response.Error)
		if response.Retryable {
			fmt.Fprintln(w, "The error is transient; retry later.")
		}
		return
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n", response.TotalResults, response.QueryTime, response.SearchMethod)
	if response.Warning != "" {
		fmt.Fprintf(w, "Warning: %s\n", response.Warning)
	}
	fmt.Fprintln(w)
	for _, doc := range response.Documents {
		writeOneDocument(w, doc)
	}
}

func writeOneDocument(w io.Writer, doc *models.RetrievedDocument) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Semantic: %.4f, Keyword: %.4f) | Confidence: %.2f\n",
		doc.RelevanceRank, doc.HybridScore, doc.SimilarityScore, doc.KeywordScore, doc.Confidence)
	fmt.Fprintf(w, "Vector: %d", doc.VectorID)
	if doc.Page > 0 {
		fmt.Fprintf(w, " | Page: %d", doc.Page)
	}
	if doc.PhraseMatch {
		fmt.Fprint(w, " | phrase match")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(doc.Text, 200))
	fmt.Fprintln(w)
}

// WriteAddResult writes the outcome of an ingest.
func WriteAddResult(w io.Writer, tenantID string, result *models.AddResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "Added %d vectors to %s (batch %s); tenant now holds %d vectors\n",
		result.VectorsAdded, tenantID, result.BatchID, result.TotalVectors)
	return nil
}

// Status is the summary printed by the status command.
type Status struct {
	DataDir        string               `json:"data_dir"`
	Model          string               `json:"embedding_model"`
	Dimensions     int                  `json:"dimensions"`
	DiskUsageBytes int64                `json:"disk_usage_bytes"`
	Tenants        []vectorstore.Health `json:"tenants"`
}

// WriteStatus writes a store status summary.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "Data dir:   %s\n", status.DataDir)
	fmt.Fprintf(w, "Model:      %s (%d dims)\n", status.Model, status.Dimensions)
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(status.DiskUsageBytes))
	fmt.Fprintf(w, "Tenants:    %d\n", len(status.Tenants))
	for _, h := range status.Tenants {
		state := "not loaded"
		if h.Loaded {
			state = fmt.Sprintf("%d vectors", h.Vectors)
			if !h.Consistent {
				state += ", INCONSISTENT"
			}
			if h.Dirty {
				state += ", unsaved changes"
			}
			if h.Recovered {
				state += ", recovered from corruption"
			}
		}
		fmt.Fprintf(w, "  %-24s %s\n", h.TenantID, state)
	}
	return nil
}

// WriteBatches writes ledger records, newest first.
func WriteBatches(w io.Writer, batches []*models.BatchRecord, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, batches)
	}
	if len(batches) == 0 {
		fmt.Fprintln(w, "No batches recorded")
		return nil
	}
	for _, b := range batches {
		switch b.Event {
		case models.BatchEventClear:
			fmt.Fprintf(w, "%s  clear\n", b.CreatedAt.Format("2006-01-02 15:04:05"))
		default:
			fmt.Fprintf(w, "%s  add    %-36s +%d (total %d)\n",
				b.CreatedAt.Format("2006-01-02 15:04:05"), b.BatchID, b.VectorsAdded, b.TotalVectors)
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
