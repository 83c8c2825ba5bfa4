package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hyperjump/kensaku/internal/cli"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/vectorstore"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

func tenantURL(serverURL, tenantID, suffix string) string {
	return serverURL + "/api/v1/tenants/" + url.PathEscape(tenantID) + suffix
}

// doJSON sends body (when non-nil) as JSON and decodes a 2xx response into out.
func doJSON(method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return serverError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func serverError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e struct {
		Error        string `json:"error"`
		ErrorKind    string `json:"error_kind"`
		VectorsAdded int    `json:"vectors_added"`
		BatchID      string `json:"batch_id"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		if e.VectorsAdded > 0 {
			return fmt.Errorf("server returned %d (%s): %d vectors of batch %s are searchable but not persisted: %s",
				resp.StatusCode, e.ErrorKind, e.VectorsAdded, e.BatchID, e.Error)
		}
		if e.ErrorKind != "" {
			return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, e.ErrorKind, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
}

// retrieveViaHTTP returns the server's response even for failed queries, since
// the body carries the error kind.
func retrieveViaHTTP(serverURL string, q models.RetrieveQuery) (*models.RetrieveResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":       q.Query,
		"max_results": q.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Post(tenantURL(serverURL, q.TenantID, "/retrieve"), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var response models.RetrieveResponse
	if err := json.Unmarshal(b, &response); err != nil {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if !response.Success && response.Error == "" {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	return &response, nil
}

func ingestViaHTTP(serverURL, tenantID, batchID string, chunks []models.TextChunk) (*models.AddResult, error) {
	var result models.AddResult
	req := map[string]interface{}{"batch_id": batchID, "chunks": chunks}
	if err := doJSON(http.MethodPost, tenantURL(serverURL, tenantID, "/chunks"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func clearViaHTTP(serverURL, tenantID string) error {
	return doJSON(http.MethodDelete, tenantURL(serverURL, tenantID, "/chunks"), nil, nil)
}

func batchesViaHTTP(serverURL, tenantID string, offset, limit int) ([]*models.BatchRecord, error) {
	var out struct {
		Batches []*models.BatchRecord `json:"batches"`
	}
	target := fmt.Sprintf("%s?offset=%d&limit=%d", tenantURL(serverURL, tenantID, "/batches"), offset, limit)
	if err := doJSON(http.MethodGet, target, nil, &out); err != nil {
		return nil, err
	}
	return out.Batches, nil
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Tenants        []vectorstore.Health `json:"tenants"`
	Model          string               `json:"embedding_model"`
	Dimensions     int                  `json:"dimensions"`
	DataDir        string               `json:"vector_index_dir"`
	DiskUsageBytes int64                `json:"disk_usage_bytes"`
}

func statusViaHTTP(serverURL string) (*cli.Status, error) {
	var s statusResponse
	if err := doJSON(http.MethodGet, serverURL+"/api/v1/status", nil, &s); err != nil {
		return nil, err
	}
	return &cli.Status{
		DataDir:        s.DataDir,
		Model:          s.Model,
		Dimensions:     s.Dimensions,
		DiskUsageBytes: s.DiskUsageBytes,
		Tenants:        s.Tenants,
	}, nil
}
