package models

import (
	"strings"
	"unicode/utf8"

	kerrors "github.com/hyperjump/kensaku/pkg/errors"
)

// RetrieveQuery is a retrieval request for one tenant.
type RetrieveQuery struct {
	Query      string `json:"query"`
	TenantID   string `json:"tenant_id"`
	MaxResults int    `json:"max_results,omitempty"`
}

// QueryLimits bounds a RetrieveQuery.
type QueryLimits struct {
	MinQueryLength    int
	DefaultMaxResults int
	MaxResults        int
}

// Validate rejects empty or too-short queries and normalizes MaxResults.
// It runs before any embedding work.
func (q *RetrieveQuery) Validate(limits QueryLimits) error {
	trimmed := strings.TrimSpace(q.Query)
	if trimmed == "" {
		return kerrors.New(kerrors.CodeQueryEmpty, "query cannot be empty")
	}
	if n := utf8.RuneCountInString(trimmed); n < limits.MinQueryLength {
		return kerrors.New(kerrors.CodeQueryInvalidInput, "query is too short",
			kerrors.Field("length", n), kerrors.Field("min_length", limits.MinQueryLength))
	}
	q.Query = trimmed
	if q.MaxResults <= 0 {
		q.MaxResults = limits.DefaultMaxResults
	}
	if limits.MaxResults > 0 && q.MaxResults > limits.MaxResults {
		q.MaxResults = limits.MaxResults
	}
	return nil
}
