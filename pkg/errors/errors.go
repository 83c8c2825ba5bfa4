// Package errors defines the coded error taxonomy shared by the retrieval core.
//
// Codes are dotted strings of the form domain.component[.operation].reason. The
// trailing reason drives classification (input, timeout, unavailable, ...) and the
// HTTP status a transport maps an error to.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeQueryEmpty        Code = "retrieval.query.empty"
	CodeQueryInvalidInput Code = "retrieval.query.invalid_input"
	CodeTenantInvalid     Code = "tenant.id.invalid_input"
	CodeVectorInvalid     Code = "vectorstore.vector.invalid_input"
	CodeChunkInvalid      Code = "indexer.chunk.invalid_input"

	CodeModelUnavailable Code = "embedding.model.unavailable"
	CodeModelTimeout     Code = "embedding.model.timeout"

	CodeIndexCorrupt     Code = "vectorstore.index.corrupt"
	CodeIndexUnavailable Code = "vectorstore.index.unavailable"
	CodeStorageIO        Code = "vectorstore.persist.io_failure"
	CodeStorageTimeout   Code = "vectorstore.persist.timeout"

	CodeConfidenceFailure Code = "retrieval.confidence.failure"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeRequestTimeout Code = "request.context.timeout"

	CodeInternal Code = "internal.failure"
)

// Kind groups codes into the categories callers branch on.
type Kind string

const (
	KindInput            Kind = "input_error"
	KindEmptyQuery       Kind = "empty_query"
	KindModelUnavailable Kind = "model_unavailable"
	KindIndexCorrupt     Kind = "index_corrupt"
	KindStorageIO        Kind = "storage_io_error"
	KindIndexUnavailable Kind = "index_unavailable"
	KindConfidence       Kind = "confidence_error"
	KindConfig           Kind = "config_error"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldTenant(value string) Attr {
	return Field("tenant_id", value)
}

func FieldModel(value string) Attr {
	return Field("model_id", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code carried by err, or "" for uncoded errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// KindOf classifies err. Uncoded errors are internal.
func KindOf(err error) Kind {
	return KindOfCode(CodeOf(err))
}

// KindOfCode classifies a bare code, for callers that only kept the code.
func KindOfCode(code Code) Kind {
	switch {
	case code == "":
		return KindInternal
	case code == CodeQueryEmpty:
		return KindEmptyQuery
	case isInputCode(code):
		return KindInput
	case code == CodeModelUnavailable, code == CodeModelTimeout:
		return KindModelUnavailable
	case code == CodeIndexCorrupt:
		return KindIndexCorrupt
	case code == CodeStorageIO, code == CodeStorageTimeout:
		return KindStorageIO
	case code == CodeIndexUnavailable:
		return KindIndexUnavailable
	case code == CodeConfidenceFailure:
		return KindConfidence
	case code == CodeRequestTimeout:
		return KindTimeout
	case strings.HasPrefix(string(code), "config."):
		return KindConfig
	default:
		return KindInternal
	}
}

// IsInvalidInput reports whether err was caused by bad caller input.
// Empty queries count as invalid input.
func IsInvalidInput(err error) bool {
	return isInputCode(CodeOf(err))
}

func isInputCode(code Code) bool {
	if code == CodeQueryEmpty {
		return true
	}
	r := reason(code)
	return r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsRetryable reports whether the same call may succeed later without any
// change from the caller.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeModelUnavailable, CodeModelTimeout, CodeStorageIO, CodeStorageTimeout, CodeIndexUnavailable, CodeRequestTimeout:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	return StatusForCode(CodeOf(err))
}

// StatusForCode maps a code to an HTTP status: 400 for input, 504 for any
// timeout, 503 when the model or index is unavailable, 500 otherwise.
func StatusForCode(code Code) int {
	switch {
	case isInputCode(code):
		return http.StatusBadRequest
	case reason(code) == "timeout":
		return http.StatusGatewayTimeout
	case code == CodeModelUnavailable, code == CodeIndexUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromContext codes a bare context cancellation or deadline as
// CodeRequestTimeout. Coded errors and other errors pass through unchanged.
func FromContext(err error) error {
	if err == nil || CodeOf(err) != "" {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, CodeRequestTimeout, "request ended before completion")
	}
	return err
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodeInternal).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}
	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
