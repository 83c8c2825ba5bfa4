package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	kerrors "github.com/hyperjump/kensaku/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := kerrors.New(kerrors.CodeTenantInvalid, "bad tenant", kerrors.FieldTenant("../etc"))

	require.Error(t, err)
	assert.Equal(t, kerrors.CodeTenantInvalid, kerrors.CodeOf(err))
	assert.Equal(t, "../etc", kerrors.FieldsOf(err)["tenant_id"])
	assert.Contains(t, err.Error(), "bad tenant")
}

func TestWrapPreservesChain(t *testing.T) {
	root := stderrors.New("disk full")
	err := kerrors.Wrap(root, kerrors.CodeStorageIO, "persisting index")

	require.Error(t, err)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, kerrors.CodeStorageIO, kerrors.CodeOf(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, kerrors.Wrap(nil, kerrors.CodeStorageIO, "ignored"))
	assert.NoError(t, kerrors.Wrapf(nil, kerrors.CodeStorageIO, "ignored %d", 1))
}

func TestCodeSurvivesStdlibWrapping(t *testing.T) {
	inner := kerrors.New(kerrors.CodeModelTimeout, "deadline")
	err := fmt.Errorf("encode query: %w", inner)
	assert.Equal(t, kerrors.CodeModelTimeout, kerrors.CodeOf(err))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want kerrors.Kind
	}{
		{"empty query", kerrors.New(kerrors.CodeQueryEmpty, "x"), kerrors.KindEmptyQuery},
		{"short query", kerrors.New(kerrors.CodeQueryInvalidInput, "x"), kerrors.KindInput},
		{"bad tenant", kerrors.New(kerrors.CodeTenantInvalid, "x"), kerrors.KindInput},
		{"model down", kerrors.New(kerrors.CodeModelUnavailable, "x"), kerrors.KindModelUnavailable},
		{"model timeout", kerrors.New(kerrors.CodeModelTimeout, "x"), kerrors.KindModelUnavailable},
		{"corrupt", kerrors.New(kerrors.CodeIndexCorrupt, "x"), kerrors.KindIndexCorrupt},
		{"io", kerrors.New(kerrors.CodeStorageIO, "x"), kerrors.KindStorageIO},
		{"unavailable", kerrors.New(kerrors.CodeIndexUnavailable, "x"), kerrors.KindIndexUnavailable},
		{"confidence", kerrors.New(kerrors.CodeConfidenceFailure, "x"), kerrors.KindConfidence},
		{"config", kerrors.New(kerrors.CodeConfigLoadReadFailure, "x"), kerrors.KindConfig},
		{"plain", stderrors.New("x"), kerrors.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kerrors.KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, kerrors.IsRetryable(kerrors.New(kerrors.CodeModelUnavailable, "x")))
	assert.True(t, kerrors.IsRetryable(kerrors.New(kerrors.CodeStorageTimeout, "x")))
	assert.False(t, kerrors.IsRetryable(kerrors.New(kerrors.CodeQueryEmpty, "x")))
	assert.False(t, kerrors.IsRetryable(kerrors.New(kerrors.CodeIndexCorrupt, "x")))
	assert.False(t, kerrors.IsRetryable(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, kerrors.HTTPStatus(kerrors.New(kerrors.CodeQueryEmpty, "x")))
	assert.Equal(t, http.StatusBadRequest, kerrors.HTTPStatus(kerrors.New(kerrors.CodeVectorInvalid, "x")))
	assert.Equal(t, http.StatusGatewayTimeout, kerrors.HTTPStatus(kerrors.New(kerrors.CodeModelTimeout, "x")))
	assert.Equal(t, http.StatusServiceUnavailable, kerrors.HTTPStatus(kerrors.New(kerrors.CodeModelUnavailable, "x")))
	assert.Equal(t, http.StatusInternalServerError, kerrors.HTTPStatus(kerrors.New(kerrors.CodeStorageIO, "x")))
	assert.Equal(t, http.StatusInternalServerError, kerrors.HTTPStatus(stderrors.New("x")))
}

func TestStatusForCode(t *testing.T) {
	cases := map[kerrors.Code]int{
		kerrors.CodeQueryEmpty:        http.StatusBadRequest,
		kerrors.CodeTenantInvalid:     http.StatusBadRequest,
		kerrors.CodeModelTimeout:      http.StatusGatewayTimeout,
		kerrors.CodeStorageTimeout:    http.StatusGatewayTimeout,
		kerrors.CodeRequestTimeout:    http.StatusGatewayTimeout,
		kerrors.CodeModelUnavailable:  http.StatusServiceUnavailable,
		kerrors.CodeIndexUnavailable:  http.StatusServiceUnavailable,
		kerrors.CodeStorageIO:         http.StatusInternalServerError,
		kerrors.CodeIndexCorrupt:      http.StatusInternalServerError,
		kerrors.CodeConfidenceFailure: http.StatusInternalServerError,
		"":                            http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, kerrors.StatusForCode(code), string(code))
		if code != "" {
			assert.Equal(t, want, kerrors.HTTPStatus(kerrors.New(code, "x")), string(code))
		}
	}
}

func TestFromContext(t *testing.T) {
	assert.NoError(t, kerrors.FromContext(nil))

	for _, cause := range []error{context.Canceled, context.DeadlineExceeded, fmt.Errorf("search: %w", context.Canceled)} {
		err := kerrors.FromContext(cause)
		assert.Equal(t, kerrors.CodeRequestTimeout, kerrors.CodeOf(err))
		assert.Equal(t, kerrors.KindTimeout, kerrors.KindOf(err))
		assert.Equal(t, http.StatusGatewayTimeout, kerrors.HTTPStatus(err))
		assert.True(t, kerrors.IsRetryable(err))
		assert.ErrorIs(t, err, cause)
	}

	coded := kerrors.Wrap(context.Canceled, kerrors.CodeModelTimeout, "gave up")
	assert.Equal(t, kerrors.CodeModelTimeout, kerrors.CodeOf(kerrors.FromContext(coded)))

	plain := stderrors.New("disk full")
	assert.Same(t, plain, kerrors.FromContext(plain))
}

func TestJoin(t *testing.T) {
	assert.NoError(t, kerrors.Join(nil, nil))
	a, b := stderrors.New("a"), stderrors.New("b")
	err := kerrors.Join(a, b)
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
	assert.Equal(t, kerrors.CodeInternal, kerrors.CodeOf(err))
}
