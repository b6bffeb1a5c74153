package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "value", result["key"])
}

func TestJSON_NilData(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	Success(w, http.StatusOK, map[string]int{"flushed": 3})

	assert.Equal(t, http.StatusOK, w.Code)

	var result SuccessResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), data["flushed"])
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "message is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var result ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "message is required", result.Error)
}

func TestDomainErrorToHTTP(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, http.StatusOK},
		{"missing message", domain.ErrMissingMessage, http.StatusBadRequest},
		{"malformed body", domain.ErrMalformedRequest, http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("decode: %w", domain.ErrMalformedRequest), http.StatusBadRequest},
		{"not found", domain.NewDomainError(domain.ErrCodeNotFound, "missing"), http.StatusNotFound},
		{"unauthorized", domain.ErrInvalidAPIKey, http.StatusUnauthorized},
		{"unavailable", domain.ErrIndexUnavailable, http.StatusServiceUnavailable},
		{"body too large", domain.ErrBodyTooLarge, http.StatusRequestEntityTooLarge},
		{"internal error", domain.NewDomainError(domain.ErrCodeInternalError, "internal"), http.StatusInternalServerError},
		{"non-domain error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DomainErrorToHTTP(tt.err))
		})
	}
}

func TestHandleError(t *testing.T) {
	w := httptest.NewRecorder()

	HandleError(w, domain.ErrMissingMessage)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var result ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Equal(t, "message is required", result.Error)
	assert.Equal(t, domain.ErrCodeValidation, result.Code)
}

func TestHandleError_HidesCauses(t *testing.T) {
	t.Run("wrapped cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleError(w, domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, "session store unavailable",
			errors.New("dial tcp 10.0.3.7:6379: connection refused")))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var result ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "session store unavailable", result.Error)
		assert.Equal(t, domain.ErrCodeUnavailable, result.Code)
		assert.NotContains(t, w.Body.String(), "10.0.3.7")
	})

	t.Run("non-domain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleError(w, fmt.Errorf("scan chunk row: %w", errors.New("conn busy")))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var result ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "internal error", result.Error)
		assert.Equal(t, domain.ErrCodeInternalError, result.Code)
		assert.NotContains(t, w.Body.String(), "conn busy")
	})
}
