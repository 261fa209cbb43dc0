package internal

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyStrict(t *testing.T) {
	t.Run("exact bytes", func(t *testing.T) {
		payload := []byte("{\"id\": \"evt_1\",  \"type\":\"x\"}\n")
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
		body, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		require.NoError(t, err)
		assert.Equal(t, payload, body)
	})

	t.Run("too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 64)))
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 16)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 16)
		assert.ErrorIs(t, err, ErrEmptyBody)
	})
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, http.StatusBadRequest, "Invalid signature"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Invalid signature"}`, rec.Body.String())
}

func TestSetCORSHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetCORSHeaders(rec, "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "stripe-signature")
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
