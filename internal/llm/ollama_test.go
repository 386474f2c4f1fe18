package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(ollamaResponse{Response: "```python\nresult = 1\n```", Done: true})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", srv.Client())
	text, err := client.Complete(context.Background(), Request{System: "sys", User: "question"})
	require.NoError(t, err)
	assert.Contains(t, text, "result = 1")
}

func TestOllamaCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", srv.Client())
	_, err := client.Complete(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOllamaCompleteEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Response: "", Done: true})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", srv.Client())
	_, err := client.Complete(context.Background(), Request{User: "q"})
	assert.ErrorIs(t, err, ErrMalformed)
}
