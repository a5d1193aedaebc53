package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
)

func TestComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" Grandma's secret recipe "}}`))
	}))
	defer srv.Close()

	out, err := New(srv.URL, "").Complete(context.Background(), ai.Request{Prompt: "p", Temperature: 0.3, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "Grandma's secret recipe", out)
	assert.Equal(t, DefaultModel, body["model"])
	assert.Equal(t, false, body["stream"])
	opts := body["options"].(map[string]any)
	assert.InDelta(t, 0.3, opts["temperature"], 1e-9)
	assert.InDelta(t, 50, opts["num_predict"], 1e-9)
}

func TestCompleteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Complete(context.Background(), ai.Request{Prompt: "p"})
	var apiErr *ai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ollama", apiErr.Provider)
	assert.Equal(t, "model not found", apiErr.Message)
}
