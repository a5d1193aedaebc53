package openai

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

func TestCompleteSendsRequest(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  a surprising amount of glitter \n"}}]}`))
	}))
	defer srv.Close()

	c := New("sk-shared", srv.URL, "")
	out, err := c.Complete(context.Background(), ai.Request{
		SystemPrompt: "be funny",
		Prompt:       "What's that smell?",
		Temperature:  0.9,
		MaxTokens:    50,
	})
	require.NoError(t, err)
	assert.Equal(t, "a surprising amount of glitter", out)
	assert.Equal(t, "Bearer sk-shared", auth)
	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, 50, got.MaxTokens)
	assert.InDelta(t, 0.9, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "What's that smell?", got.Messages[1].Content)
}

func TestCompleteUsesRequestKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New("", srv.URL, "")
	_, err := c.Complete(context.Background(), ai.Request{Prompt: "p", APIKey: "sk-user"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-user", auth)
}

func TestCompleteMissingKey(t *testing.T) {
	c := New("", "http://127.0.0.1:1", "")
	_, err := c.Complete(context.Background(), ai.Request{Prompt: "p"})
	assert.ErrorIs(t, err, ai.ErrMissingKey)
}

func TestCompleteDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	_, err := New("sk-x", srv.URL, "").Complete(context.Background(), ai.Request{Prompt: "p"})
	var apiErr *ai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "insufficient_quota", apiErr.Code)
	assert.Equal(t, ai.FailureQuota, ai.ClassifyError(err).Kind)
}

func TestCheckKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","code":"invalid_api_key"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := New("", srv.URL, "")
	require.NoError(t, c.CheckKey(context.Background(), "sk-good"))

	err := c.CheckKey(context.Background(), "sk-bad")
	require.Error(t, err)
	assert.Equal(t, ai.FailureInvalidKey, ai.ClassifyError(err).Kind)
}
