package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kiliankoe/ai-against-humanity/internal/ai"
)

const DefaultModel = "llama3.2"

type Client struct {
	Host  string
	Model string
	http  *http.Client
}

func New(host, model string) *Client {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{Host: strings.TrimRight(host, "/"), Model: model, http: &http.Client{Timeout: 20 * time.Second}}
}

// Complete ignores Request.APIKey; a local Ollama server has no credentials.
func (c *Client) Complete(ctx context.Context, r ai.Request) (string, error) {
	model := r.Model
	if model == "" {
		model = c.Model
	}
	messages := []map[string]string{}
	if r.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": r.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": r.Prompt})

	options := map[string]any{"temperature": r.Temperature}
	if r.MaxTokens > 0 {
		options["num_predict"] = r.MaxTokens
	}
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"options":  options,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return "", &ai.APIError{Provider: "ollama", Status: resp.StatusCode, Message: body.Error}
	}
	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Message.Content), nil
}
