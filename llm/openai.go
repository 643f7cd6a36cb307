package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.curlew.xyz/recommand/clientutil"
)

const DefaultOpenAIBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// OpenAI speaks the OpenAI-compatible chat completions protocol, which
// covers OpenRouter and self-hosted llama.cpp servers alike.
type OpenAI struct {
	BaseURL string
	APIKey  string
	Model   string
	Logger  *slog.Logger

	initOnce   sync.Once
	HTTPClient *http.Client
}

func (c *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	c.initOnce.Do(func() {
		if c.BaseURL == "" {
			c.BaseURL = DefaultOpenAIBaseURL
		}
		if c.Logger == nil {
			c.Logger = slog.Default()
		}
		var auth clientutil.Middleware = clientutil.Passthrough
		if c.APIKey != "" {
			auth = clientutil.WithHeader("Authorization", "Bearer "+c.APIKey)
		}
		c.HTTPClient = clientutil.Wrap(c.HTTPClient, clientutil.Chain(
			auth,
			clientutil.WithRetry(3, 1*time.Second),
			clientutil.WithLogging(c.Logger),
		))
	})

	body, _ := json.Marshal(map[string]any{
		"model":       c.Model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": 0.7,
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("make request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("llm returned non 2xx: %w", clientutil.StatusError{Code: resp.StatusCode})
	}

	var data struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(data.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return data.Choices[0].Message.Content, nil
}
