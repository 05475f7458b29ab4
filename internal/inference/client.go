package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/codealloy/alloy-api/internal/config"
)

// Invoker sends a prompt to a model and returns the raw completion text.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt string) (string, error)
}

type client struct {
	baseURL string
	http    *http.Client
	sem     *semaphore.Weighted
	logger  zerolog.Logger
}

// NewClient builds an Invoker for an Ollama-compatible generate endpoint.
// Concurrent invocations across all jobs are bounded by cfg.MaxConcurrent.
func NewClient(cfg config.InferenceConfig, logger zerolog.Logger) Invoker {
	return &client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		logger:  logger.With().Str("component", "inference").Logger(),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *client) Invoke(ctx context.Context, model, prompt string) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	payload, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.2,
			TopP:        0.95,
			MaxTokens:   4096,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal generate request")
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "build generate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "invoke model %s", model)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read generate response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model %s returned status %d: %s", model, resp.StatusCode, truncate(string(body), 200))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Wrap(err, "decode generate response")
	}

	c.logger.Debug().
		Str("model", model).
		Dur("duration", time.Since(start)).
		Int("response_chars", len(out.Response)).
		Msg("Model invocation finished")
	return out.Response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
