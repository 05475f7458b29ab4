package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/models"
)

// KnowledgeClient talks to the knowledge repository service. A nil client is
// valid and means the integration is disabled.
type KnowledgeClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewKnowledgeClient returns nil when baseURL is empty.
func NewKnowledgeClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *KnowledgeClient {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	return &KnowledgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "knowledge_client").Logger(),
	}
}

// TransformationPatterns fetches known-good patterns for a language and
// transformation type, used to enrich prompts.
func (c *KnowledgeClient) TransformationPatterns(ctx context.Context, language string, t models.TransformationType) ([]string, error) {
	q := url.Values{}
	q.Set("language", language)
	q.Set("transformation_type", string(t))

	var out struct {
		Patterns []string `json:"patterns"`
	}
	if err := c.getJSON(ctx, "/api/patterns/transformation?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Patterns, nil
}

// RecordSuccess reports an accepted transformation so its pattern can be
// learned.
func (c *KnowledgeClient) RecordSuccess(ctx context.Context, jobID string, t models.TransformationType, res models.FileTransformationResult) error {
	payload := map[string]interface{}{
		"job_id":              jobID,
		"file_path":           res.FilePath,
		"language":            res.Language,
		"transformation_type": t,
		"changes_summary":     res.ChangesSummary,
		"metrics":             res.Metrics,
	}
	return c.postJSON(ctx, "/api/transformations/success", payload)
}

func (c *KnowledgeClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "build knowledge request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "call knowledge service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("knowledge service returned status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *KnowledgeClient) postJSON(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal knowledge payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build knowledge request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "call knowledge service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("knowledge service returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
