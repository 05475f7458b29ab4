package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TransformationCandidate is a file the analyzer ranks as worth transforming.
type TransformationCandidate struct {
	Path     string  `json:"path"`
	Language string  `json:"language"`
	Score    float64 `json:"score"`
}

// AnalyzerClient talks to the code analyzer service. A nil client is valid
// and means the integration is disabled.
type AnalyzerClient struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewAnalyzerClient returns nil when baseURL is empty.
func NewAnalyzerClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *AnalyzerClient {
	if strings.TrimSpace(baseURL) == "" {
		return nil
	}
	return &AnalyzerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "analyzer_client").Logger(),
	}
}

// TransformationCandidates asks the analyzer which files of a repository are
// worth transforming, best first.
func (c *AnalyzerClient) TransformationCandidates(ctx context.Context, repoID string, limit int) ([]TransformationCandidate, error) {
	q := url.Values{}
	q.Set("repo_id", repoID)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/analysis/transformation-candidates?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build analyzer request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call analyzer service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analyzer service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Candidates []TransformationCandidate `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode analyzer response")
	}
	return out.Candidates, nil
}

// UpdateMetrics pushes post-transformation metrics back to the analyzer.
func (c *AnalyzerClient) UpdateMetrics(ctx context.Context, repoID string, metrics interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"repo_id": repoID,
		"metrics": metrics,
	})
	if err != nil {
		return errors.Wrap(err, "marshal analyzer payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analysis/update-metrics", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build analyzer request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "call analyzer service")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("analyzer service returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
