// Package ai is the HTTP client for the external score suggestion service.
// Suggestions are advisory and arrive asynchronously; nothing in the
// pipeline blocks on this service.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/httpclient"
	"compliance-workers/internal/evaluation/scoring"
)

// SuggestionService is the external collaborator contract.
type SuggestionService interface {
	SuggestScores(ctx context.Context, req *SuggestRequest) (*SuggestResponse, error)
}

type SuggestRequest struct {
	SubmissionID string                 `json:"submissionId"`
	Stage        int                    `json:"stage"`
	Answers      map[string]interface{} `json:"answers"`
	Categories   []CategoryContext      `json:"categories"`
}

type CategoryContext struct {
	Code   string  `json:"code"`
	Scope  string  `json:"scope"`
	Weight float64 `json:"weight"`
}

type SuggestResponse struct {
	Suggestions []scoring.Suggestion `json:"suggestions"`
	Summary     string               `json:"summary,omitempty"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewClient(baseURL, apiKey string, client *httpclient.Client) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}
}

func (c *Client) SuggestScores(ctx context.Context, req *SuggestRequest) (*SuggestResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewSuggestionFetchFailedError(err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/suggest-scores", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewSuggestionFetchFailedError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.DoWithContext(ctx, httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewSuggestionTimeoutError()
		}
		return nil, errors.NewSuggestionFetchFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.NewSuggestionFetchFailedError(
			fmt.Errorf("suggest scores: status %d: %s", resp.StatusCode, string(msg)))
	}

	var result SuggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewSuggestionFetchFailedError(fmt.Errorf("decode response: %w", err))
	}

	return &result, nil
}
