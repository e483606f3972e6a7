package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Moderator screens candidate replies before publication.
type Moderator interface {
	Check(ctx context.Context, text string) ModerationVerdict
}

// ModerationVerdict is the outcome of a screening pass. APIError means the
// screening service itself failed; the pipeline fails open and records the
// flag on the proposal.
type ModerationVerdict struct {
	Flagged    bool
	Categories []string
	APIError   bool
}

// ModerationClient calls the OpenAI moderations endpoint.
type ModerationClient struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
}

func NewModerationClient(baseURL, apiKey string) *ModerationClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &ModerationClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   "omni-moderation-latest",
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type moderationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// Check screens text and never returns an error: any failure to reach or
// parse the service yields an APIError verdict so the caller can fail
// open.
func (c *ModerationClient) Check(ctx context.Context, text string) ModerationVerdict {
	body, err := json.Marshal(moderationRequest{Model: c.Model, Input: text})
	if err != nil {
		return ModerationVerdict{APIError: true}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/moderations", bytes.NewReader(body))
	if err != nil {
		return ModerationVerdict{APIError: true}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return ModerationVerdict{APIError: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ModerationVerdict{APIError: true}
	}

	var out moderationResponse
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Results) == 0 {
		return ModerationVerdict{APIError: true}
	}

	result := out.Results[0]
	verdict := ModerationVerdict{Flagged: result.Flagged}
	for category, hit := range result.Categories {
		if hit {
			verdict.Categories = append(verdict.Categories, category)
		}
	}
	sort.Strings(verdict.Categories)
	return verdict
}
