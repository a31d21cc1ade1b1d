package callplatform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const fetchTimeout = 10 * time.Second

var ErrCallNotFound = errors.New("call not found")

type Call struct {
	ID                  string
	FromNumber          string
	ToNumber            string
	Transcript          string
	Summary             string
	RecordingURL        string
	Duration            time.Duration
	DisconnectionReason string
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient talks to the voice platform's REST API. Every fetch is bounded by a fixed timeout.
func NewClient(baseURL, apiKey string, transport http.RoundTripper) *Client {
	if baseURL == "" {
		baseURL = "https://api.retellai.com"
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: fetchTimeout, Transport: transport},
	}
}

type callResponse struct {
	CallID              string `json:"call_id"`
	FromNumber          string `json:"from_number"`
	ToNumber            string `json:"to_number"`
	Transcript          string `json:"transcript"`
	Summary             string `json:"summary"`
	RecordingURL        string `json:"recording_url"`
	DurationMS          int64  `json:"duration_ms"`
	DisconnectionReason string `json:"disconnection_reason"`
	CallAnalysis        struct {
		CallSummary string `json:"call_summary"`
	} `json:"call_analysis"`
}

func (c *Client) FetchCall(ctx context.Context, callID string) (Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return Call{}, errors.New("call id required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/get-call/"+url.PathEscape(callID), nil)
	if err != nil {
		return Call{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Call{}, fmt.Errorf("fetch call %s: %w", callID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Call{}, ErrCallNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Call{}, fmt.Errorf("fetch call %s: status %d: %s", callID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out callResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Call{}, fmt.Errorf("decode call %s: %w", callID, err)
	}
	summary := out.CallAnalysis.CallSummary
	if summary == "" {
		summary = out.Summary
	}
	id := out.CallID
	if id == "" {
		id = callID
	}
	return Call{
		ID:                  id,
		FromNumber:          out.FromNumber,
		ToNumber:            out.ToNumber,
		Transcript:          out.Transcript,
		Summary:             summary,
		RecordingURL:        out.RecordingURL,
		Duration:            time.Duration(out.DurationMS) * time.Millisecond,
		DisconnectionReason: out.DisconnectionReason,
	}, nil
}
