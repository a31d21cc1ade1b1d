package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APISender posts to a Resend-compatible HTTP email API (POST {baseURL}/emails).
type APISender struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewAPISender(baseURL, apiKey string, transport http.RoundTripper) *APISender {
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &APISender{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}

type apiRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type apiResponse struct {
	ID string `json:"id"`
}

func (s *APISender) Send(ctx context.Context, msg Message) (string, error) {
	raw, err := json.Marshal(apiRequest{From: msg.From, To: []string{msg.To}, Subject: msg.Subject, HTML: msg.HTML})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("email api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("email api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("email api response: %w", err)
	}
	return out.ID, nil
}
