package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/voicebook/libs/config"
)

func newSimulateCallCmd() *cobra.Command {
	var baseURL, token, callID, event string
	cmd := &cobra.Command{
		Use:   "simulate-call",
		Short: "Send a call-platform webhook to a running booking service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(token) == "" {
				return errors.New("--token is required")
			}
			if strings.TrimSpace(callID) == "" {
				callID = fmt.Sprintf("call_test_%d", time.Now().UnixNano())
			}
			status, body, err := postWebhook(cmd.Context(), baseURL, token, event, callID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "call_id=%s status=%d %s\n", callID, status, strings.TrimSpace(body))
			if status >= http.StatusBadRequest {
				return fmt.Errorf("webhook rejected with status %d", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", config.String("BASE_URL", "http://localhost:8083"), "booking service base url")
	cmd.Flags().StringVar(&token, "token", config.String("TOOL_TOKEN", ""), "tenant tool token")
	cmd.Flags().StringVar(&callID, "call-id", "", "call id (default: generated)")
	cmd.Flags().StringVar(&event, "event", "call_analyzed", "webhook event name")
	return cmd
}

func postWebhook(ctx context.Context, baseURL, token, event, callID string) (int, string, error) {
	payload, err := json.Marshal(map[string]any{
		"event": event,
		"call":  map[string]any{"call_id": callID},
	})
	if err != nil {
		return 0, "", err
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/webhook?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}
