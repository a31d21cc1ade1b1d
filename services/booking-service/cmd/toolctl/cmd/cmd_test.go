package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(io.Discard)
	c.SetArgs(args)
	err := c.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigratePrint(t *testing.T) {
	out, err := execute(t, newMigrateCmd(), "--print")
	if err != nil {
		t.Fatalf("migrate --print: %v", err)
	}
	if !strings.Contains(out, "CREATE TABLE IF NOT EXISTS appointments") {
		t.Fatalf("schema not printed: %.200s", out)
	}
}

func TestRulesFlags(t *testing.T) {
	c := &cobra.Command{Use: "x"}
	var f rulesFlags
	f.register(c.Flags())
	if err := c.Flags().Parse([]string{"--timezone", "America/Toronto", "--start-hour", "8", "--no-lunch"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, err := f.rules()
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	if r.Timezone != "America/Toronto" || r.StartHour != 8 || r.EndHour != 17 || r.HasLunch() || r.StepMinutes != 15 {
		t.Fatalf("unexpected rules: %+v", r)
	}

	bad := rulesFlags{timezone: "UTC", startHour: 17, endHour: 9, stepMinutes: 15, noLunch: true}
	if _, err := bad.rules(); err == nil {
		t.Fatal("expected end-before-start rules to be rejected")
	}
}

func TestTokenIssueRequiresTenant(t *testing.T) {
	if _, err := execute(t, newTokenIssueCmd()); err == nil || !strings.Contains(err.Error(), "--tenant") {
		t.Fatalf("expected --tenant error, got %v", err)
	}
}

func TestSimulateCall(t *testing.T) {
	var got struct {
		Event string `json:"event"`
		Call  struct {
			CallID string `json:"call_id"`
		} `json:"call"`
	}
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook" {
			http.NotFound(w, r)
			return
		}
		token = r.URL.Query().Get("token")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	out, err := execute(t, newSimulateCallCmd(), "--base-url", srv.URL+"/", "--token", "vbk_a_b", "--call-id", "call-42")
	if err != nil {
		t.Fatalf("simulate-call: %v", err)
	}
	if token != "vbk_a_b" || got.Event != "call_analyzed" || got.Call.CallID != "call-42" {
		t.Fatalf("unexpected webhook: token=%q body=%+v", token, got)
	}
	if !strings.Contains(out, "status=200") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSimulateCallReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := execute(t, newSimulateCallCmd(), "--base-url", srv.URL, "--token", "bad"); err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}
