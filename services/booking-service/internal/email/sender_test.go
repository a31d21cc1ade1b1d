package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
)

func TestAPISenderPostsAndReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer re_test" {
			t.Fatalf("unexpected auth %q", got)
		}
		var body apiRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.To) != 1 || body.To[0] != "owner@example.com" || !strings.Contains(body.HTML, "<p>") {
			t.Fatalf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg_123"})
	}))
	defer srv.Close()

	s := NewAPISender(srv.URL, "re_test", nil)
	id, err := s.Send(context.Background(), Message{From: "bot@example.com", To: "owner@example.com", Subject: "Call", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "msg_123" {
		t.Fatalf("id = %q", id)
	}
}

func TestAPISenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid from"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := NewAPISender(srv.URL, "k", nil).Send(context.Background(), Message{To: "a@b.c"})
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected 422 error, got %v", err)
	}
}

func TestSMTPSenderBuildsHTMLMessage(t *testing.T) {
	s := NewSMTPSender("localhost", "1025", "", "")
	var gotFrom string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "localhost:1025" || a != nil {
			t.Fatalf("unexpected addr/auth: %s %v", addr, a)
		}
		gotFrom, gotMsg = from, msg
		return nil
	}

	id, err := s.Send(context.Background(), Message{From: "Voicebook <bot@example.com>", To: "owner@example.com", Subject: "New\r\ncall", HTML: "<b>x</b>"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasSuffix(id, "@example.com>") {
		t.Fatalf("unexpected message id %q", id)
	}
	if gotFrom != "bot@example.com" {
		t.Fatalf("envelope from = %q", gotFrom)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Content-Type: text/html") || !strings.Contains(msg, "Subject: New  call\r\n") {
		t.Fatalf("unexpected message:\n%s", msg)
	}
}
