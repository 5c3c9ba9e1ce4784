package evolution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Model:   "qwen2.5-coder",
			Message: chatMessage{Role: "assistant", Content: "PUSH #1\nHALT\n"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	got, err := c.Chat(context.Background(), "qwen2.5-coder", "fix this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "PUSH #1\nHALT\n" {
		t.Fatalf("got %q", got)
	}
}

func TestClientChatMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.Chat(context.Background(), "m", "p")
	if !IsKind(err, ErrLLMMalformed) {
		t.Fatalf("expected LLMMalformed, got %v", err)
	}
}

func TestClientChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.Chat(context.Background(), "m", "p")
	if !IsKind(err, ErrLLMUnavailable) {
		t.Fatalf("expected LLMUnavailable after exhausted retries, got %v", err)
	}
}

func TestClientTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tagsResponse{Models: []struct {
			Name string `json:"name"`
		}{{Name: "qwen2.5-coder"}, {Name: "codellama"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	names, err := c.Tags(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "qwen2.5-coder" {
		t.Fatalf("unexpected names: %v", names)
	}
}
