package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/feedlane/internal/types"
)

func TestClientFetchTimeline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/timeline" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("count") != "10" {
			t.Errorf("expected count=10, got %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []types.Item{{ID: "1", ConversationID: "1", Text: "gm"}},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "secret", time.Second)
	items, err := c.FetchTimeline(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Text != "gm" {
		t.Errorf("unexpected items %+v", items)
	}
}

func TestClientFetchMentionsSinceID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("since_id")
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", time.Second)
	if _, err := c.FetchMentions(context.Background(), "100"); err != nil {
		t.Fatal(err)
	}
	if got != "100" {
		t.Errorf("expected since_id=100, got %q", got)
	}
}

func TestClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", time.Second)
	_, err := c.Search(context.Background(), "#btc", 5)
	if err == nil {
		t.Fatal("expected error for 429")
	}
	if errors.Is(err, types.ErrRejected) {
		t.Errorf("429 should stay retryable, got %v", err)
	}
}

func TestClientRejectedStatus(t *testing.T) {
	tests := []struct {
		status   int
		rejected bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusConflict, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "duplicate content", tt.status)
		}))
		c := NewClient(server.URL, "", time.Second)
		_, err := c.Reply(context.Background(), "101", "thanks")
		server.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if got := errors.Is(err, types.ErrRejected); got != tt.rejected {
			t.Errorf("status %d: rejected = %v, want %v (%v)", tt.status, got, tt.rejected, err)
		}
	}
}

func TestClientFetchItemNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := NewClient(server.URL, "", time.Second)
	item, err := c.FetchItem(context.Background(), "404")
	if err != nil {
		t.Fatal(err)
	}
	if item != nil {
		t.Errorf("expected nil item, got %+v", item)
	}
}

func TestClientReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/posts" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req postRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		json.NewEncoder(w).Encode(types.Item{ID: "900", InReplyToID: req.InReplyToID, Text: req.Text})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", time.Second)
	item, err := c.Reply(context.Background(), "101", "thanks")
	if err != nil {
		t.Fatal(err)
	}
	if item.ID != "900" || item.InReplyToID != "101" || item.Text != "thanks" {
		t.Errorf("unexpected item %+v", item)
	}
}

func TestClientImplementsCapabilities(t *testing.T) {
	var src types.ItemSource = NewClient("http://localhost", "", 0)
	if _, ok := src.(types.ItemFetcher); !ok {
		t.Error("expected ItemFetcher")
	}
	if _, ok := src.(types.ProfileFetcher); !ok {
		t.Error("expected ProfileFetcher")
	}
	if _, ok := src.(types.Poster); !ok {
		t.Error("expected Poster")
	}
	if _, ok := src.(types.Replier); !ok {
		t.Error("expected Replier")
	}
}
