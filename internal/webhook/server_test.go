package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/feedlane/internal/feed"
	"github.com/user/feedlane/internal/state"
	"github.com/user/feedlane/internal/types"
)

type mockSyncer struct {
	lastPreferCache bool
	timelineCalls   int
	mentionsCalls   int
	err             error
}

func (m *mockSyncer) Account() types.Account {
	return types.Account{ID: "alice", UserID: "u-alice"}
}

func (m *mockSyncer) State() feed.Phase { return feed.PhaseIdle }

func (m *mockSyncer) Status(context.Context) (*feed.Status, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &feed.Status{Account: "alice", Phase: feed.PhaseIdle, QueueLen: 3, Cursor: "102", PendingMentions: 1, Live: true}, nil
}

func (m *mockSyncer) SyncTimeline(_ context.Context, preferCache bool) (*feed.Result, error) {
	m.timelineCalls++
	m.lastPreferCache = preferCache
	if m.err != nil {
		return nil, m.err
	}
	return &feed.Result{
		Kind:     feed.KindTimeline,
		Fetched:  2,
		Appended: []*types.Record{{ID: "r1"}},
		Skipped:  1,
	}, nil
}

func (m *mockSyncer) SyncMentionsFromCursor(_ context.Context) (*feed.Result, error) {
	m.mentionsCalls++
	if m.err != nil {
		return nil, m.err
	}
	return &feed.Result{Kind: feed.KindMentions, FromCache: true}, nil
}

type mockSearches struct {
	lastName string
}

func (m *mockSearches) RunNow(_ context.Context, name string) (*feed.Result, error) {
	m.lastName = name
	if name != "gm" {
		return nil, fmt.Errorf("search %s: %w", name, types.ErrNotFound)
	}
	return &feed.Result{Kind: feed.KindSearch, Fetched: 3}, nil
}

func setupServer(t *testing.T, syncer *mockSyncer) (*Server, *state.ConversationStore) {
	t.Helper()
	records := state.NewConversationStore(t.TempDir())
	return NewServer(syncer, &mockSearches{}, records), records
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupServer(t, &mockSyncer{})

	w := serve(srv, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
	if resp["account"] != "alice" || resp["phase"] != string(feed.PhaseIdle) {
		t.Errorf("unexpected health body: %v", resp)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := setupServer(t, &mockSyncer{})

	w := serve(srv, http.MethodGet, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var st feed.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Account != "alice" || st.QueueLen != 3 || st.Cursor != "102" || st.PendingMentions != 1 || !st.Live {
		t.Errorf("unexpected status body: %+v", st)
	}

	failing, _ := setupServer(t, &mockSyncer{err: fmt.Errorf("cache unavailable")})
	if w := serve(failing, http.MethodGet, "/status"); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestSyncTimeline(t *testing.T) {
	syncer := &mockSyncer{}
	srv, _ := setupServer(t, syncer)

	w := serve(srv, http.MethodPost, "/sync/timeline?prefer_cache=true")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if syncer.timelineCalls != 1 || !syncer.lastPreferCache {
		t.Errorf("expected one cache-preferring sync, got calls=%d prefer=%v", syncer.timelineCalls, syncer.lastPreferCache)
	}

	var resp resultResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != "timeline" || resp.Fetched != 2 || resp.Skipped != 1 {
		t.Errorf("unexpected result: %+v", resp)
	}
	if len(resp.Appended) != 1 || resp.Appended[0] != "r1" {
		t.Errorf("expected appended [r1], got %v", resp.Appended)
	}
}

func TestSyncTimelineError(t *testing.T) {
	srv, _ := setupServer(t, &mockSyncer{err: fmt.Errorf("boom")})

	w := serve(srv, http.MethodPost, "/sync/timeline")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

func TestSyncMentions(t *testing.T) {
	syncer := &mockSyncer{}
	srv, _ := setupServer(t, syncer)

	w := serve(srv, http.MethodPost, "/sync/mentions")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if syncer.mentionsCalls != 1 {
		t.Errorf("expected 1 mentions sync, got %d", syncer.mentionsCalls)
	}

	var resp resultResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.FromCache || resp.Appended == nil {
		t.Errorf("expected cached result with empty appended list, got %+v", resp)
	}
}

func TestSyncRequiresPost(t *testing.T) {
	srv, _ := setupServer(t, &mockSyncer{})

	w := serve(srv, http.MethodGet, "/sync/timeline")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", w.Code)
	}
}

func TestRunSearch(t *testing.T) {
	srv, _ := setupServer(t, &mockSyncer{})

	w := serve(srv, http.MethodPost, "/searches/gm/run")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp resultResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != "search" || resp.Fetched != 3 {
		t.Errorf("unexpected result: %+v", resp)
	}
}

func TestRunSearchNotFound(t *testing.T) {
	srv, _ := setupServer(t, &mockSyncer{})

	w := serve(srv, http.MethodPost, "/searches/nonexistent/run")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestAPIRoomsAndRecords(t *testing.T) {
	srv, records := setupServer(t, &mockSyncer{})
	ctx := context.Background()

	room := types.NewRoomID("c1", "alice")
	for _, itemID := range []string{"1", "2", "3"} {
		rec := &types.Record{
			ID:        types.NewRecordID(itemID, "alice"),
			RoomID:    room,
			AccountID: "alice",
			ItemID:    itemID,
			Text:      "item " + itemID,
		}
		if err := records.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	w := serve(srv, http.MethodGet, "/api/rooms")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rooms []string
	if err := json.NewDecoder(w.Body).Decode(&rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0] != string(room) {
		t.Fatalf("expected [%s], got %v", room, rooms)
	}

	w = serve(srv, http.MethodGet, "/api/rooms/"+string(room)+"/records?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var tail []types.Record
	if err := json.NewDecoder(w.Body).Decode(&tail); err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].ItemID != "2" || tail[1].Seq != 3 {
		t.Errorf("unexpected tail: %+v", tail)
	}

	id := types.NewRecordID("1", "alice")
	w = serve(srv, http.MethodGet, "/api/records/"+string(id))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec types.Record
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.ItemID != "1" || rec.Seq != 1 {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestAPIRecordNotFound(t *testing.T) {
	srv, _ := setupServer(t, &mockSyncer{})

	w := serve(srv, http.MethodGet, "/api/records/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestAPIRecordsNotConfigured(t *testing.T) {
	srv := NewServer(&mockSyncer{}, nil, nil)

	for _, target := range []string{"/api/rooms", "/api/records/x"} {
		w := serve(srv, http.MethodGet, target)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target, w.Code)
		}
	}
	w := serve(srv, http.MethodPost, "/searches/gm/run")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for searches, got %d", w.Code)
	}
}
