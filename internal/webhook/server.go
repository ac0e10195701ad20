// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/feedlane/internal/feed"
	"github.com/user/feedlane/internal/state"
	"github.com/user/feedlane/internal/types"
)

// Syncer is the slice of the synchronizer the server triggers.
type Syncer interface {
	Account() types.Account
	State() feed.Phase
	Status(ctx context.Context) (*feed.Status, error)
	SyncTimeline(ctx context.Context, preferCache bool) (*feed.Result, error)
	SyncMentionsFromCursor(ctx context.Context) (*feed.Result, error)
}

// SearchRunner runs a saved search by name.
type SearchRunner interface {
	RunNow(ctx context.Context, name string) (*feed.Result, error)
}

// Records combines record lookup with room browsing.
type Records interface {
	types.ConversationStore
	state.RecordBrowser
}

// Server is a lightweight HTTP handler for triggering syncs and browsing
// persisted records.
type Server struct {
	sync     Syncer
	searches SearchRunner
	records  Records
	mux      *http.ServeMux
}

// NewServer creates a new Server. searches and records may be nil, in which
// case their endpoints answer 503.
func NewServer(sync Syncer, searches SearchRunner, records Records) *Server {
	s := &Server{
		sync:     sync,
		searches: searches,
		records:  records,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /sync/timeline", s.handleSyncTimeline)
	s.mux.HandleFunc("POST /sync/mentions", s.handleSyncMentions)
	s.mux.HandleFunc("POST /searches/{name}/run", s.handleRunSearch)
	s.mux.HandleFunc("GET /api/rooms", s.handleAPIRooms)
	s.mux.HandleFunc("GET /api/rooms/{room}/records", s.handleAPIRoomRecords)
	s.mux.HandleFunc("GET /api/records/{id}", s.handleAPIRecord)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status":  "ok",
		"account": string(s.sync.Account().ID),
		"phase":   string(s.sync.State()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.sync.Status(r.Context())
	if err != nil {
		slog.Error("webhook status failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

// resultResponse summarises a sync result without the full records.
type resultResponse struct {
	Kind      string   `json:"kind"`
	Fetched   int      `json:"fetched"`
	Appended  []string `json:"appended"`
	Skipped   int      `json:"skipped"`
	FromCache bool     `json:"from_cache"`
	TimedOut  bool     `json:"timed_out"`
}

func newResultResponse(res *feed.Result) resultResponse {
	out := resultResponse{
		Kind:      string(res.Kind),
		Fetched:   res.Fetched,
		Appended:  make([]string, 0, len(res.Appended)),
		Skipped:   res.Skipped,
		FromCache: res.FromCache,
		TimedOut:  res.TimedOut,
	}
	for _, rec := range res.Appended {
		out.Appended = append(out.Appended, string(rec.ID))
	}
	return out
}

func (s *Server) handleSyncTimeline(w http.ResponseWriter, r *http.Request) {
	preferCache, _ := strconv.ParseBool(r.URL.Query().Get("prefer_cache"))
	res, err := s.sync.SyncTimeline(r.Context(), preferCache)
	if err != nil {
		slog.Error("webhook timeline sync failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, newResultResponse(res))
}

func (s *Server) handleSyncMentions(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.SyncMentionsFromCursor(r.Context())
	if err != nil {
		slog.Error("webhook mentions sync failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, newResultResponse(res))
}

func (s *Server) handleRunSearch(w http.ResponseWriter, r *http.Request) {
	if s.searches == nil {
		http.Error(w, `{"error":"searches not configured"}`, http.StatusServiceUnavailable)
		return
	}
	name := r.PathValue("name")
	res, err := s.searches.RunNow(r.Context(), name)
	if errors.Is(err, types.ErrNotFound) {
		http.Error(w, `{"error":"search not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("webhook search failed", "search", name, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, newResultResponse(res))
}

func (s *Server) handleAPIRooms(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		http.Error(w, `{"error":"record API not configured"}`, http.StatusServiceUnavailable)
		return
	}
	rooms, err := s.records.Rooms(r.Context())
	if err != nil {
		slog.Error("list rooms failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []types.RoomID{}
	}
	writeJSON(w, rooms)
}

func (s *Server) handleAPIRoomRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		http.Error(w, `{"error":"record API not configured"}`, http.StatusServiceUnavailable)
		return
	}
	room := types.RoomID(r.PathValue("room"))

	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.records.Tail(r.Context(), room, limit)
	if err != nil {
		slog.Error("tail records failed", "room_id", room, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*types.Record{}
	}
	writeJSON(w, records)
}

func (s *Server) handleAPIRecord(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		http.Error(w, `{"error":"record API not configured"}`, http.StatusServiceUnavailable)
		return
	}
	id := types.RecordID(r.PathValue("id"))
	rec, err := s.records.RecordByID(r.Context(), id)
	if errors.Is(err, types.ErrNotFound) {
		http.Error(w, `{"error":"record not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get record failed", "record_id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}
