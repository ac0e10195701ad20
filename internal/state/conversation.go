// internal/state/conversation.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/user/feedlane/internal/types"
)

// ConversationStore is a JSONL-backed append-only record store.
// Records are stored per room in rooms/<roomID>/records.jsonl. An in-memory
// record-id index is rebuilt from the room files on first use.
type ConversationStore struct {
	root  string
	mu    sync.Mutex
	index map[types.RecordID]types.RoomID
}

// NewConversationStore creates a new file-backed ConversationStore rooted at the given directory.
func NewConversationStore(root string) *ConversationStore {
	return &ConversationStore{root: root}
}

func (s *ConversationStore) roomsDir() string {
	return filepath.Join(s.root, "rooms")
}

func (s *ConversationStore) recordsPath(room types.RoomID) string {
	return filepath.Join(s.roomsDir(), string(room), "records.jsonl")
}

// loadIndex scans every room file once. Caller must hold s.mu.
func (s *ConversationStore) loadIndex() error {
	if s.index != nil {
		return nil
	}
	index := make(map[types.RecordID]types.RoomID)
	rooms, err := s.rooms()
	if err != nil {
		return err
	}
	for _, room := range rooms {
		records, err := s.readRoom(room)
		if err != nil {
			return err
		}
		for _, r := range records {
			index[r.ID] = room
		}
	}
	s.index = index
	return nil
}

func (s *ConversationStore) rooms() ([]types.RoomID, error) {
	entries, err := os.ReadDir(s.roomsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rooms dir: %w", err)
	}
	var rooms []types.RoomID
	for _, e := range entries {
		if e.IsDir() {
			rooms = append(rooms, types.RoomID(e.Name()))
		}
	}
	return rooms, nil
}

// readRoom returns the records of one room in append order. Caller must hold s.mu.
func (s *ConversationStore) readRoom(room types.RoomID) ([]*types.Record, error) {
	f, err := os.Open(s.recordsPath(room))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open records file: %w", err)
	}
	defer f.Close()

	var records []*types.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record types.Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, &record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan records file: %w", err)
	}
	return records, nil
}

// Append adds a record to its room with the next sequence number. Appending
// a record id that is already stored is a no-op.
func (s *ConversationStore) Append(_ context.Context, record *types.Record) error {
	if record.ID == "" || record.RoomID == "" {
		return fmt.Errorf("record id and room id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIndex(); err != nil {
		return err
	}
	if _, exists := s.index[record.ID]; exists {
		return nil
	}

	dir := filepath.Dir(s.recordsPath(record.RoomID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create room dir: %w", err)
	}

	existing, err := s.readRoom(record.RoomID)
	if err != nil {
		return err
	}
	stored := *record
	stored.Seq = int64(len(existing)) + 1

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(s.recordsPath(record.RoomID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open records file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	record.Seq = stored.Seq
	s.index[record.ID] = record.RoomID
	return nil
}

// RecordsIn returns every record stored in the given rooms.
func (s *ConversationStore) RecordsIn(_ context.Context, rooms []types.RoomID) ([]*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[types.RoomID]bool, len(rooms))
	var out []*types.Record
	for _, room := range rooms {
		if seen[room] {
			continue
		}
		seen[room] = true
		records, err := s.readRoom(room)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// RecordByID returns the record with the given id, or types.ErrNotFound.
func (s *ConversationStore) RecordByID(_ context.Context, id types.RecordID) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	room, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, types.ErrNotFound)
	}
	records, err := s.readRoom(room)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("record %s: %w", id, types.ErrNotFound)
}

// Rooms lists every room with at least one record, sorted by id.
func (s *ConversationStore) Rooms(_ context.Context) ([]types.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, err := s.rooms()
	if err != nil {
		return nil, err
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms, nil
}

// Tail returns the last limit records of a room.
func (s *ConversationStore) Tail(_ context.Context, room types.RoomID, limit int) ([]*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRoom(room)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}
