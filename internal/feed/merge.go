package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/feedlane/internal/types"
)

// MergeAndPersist appends a record for every item not yet stored. Items
// repeated within the batch are merged once. Records are appended in the
// order the items are given.
func (s *Synchronizer) MergeAndPersist(ctx context.Context, items []types.Item) (*Result, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()
	return s.merge(ctx, KindManual, items)
}

func (s *Synchronizer) merge(ctx context.Context, kind Kind, items []types.Item) (*Result, error) {
	s.setPhase(PhaseMerging)
	known, err := s.knownRecords(ctx, items)
	if err != nil {
		s.setPhase(PhaseIdle)
		return nil, err
	}
	return s.persist(ctx, kind, items, known)
}

// knownRecords looks up every room the items touch in one call and returns
// the set of record ids already stored there.
func (s *Synchronizer) knownRecords(ctx context.Context, items []types.Item) (map[types.RecordID]bool, error) {
	seen := make(map[types.RoomID]bool)
	var rooms []types.RoomID
	for _, item := range items {
		room := s.roomFor(item)
		if !seen[room] {
			seen[room] = true
			rooms = append(rooms, room)
		}
	}
	if len(rooms) == 0 {
		return map[types.RecordID]bool{}, nil
	}

	records, err := s.records.RecordsIn(ctx, rooms)
	if err != nil {
		return nil, fmt.Errorf("look up %d rooms: %w", len(rooms), err)
	}
	known := make(map[types.RecordID]bool, len(records))
	for _, r := range records {
		known[r.ID] = true
	}
	return known, nil
}

func (s *Synchronizer) persist(ctx context.Context, kind Kind, items []types.Item, known map[types.RecordID]bool) (*Result, error) {
	s.setPhase(PhasePersisting)
	defer s.setPhase(PhaseIdle)

	res := &Result{Kind: kind, Fetched: len(items)}
	for _, item := range items {
		if item.ID == "" {
			slog.Warn("skipping item without id", "account", s.account.ID, "source", kind)
			res.Skipped++
			continue
		}
		record := s.recordFor(kind, item)
		if known[record.ID] {
			res.Skipped++
			continue
		}
		if err := s.records.Append(ctx, record); err != nil {
			slog.Error("append record failed", "account", s.account.ID, "record_id", record.ID, "item_id", item.ID, "error", err)
			return res, fmt.Errorf("append record %s (item %s): %w", record.ID, item.ID, err)
		}
		known[record.ID] = true
		res.Appended = append(res.Appended, record)

		if err := s.cache.Set(ctx, s.ItemKey(facetItems, item.ID), item, time.Time{}); err != nil {
			return res, fmt.Errorf("cache item %s (record %s): %w", item.ID, record.ID, err)
		}
	}

	if len(res.Appended) > 0 {
		slog.Info("records persisted", "account", s.account.ID, "source", kind, "appended", len(res.Appended), "skipped", res.Skipped)
	}
	return res, nil
}

func (s *Synchronizer) roomFor(item types.Item) types.RoomID {
	conversation := item.ConversationID
	if conversation == "" {
		conversation = item.ID
	}
	return types.NewRoomID(conversation, s.account.ID)
}

// recordFor derives the record for item. The author maps to the account's
// own participant id when the account wrote the item.
func (s *Synchronizer) recordFor(kind Kind, item types.Item) *types.Record {
	participant := types.NewParticipantID(item.AuthorID)
	if s.account.Owns(item) {
		participant = s.account.AgentID()
	}

	created := item.CreatedAt()
	if item.CreatedAtEpochMillis == 0 {
		created = s.now()
	}

	record := &types.Record{
		ID:              types.NewRecordID(item.ID, s.account.ID),
		RoomID:          s.roomFor(item),
		ParticipantID:   participant,
		AccountID:       s.account.ID,
		ItemID:          item.ID,
		InReplyToItemID: item.InReplyToID,
		Text:            item.Text,
		URL:             item.PermanentURL,
		Source:          string(kind),
		Attachments:     item.Attachments,
		CreatedAt:       created,
	}
	if item.InReplyToID != "" {
		record.InReplyTo = types.NewRecordID(item.InReplyToID, s.account.ID)
	}
	return record
}
