package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/user/feedlane/internal/types"
)

const facetPending = "pending_mentions"

// maxPending bounds the pending set when nothing drains it. The oldest
// entries are dropped first.
const maxPending = 500

// PendingMentions returns the mentions fetched but not yet resolved, oldest
// first.
func (s *Synchronizer) PendingMentions(ctx context.Context) ([]types.Item, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return s.loadPending(ctx)
}

// ResolveMention removes itemID from the pending set. Unknown ids are
// ignored.
func (s *Synchronizer) ResolveMention(ctx context.Context, itemID string) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	pending, err := s.loadPending(ctx)
	if err != nil {
		return err
	}
	kept := pending[:0]
	for _, item := range pending {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(pending) {
		return nil
	}
	return s.storePending(ctx, kept)
}

// addPending queues mentions written by other accounts. Ids already pending
// keep their first copy.
func (s *Synchronizer) addPending(ctx context.Context, items []types.Item) error {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	pending, err := s.loadPending(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(pending))
	for _, item := range pending {
		seen[item.ID] = true
	}
	added := 0
	for _, item := range items {
		if item.ID == "" || seen[item.ID] || s.account.Owns(item) {
			continue
		}
		seen[item.ID] = true
		pending = append(pending, item)
		added++
	}
	if added == 0 {
		return nil
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return newerID(pending[j].ID, pending[i].ID)
	})
	if over := len(pending) - maxPending; over > 0 {
		slog.Warn("pending mentions over limit, dropping oldest", "account", s.account.ID, "dropped", over)
		pending = pending[over:]
	}
	return s.storePending(ctx, pending)
}

func (s *Synchronizer) loadPending(ctx context.Context) ([]types.Item, error) {
	var pending []types.Item
	if _, err := s.getJSON(ctx, s.Key(facetPending), &pending); err != nil {
		return nil, fmt.Errorf("read pending mentions: %w", err)
	}
	return pending, nil
}

func (s *Synchronizer) storePending(ctx context.Context, pending []types.Item) error {
	if pending == nil {
		pending = []types.Item{}
	}
	if err := s.cache.Set(ctx, s.Key(facetPending), pending, time.Time{}); err != nil {
		return fmt.Errorf("write pending mentions: %w", err)
	}
	return nil
}
