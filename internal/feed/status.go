package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/feedlane/internal/types"
)

// Status is a point-in-time view of one account's synchronizer. Phase and
// QueueLen are only known inside the running process.
type Status struct {
	Account         types.AccountID `json:"account"`
	Phase           Phase           `json:"phase,omitempty"`
	QueueLen        int             `json:"queue_len"`
	Cursor          string          `json:"mentions_cursor"`
	PendingMentions int             `json:"pending_mentions"`
	Live            bool            `json:"live"`
}

// String renders the status as labelled lines.
func (st *Status) String() string {
	cursor := st.Cursor
	if cursor == "" {
		cursor = "none"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Account: %s\n", st.Account)
	if st.Live {
		fmt.Fprintf(&b, "Phase: %s\nPending requests: %d\n", st.Phase, st.QueueLen)
	}
	fmt.Fprintf(&b, "Mentions cursor: %s\nPending mentions: %d", cursor, st.PendingMentions)
	return b.String()
}

// ReadStatus reads the durable part of an account's status straight from
// cache, without a running synchronizer.
func ReadStatus(ctx context.Context, cache types.CacheStore, namespace string, account types.AccountID) (*Status, error) {
	st := &Status{Account: account}

	raw, ok, err := cache.Get(ctx, types.CacheKey(namespace, account, facetCursor))
	if err != nil {
		return nil, fmt.Errorf("read mentions cursor: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &st.Cursor); err != nil {
			return nil, fmt.Errorf("decode mentions cursor: %w", err)
		}
	}

	raw, ok, err = cache.Get(ctx, types.CacheKey(namespace, account, facetPending))
	if err != nil {
		return nil, fmt.Errorf("read pending mentions: %w", err)
	}
	if ok {
		var pending []json.RawMessage
		if err := json.Unmarshal(raw, &pending); err != nil {
			return nil, fmt.Errorf("decode pending mentions: %w", err)
		}
		st.PendingMentions = len(pending)
	}
	return st, nil
}

// Status reports the synchronizer's live state.
func (s *Synchronizer) Status(ctx context.Context) (*Status, error) {
	s.pendingMu.Lock()
	st, err := ReadStatus(ctx, s.cache, s.opts.Namespace, s.account.ID)
	s.pendingMu.Unlock()
	if err != nil {
		return nil, err
	}
	st.Phase = s.State()
	st.QueueLen = s.queue.Len()
	st.Live = true
	return st, nil
}
