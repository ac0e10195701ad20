package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/feedlane/internal/gateway"
	"github.com/user/feedlane/internal/types"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	raw     json.RawMessage
	expires time.Time
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]memEntry), now: time.Now}
}

func (c *memCache) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		return nil, false, nil
	}
	return e.raw, true, nil
}

func (c *memCache) Set(_ context.Context, key string, value any, expires time.Time) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memEntry{raw: raw, expires: expires}
	return nil
}

type memRecords struct {
	mu       sync.Mutex
	records  map[types.RecordID]*types.Record
	order    []*types.Record
	appends  atomic.Int32
	lookups  atomic.Int32
	failItem map[string]int // item id -> remaining failures
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[types.RecordID]*types.Record), failItem: make(map[string]int)}
}

func (m *memRecords) RecordsIn(_ context.Context, rooms []types.RoomID) ([]*types.Record, error) {
	m.lookups.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[types.RoomID]bool)
	for _, r := range rooms {
		want[r] = true
	}
	var out []*types.Record
	for _, r := range m.order {
		if want[r.RoomID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRecords) RecordByID(_ context.Context, id types.RecordID) (*types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r, nil
	}
	return nil, types.ErrNotFound
}

func (m *memRecords) Append(_ context.Context, r *types.Record) error {
	m.appends.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failItem[r.ItemID]; n > 0 {
		m.failItem[r.ItemID] = n - 1
		return errors.New("store unavailable")
	}
	if _, ok := m.records[r.ID]; ok {
		return nil
	}
	m.records[r.ID] = r
	m.order = append(m.order, r)
	return nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

type fakeSource struct {
	mu             sync.Mutex
	timeline       []types.Item
	mentions       []types.Item
	hits           []types.Item
	timelineCounts []int
	sinceIDs       []string
	delay          time.Duration
	failures       int
	profile        *types.Account
	profileCalls   atomic.Int32
	itemCalls      atomic.Int32
}

func (f *fakeSource) pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("rate limited")
	}
	return nil
}

func (f *fakeSource) FetchTimeline(_ context.Context, count int) ([]types.Item, error) {
	if err := f.pause(); err != nil {
		return nil, err
	}
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timelineCounts = append(f.timelineCounts, count)
	return append([]types.Item(nil), f.timeline...), nil
}

func (f *fakeSource) FetchMentions(_ context.Context, sinceID string) ([]types.Item, error) {
	if err := f.pause(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceIDs = append(f.sinceIDs, sinceID)
	return append([]types.Item(nil), f.mentions...), nil
}

func (f *fakeSource) Search(_ context.Context, _ string, _ int) ([]types.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Item(nil), f.hits...), nil
}

func (f *fakeSource) FetchItem(_ context.Context, id string) (*types.Item, error) {
	f.itemCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.timeline {
		if item.ID == id {
			out := item
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeSource) FetchProfile(_ context.Context, _ string) (*types.Account, error) {
	f.profileCalls.Add(1)
	return f.profile, nil
}

func (f *fakeSource) counts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.timelineCounts...)
}

var testAccount = types.Account{ID: "alice", UserID: "u-alice", ScreenName: "alice"}

func testQueue(t *testing.T) *gateway.Queue {
	t.Helper()
	q := gateway.NewQueue(testAccount.ID, &gateway.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func testSync(t *testing.T, src *fakeSource, cache *memCache, records *memRecords) *Synchronizer {
	t.Helper()
	opts := DefaultOptions()
	opts.FetchTimeout = time.Second
	s, err := New(testAccount, testQueue(t), src, cache, records, opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func item(id, conversation string) types.Item {
	return types.Item{
		ID:                   id,
		ConversationID:       conversation,
		AuthorID:             "u-bob",
		Text:                 "item " + id,
		CreatedAtEpochMillis: 1700000000000,
	}
}
