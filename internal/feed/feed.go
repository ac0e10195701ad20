// Package feed pulls timeline, mention and search pages through an account's
// request queue and persists the items it has not seen before.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/feedlane/internal/gateway"
	"github.com/user/feedlane/internal/types"
)

// Phase is the synchronizer's position in a sync cycle.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseFetching   Phase = "FETCHING"
	PhaseMerging    Phase = "MERGING"
	PhasePersisting Phase = "PERSISTING"
)

// Kind labels where a batch of items came from. It is stored as Record.Source.
type Kind string

const (
	KindTimeline Kind = "timeline"
	KindMentions Kind = "mentions"
	KindSearch   Kind = "search"
	KindManual   Kind = "manual"
)

// Cache facets under <namespace>/<account>/.
const (
	facetTimeline = "timeline"
	facetMentions = "mentions"
	facetCursor   = "latest_checked_id"
	facetProfile  = "profile"
	facetItems    = "items"
)

// Facets written by the posting and action cycles.
const (
	FacetLastArticle = "last_article_url"
	FacetLastPost    = "last_post_at"
	FacetHandled     = "handled"
)

// Options holds the synchronizer's page sizes and timing.
type Options struct {
	Namespace     string
	TimelineCount int
	ReducedCount  int
	MentionsCount int
	SearchCount   int
	FetchTimeout  time.Duration
	SnapshotTTL   time.Duration
}

// DefaultOptions returns the stock page sizes and timings.
func DefaultOptions() Options {
	return Options{
		Namespace:     "feed",
		TimelineCount: 50,
		ReducedCount:  10,
		MentionsCount: 20,
		SearchCount:   20,
		FetchTimeout:  15 * time.Second,
		SnapshotTTL:   10 * time.Second,
	}
}

// Result describes one sync cycle.
type Result struct {
	Kind      Kind
	Fetched   int
	Appended  []*types.Record
	Skipped   int
	FromCache bool
	TimedOut  bool
}

// Synchronizer merges items fetched for one account into the conversation
// store. All remote calls go through the account's queue.
type Synchronizer struct {
	account types.Account
	queue   *gateway.Queue
	source  types.ItemSource
	cache   types.CacheStore
	records types.ConversationStore
	opts    Options
	now     func() time.Time

	// cycle serializes sync cycles so phases of concurrent loops never
	// interleave.
	cycle sync.Mutex

	mu    sync.Mutex
	phase Phase

	pendingMu sync.Mutex
}

// New creates a Synchronizer. The account must carry both its id and its
// remote user id.
func New(account types.Account, queue *gateway.Queue, source types.ItemSource, cache types.CacheStore, records types.ConversationStore, opts Options) (*Synchronizer, error) {
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("new synchronizer: %w", err)
	}
	if queue == nil || source == nil || cache == nil || records == nil {
		return nil, fmt.Errorf("new synchronizer: queue, source, cache and records are required")
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultOptions().Namespace
	}
	return &Synchronizer{
		account: account,
		queue:   queue,
		source:  source,
		cache:   cache,
		records: records,
		opts:    opts,
		now:     time.Now,
		phase:   PhaseIdle,
	}, nil
}

// Account returns the account this synchronizer serves.
func (s *Synchronizer) Account() types.Account {
	return s.account
}

// Queue returns the account's request queue.
func (s *Synchronizer) Queue() *gateway.Queue {
	return s.queue
}

// Source returns the item source.
func (s *Synchronizer) Source() types.ItemSource {
	return s.source
}

// Cache returns the cache store.
func (s *Synchronizer) Cache() types.CacheStore {
	return s.cache
}

// State returns the current cycle phase.
func (s *Synchronizer) State() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Synchronizer) setPhase(p Phase) {
	s.mu.Lock()
	prev := s.phase
	s.phase = p
	s.mu.Unlock()
	if prev != p {
		slog.Debug("sync phase", "account", s.account.ID, "from", prev, "to", p)
	}
}

// Key returns the cache key for facet within this account's namespace.
func (s *Synchronizer) Key(facet ...string) string {
	return types.CacheKey(s.opts.Namespace, s.account.ID, facet...)
}

// ItemKey returns the cache key for facet scoped to one remote item id.
func (s *Synchronizer) ItemKey(facet, itemID string) string {
	return s.Key(facet, types.KeySegment(itemID))
}

// SyncTimeline fetches the home timeline and persists unseen items. A fresh
// timeline snapshot lowers the requested page to ReducedCount. With
// preferCache, a fresh snapshot whose rooms are already partly stored is
// merged directly and no fetch is issued; that cycle goes straight from
// IDLE to MERGING.
func (s *Synchronizer) SyncTimeline(ctx context.Context, preferCache bool) (*Result, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	cached, fresh, err := s.CachedTimeline(ctx)
	if err != nil {
		return nil, err
	}

	count := s.opts.TimelineCount
	if fresh {
		if preferCache {
			known, err := s.knownRecords(ctx, cached)
			if err != nil {
				return nil, err
			}
			if len(known) > 0 {
				s.setPhase(PhaseMerging)
				res, err := s.persist(ctx, KindTimeline, cached, known)
				if res != nil {
					res.FromCache = true
				}
				return res, err
			}
		}
		count = s.opts.ReducedCount
	}

	items, timedOut, err := s.fetch(ctx, "fetch timeline", func(ctx context.Context) ([]types.Item, error) {
		return s.source.FetchTimeline(ctx, count)
	})
	if err != nil || timedOut {
		return &Result{Kind: KindTimeline, TimedOut: timedOut}, err
	}

	if err := s.snapshot(ctx, facetTimeline, items); err != nil {
		slog.Warn("cache timeline failed", "account", s.account.ID, "error", err)
	}
	return s.merge(ctx, KindTimeline, items)
}

// CachedTimeline returns the timeline snapshot and whether it is present and
// unexpired.
func (s *Synchronizer) CachedTimeline(ctx context.Context) ([]types.Item, bool, error) {
	return s.cachedItems(ctx, facetTimeline)
}

// CachedMentions returns the mentions snapshot and whether it is present and
// unexpired.
func (s *Synchronizer) CachedMentions(ctx context.Context) ([]types.Item, bool, error) {
	return s.cachedItems(ctx, facetMentions)
}

func (s *Synchronizer) cachedItems(ctx context.Context, facet string) ([]types.Item, bool, error) {
	var items []types.Item
	ok, err := s.getJSON(ctx, s.Key(facet), &items)
	if err != nil {
		return nil, false, fmt.Errorf("read %s snapshot: %w", facet, err)
	}
	if !ok || len(items) == 0 {
		return nil, false, nil
	}
	return items, true, nil
}

// SyncMentions fetches mentions newer than sinceID and persists them. The
// durable cursor advances only after every new record is appended and the
// fetched mentions are queued in the pending set, so a failed cycle
// re-delivers the same mentions on retry and no mention is dropped before
// the action cycle resolves it.
func (s *Synchronizer) SyncMentions(ctx context.Context, sinceID string) (*Result, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	items, timedOut, err := s.fetch(ctx, "fetch mentions", func(ctx context.Context) ([]types.Item, error) {
		return s.source.FetchMentions(ctx, sinceID)
	})
	if err != nil || timedOut {
		return &Result{Kind: KindMentions, TimedOut: timedOut}, err
	}

	if err := s.snapshot(ctx, facetMentions, items); err != nil {
		slog.Warn("cache mentions failed", "account", s.account.ID, "error", err)
	}

	res, err := s.merge(ctx, KindMentions, items)
	if err != nil {
		return res, err
	}
	if err := s.addPending(ctx, items); err != nil {
		return res, err
	}

	newest := sinceID
	for _, item := range items {
		if newerID(item.ID, newest) {
			newest = item.ID
		}
	}
	if newest != "" && newest != sinceID {
		if err := s.advanceCursor(ctx, newest); err != nil {
			return res, err
		}
	}
	return res, nil
}

// SyncMentionsFromCursor runs SyncMentions from the stored cursor.
func (s *Synchronizer) SyncMentionsFromCursor(ctx context.Context) (*Result, error) {
	cursor, err := s.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	return s.SyncMentions(ctx, cursor)
}

// Cursor returns the id of the newest durably processed mention, or "".
func (s *Synchronizer) Cursor(ctx context.Context) (string, error) {
	var cursor string
	if _, err := s.getJSON(ctx, s.Key(facetCursor), &cursor); err != nil {
		return "", fmt.Errorf("read mentions cursor: %w", err)
	}
	return cursor, nil
}

func (s *Synchronizer) advanceCursor(ctx context.Context, id string) error {
	current, err := s.Cursor(ctx)
	if err != nil {
		return err
	}
	if !newerID(id, current) {
		return nil
	}
	if err := s.cache.Set(ctx, s.Key(facetCursor), id, time.Time{}); err != nil {
		return fmt.Errorf("advance mentions cursor to %s: %w", id, err)
	}
	slog.Debug("mentions cursor advanced", "account", s.account.ID, "cursor", id)
	return nil
}

// Search runs query against the source and persists unseen hits. A
// non-positive count uses the configured search page size.
func (s *Synchronizer) Search(ctx context.Context, query string, count int) (*Result, error) {
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	if count <= 0 {
		count = s.opts.SearchCount
	}
	s.cycle.Lock()
	defer s.cycle.Unlock()

	items, timedOut, err := s.fetch(ctx, "search "+query, func(ctx context.Context) ([]types.Item, error) {
		return s.source.Search(ctx, query, count)
	})
	if err != nil || timedOut {
		return &Result{Kind: KindSearch, TimedOut: timedOut}, err
	}
	return s.merge(ctx, KindSearch, items)
}

// GetItem returns an item from its snapshot, fetching and caching it when
// the source can look up single items.
func (s *Synchronizer) GetItem(ctx context.Context, id string) (*types.Item, error) {
	var item types.Item
	ok, err := s.getJSON(ctx, s.ItemKey(facetItems, id), &item)
	if err != nil {
		return nil, fmt.Errorf("read item snapshot %s: %w", id, err)
	}
	if ok {
		return &item, nil
	}

	fetcher, ok := s.source.(types.ItemFetcher)
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, types.ErrNotFound)
	}

	s.cycle.Lock()
	defer s.cycle.Unlock()
	s.setPhase(PhaseFetching)
	defer s.setPhase(PhaseIdle)
	op := gateway.WithTimeout(s.opts.FetchTimeout, func(ctx context.Context) (any, error) {
		return fetcher.FetchItem(ctx, id)
	}, func() any { return timeoutMarker{} })
	v, err := s.queue.Enqueue(ctx, op, gateway.WithName("fetch item "+id))
	if err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", id, err)
	}
	fetched, _ := v.(*types.Item)
	if fetched == nil {
		return nil, fmt.Errorf("item %s: %w", id, types.ErrNotFound)
	}
	if err := s.cache.Set(ctx, s.ItemKey(facetItems, fetched.ID), fetched, time.Time{}); err != nil {
		return nil, fmt.Errorf("cache item %s: %w", fetched.ID, err)
	}
	return fetched, nil
}

// timeoutMarker is returned by a fetch whose timer fired first.
type timeoutMarker struct{}

// fetch runs fn on the queue under the fetch timeout. A timeout yields
// timedOut=true and no error.
func (s *Synchronizer) fetch(ctx context.Context, name string, fn func(context.Context) ([]types.Item, error)) ([]types.Item, bool, error) {
	s.setPhase(PhaseFetching)

	op := gateway.WithTimeout(s.opts.FetchTimeout, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, func() any { return timeoutMarker{} })

	v, err := s.queue.Enqueue(ctx, op, gateway.WithName(name))
	if err != nil {
		s.setPhase(PhaseIdle)
		return nil, false, fmt.Errorf("%s: %w", name, err)
	}
	switch v := v.(type) {
	case timeoutMarker:
		s.setPhase(PhaseIdle)
		slog.Warn("fetch timed out", "account", s.account.ID, "operation", name, "timeout", s.opts.FetchTimeout)
		return nil, true, nil
	case []types.Item:
		return v, false, nil
	default:
		return nil, false, nil
	}
}

func (s *Synchronizer) snapshot(ctx context.Context, facet string, items []types.Item) error {
	if len(items) == 0 {
		return nil
	}
	var expires time.Time
	if s.opts.SnapshotTTL > 0 {
		expires = s.now().Add(s.opts.SnapshotTTL)
	}
	return s.cache.Set(ctx, s.Key(facet), items, expires)
}

func (s *Synchronizer) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// newerID orders snowflake-style numeric ids: longer is newer, equal lengths
// compare lexically.
func newerID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
