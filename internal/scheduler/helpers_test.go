package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/feedlane/internal/feed"
	"github.com/user/feedlane/internal/gateway"
	"github.com/user/feedlane/internal/state"
	"github.com/user/feedlane/internal/types"
)

var testAccount = types.Account{ID: "alice", UserID: "u-alice", ScreenName: "alice"}

type stubSource struct {
	mu       sync.Mutex
	timeline []types.Item
	mentions []types.Item
	queries  []string
}

func (s *stubSource) FetchTimeline(context.Context, int) ([]types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Item(nil), s.timeline...), nil
}

func (s *stubSource) FetchMentions(context.Context, string) ([]types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Item(nil), s.mentions...), nil
}

func (s *stubSource) Search(_ context.Context, query string, _ int) ([]types.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return nil, nil
}

func (s *stubSource) searched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type recordingDeliverer struct {
	mu      sync.Mutex
	calls   atomic.Int32
	targets []string
	texts   []string
}

func (d *recordingDeliverer) Deliver(_ context.Context, target, text string) (*types.Item, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, target)
	d.texts = append(d.texts, text)
	return &types.Item{ID: "new", Text: text}, nil
}

type fixedComposer struct {
	text string
}

func (c fixedComposer) ComposePost(context.Context, []types.Item) (string, error) {
	return c.text, nil
}

func (c fixedComposer) ComposeArticle(_ context.Context, a *types.Article) (string, error) {
	return c.text + " " + a.Title, nil
}

func (c fixedComposer) ComposeReply(_ context.Context, item types.Item) (string, error) {
	return c.text + " @" + item.Username, nil
}

func newTestSync(t *testing.T, src types.ItemSource) *feed.Synchronizer {
	t.Helper()
	dir := t.TempDir()
	q := gateway.NewQueue(testAccount.ID, &gateway.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}, nil)
	q.Start(context.Background())
	t.Cleanup(q.Stop)

	opts := feed.DefaultOptions()
	opts.FetchTimeout = time.Second
	s, err := feed.New(testAccount, q, src, state.NewCacheStore(dir), state.NewConversationStore(dir), opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}
