package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/feedlane/internal/feed"
	"github.com/user/feedlane/internal/types"
)

// Bookkeeping declares whether a cycle writes its local state in dry-run mode.
// Remote side effects are always suppressed in dry run.
type Bookkeeping int

const (
	// BookkeepingAlways writes local state in both modes.
	BookkeepingAlways Bookkeeping = iota
	// BookkeepingLiveOnly writes local state only when the post was sent.
	BookkeepingLiveOnly
)

func (b Bookkeeping) applies(dryRun bool) bool {
	return !dryRun || b == BookkeepingAlways
}

func (b Bookkeeping) String() string {
	if b == BookkeepingLiveOnly {
		return "live-only"
	}
	return "always"
}

// FeedTarget is the delivery target for posts on the tracked feed itself.
const FeedTarget = "feed"

// ReplyTarget returns the delivery target for a reply to itemID.
func ReplyTarget(itemID string) string {
	return FeedTarget + ":reply:" + itemID
}

// Deliverer sends text to a target such as "feed" or "telegram:<chat>".
type Deliverer interface {
	Deliver(ctx context.Context, target, text string) (*types.Item, error)
}

// PostComposer writes a new post given recent timeline items.
type PostComposer interface {
	ComposePost(ctx context.Context, timeline []types.Item) (string, error)
}

// ArticleComposer writes a post announcing an article.
type ArticleComposer interface {
	ComposeArticle(ctx context.Context, article *types.Article) (string, error)
}

// ReplyComposer writes a reply to item, or "" to leave it unanswered.
type ReplyComposer interface {
	ComposeReply(ctx context.Context, item types.Item) (string, error)
}

// ArticleReader fetches a page as an article.
type ArticleReader interface {
	Read(ctx context.Context, url string) (*types.Article, error)
}

// publish delivers text to every target, or logs the payload in dry run.
func publish(ctx context.Context, d Deliverer, dryRun bool, cycle string, targets []string, text string) error {
	for _, target := range targets {
		if dryRun {
			slog.Info("dry run: would publish", "cycle", cycle, "target", target, "payload", text)
			continue
		}
		if _, err := d.Deliver(ctx, target, text); err != nil {
			return fmt.Errorf("deliver to %s: %w", target, err)
		}
		slog.Info("published", "cycle", cycle, "target", target, "length", utf8.RuneCountInString(text))
	}
	return nil
}

// PostCycle composes and publishes a new post from the current timeline.
// last_post_at is written in both modes.
type PostCycle struct {
	Sync        *feed.Synchronizer
	Composer    PostComposer
	Deliverer   Deliverer
	Targets     []string
	MaxLength   int
	DryRun      bool
	Bookkeeping Bookkeeping
	now         func() time.Time
}

// Run performs one posting cycle.
func (c *PostCycle) Run(ctx context.Context) error {
	if _, err := c.Sync.SyncTimeline(ctx, true); err != nil {
		return fmt.Errorf("sync timeline: %w", err)
	}
	timeline, _, err := c.Sync.CachedTimeline(ctx)
	if err != nil {
		return err
	}

	text, err := c.Composer.ComposePost(ctx, timeline)
	if err != nil {
		return fmt.Errorf("compose post: %w", err)
	}
	text = Truncate(strings.TrimSpace(text), c.MaxLength)
	if text == "" {
		slog.Warn("composer returned empty post", "account", c.Sync.Account().ID)
		return nil
	}

	if err := publish(ctx, c.Deliverer, c.DryRun, "post", targetsOr(c.Targets), text); err != nil {
		return err
	}
	if !c.Bookkeeping.applies(c.DryRun) {
		return nil
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	if err := c.Sync.Cache().Set(ctx, c.Sync.Key(feed.FacetLastPost), now().UnixMilli(), time.Time{}); err != nil {
		return fmt.Errorf("record last post time: %w", err)
	}
	return nil
}

// ArticleCycle announces the page at URL once per distinct article URL.
// last_article_url only advances when the post was actually sent.
type ArticleCycle struct {
	Sync        *feed.Synchronizer
	Reader      ArticleReader
	Composer    ArticleComposer
	Deliverer   Deliverer
	URL         string
	Targets     []string
	MaxLength   int
	DryRun      bool
	Bookkeeping Bookkeeping
}

// Run performs one article cycle.
func (c *ArticleCycle) Run(ctx context.Context) error {
	article, err := c.Reader.Read(ctx, c.URL)
	if err != nil {
		return fmt.Errorf("read article %s: %w", c.URL, err)
	}

	key := c.Sync.Key(feed.FacetLastArticle)
	var last string
	if raw, ok, err := c.Sync.Cache().Get(ctx, key); err != nil {
		return fmt.Errorf("read last article url: %w", err)
	} else if ok {
		if err := json.Unmarshal(raw, &last); err != nil {
			return fmt.Errorf("decode last article url: %w", err)
		}
	}
	if article.URL == last {
		slog.Debug("article already posted", "url", article.URL)
		return nil
	}

	text, err := c.Composer.ComposeArticle(ctx, article)
	if err != nil {
		return fmt.Errorf("compose article post: %w", err)
	}
	text = TruncateWithSuffix(strings.TrimSpace(text), article.URL, c.MaxLength)

	if err := publish(ctx, c.Deliverer, c.DryRun, "article", targetsOr(c.Targets), text); err != nil {
		return err
	}
	if !c.Bookkeeping.applies(c.DryRun) {
		return nil
	}
	if err := c.Sync.Cache().Set(ctx, key, article.URL, time.Time{}); err != nil {
		return fmt.Errorf("record last article url: %w", err)
	}
	return nil
}

// ActionCycle pulls new mentions and answers the pending ones not yet
// handled. A mention leaves the pending set only after its handled marker is
// written, so a failed compose or delivery is retried on the next cycle.
// Items authored by the tracked account are ignored. Items are marked
// handled in both modes. A reply the source rejects is marked handled too.
type ActionCycle struct {
	Sync        *feed.Synchronizer
	Composer    ReplyComposer
	Deliverer   Deliverer
	MaxLength   int
	DryRun      bool
	Bookkeeping Bookkeeping
}

// Run performs one action cycle.
func (c *ActionCycle) Run(ctx context.Context) error {
	if _, err := c.Sync.SyncMentionsFromCursor(ctx); err != nil {
		return fmt.Errorf("sync mentions: %w", err)
	}
	pending, err := c.Sync.PendingMentions(ctx)
	if err != nil {
		return err
	}
	for _, item := range pending {
		if err := c.answer(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (c *ActionCycle) answer(ctx context.Context, item types.Item) error {
	if c.Sync.Account().Owns(item) {
		return c.Sync.ResolveMention(ctx, item.ID)
	}
	handledKey := c.Sync.ItemKey(feed.FacetHandled, item.ID)
	if _, done, err := c.Sync.Cache().Get(ctx, handledKey); err != nil {
		return fmt.Errorf("read handled marker for item %s: %w", item.ID, err)
	} else if done {
		return c.Sync.ResolveMention(ctx, item.ID)
	}

	text, err := c.Composer.ComposeReply(ctx, item)
	if err != nil {
		return fmt.Errorf("compose reply to item %s: %w", item.ID, err)
	}
	text = Truncate(strings.TrimSpace(text), c.MaxLength)
	if text != "" {
		err := publish(ctx, c.Deliverer, c.DryRun, "action", []string{ReplyTarget(item.ID)}, text)
		switch {
		case errors.Is(err, types.ErrRejected):
			slog.Warn("reply rejected, not retrying", "account", c.Sync.Account().ID, "item_id", item.ID, "error", err)
		case err != nil:
			return fmt.Errorf("reply to item %s: %w", item.ID, err)
		}
	}

	if !c.Bookkeeping.applies(c.DryRun) {
		return nil
	}
	if err := c.Sync.Cache().Set(ctx, handledKey, true, time.Time{}); err != nil {
		return fmt.Errorf("mark item %s handled: %w", item.ID, err)
	}
	return c.Sync.ResolveMention(ctx, item.ID)
}

func targetsOr(targets []string) []string {
	if len(targets) == 0 {
		return []string{FeedTarget}
	}
	return targets
}

// Truncate cuts text to at most max runes. A non-positive max disables it.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}

// TruncateWithSuffix makes sure text ends with suffix and fits in max runes,
// shortening the body rather than the suffix.
func TruncateWithSuffix(text, suffix string, max int) string {
	if suffix == "" {
		return Truncate(text, max)
	}
	body := strings.TrimSpace(strings.TrimSuffix(text, suffix))
	if max <= 0 {
		return strings.TrimSpace(body + " " + suffix)
	}
	room := max - utf8.RuneCountInString(suffix) - 1
	if room <= 0 {
		return Truncate(suffix, max)
	}
	body = strings.TrimSpace(Truncate(body, room))
	if body == "" {
		return suffix
	}
	return body + " " + suffix
}
