// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
	"time"
)

// CacheStore is a key/value store with optional per-entry expiry. A zero
// expires means the entry never expires.
type CacheStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value any, expires time.Time) error
}

// ConversationStore is an append-only record store keyed by room.
// Append must be a no-op for a record id that is already stored.
type ConversationStore interface {
	RecordsIn(ctx context.Context, rooms []RoomID) ([]*Record, error)
	RecordByID(ctx context.Context, id RecordID) (*Record, error)
	Append(ctx context.Context, record *Record) error
}

// ItemSource produces items; how it obtains them is opaque.
type ItemSource interface {
	FetchTimeline(ctx context.Context, count int) ([]Item, error)
	FetchMentions(ctx context.Context, sinceID string) ([]Item, error)
	Search(ctx context.Context, query string, count int) ([]Item, error)
}

// ItemFetcher is implemented by sources that can fetch a single item.
type ItemFetcher interface {
	FetchItem(ctx context.Context, id string) (*Item, error)
}

// ProfileFetcher is implemented by sources that can resolve an account.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, username string) (*Account, error)
}

// Poster is implemented by sources that can publish new items.
type Poster interface {
	Post(ctx context.Context, text string) (*Item, error)
}

// Replier is implemented by sources that can publish a reply to an item.
type Replier interface {
	Reply(ctx context.Context, inReplyToID, text string) (*Item, error)
}
