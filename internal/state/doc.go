// Package state provides filesystem- and SQLite-backed storage implementations.
package state

import (
	"context"

	"github.com/user/feedlane/internal/types"
)

// RecordBrowser lists rooms and their recent records for operator tooling.
type RecordBrowser interface {
	Rooms(ctx context.Context) ([]types.RoomID, error)
	Tail(ctx context.Context, room types.RoomID, limit int) ([]*types.Record, error)
}

// Compile-time interface compliance checks.
var _ types.CacheStore = (*CacheStore)(nil)
var _ types.ConversationStore = (*ConversationStore)(nil)
var _ RecordBrowser = (*ConversationStore)(nil)
var _ types.CacheStore = (*SQLiteStore)(nil)
var _ types.ConversationStore = (*SQLiteStore)(nil)
var _ RecordBrowser = (*SQLiteStore)(nil)
