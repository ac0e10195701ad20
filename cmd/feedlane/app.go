package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/user/feedlane/internal/config"
	"github.com/user/feedlane/internal/feed"
	"github.com/user/feedlane/internal/gateway"
	"github.com/user/feedlane/internal/source"
	"github.com/user/feedlane/internal/state"
	"github.com/user/feedlane/internal/types"
)

// recordStore is a conversation store that can also be browsed.
type recordStore interface {
	types.ConversationStore
	state.RecordBrowser
}

type storage struct {
	cache   types.CacheStore
	records recordStore
	close   func() error
}

// openStorage opens the backend selected by storage.backend.
func openStorage(cfg *config.Config) (*storage, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	switch cfg.Storage.Backend {
	case "", "file":
		return &storage{
			cache:   state.NewCacheStore(cfg.DataDir),
			records: state.NewConversationStore(cfg.DataDir),
			close:   func() error { return nil },
		}, nil
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "feedlane.db")
		}
		db, err := state.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return &storage{cache: db, records: db, close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// app holds everything a command needs to talk to the source for the
// configured account.
type app struct {
	cfg      *config.Config
	store    *storage
	registry *gateway.Registry
	queue    *gateway.Queue
	client   *source.Client
	sync     *feed.Synchronizer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	backoff := &gateway.Backoff{
		Base:      cfg.Queue.BackoffBase(),
		Max:       cfg.Queue.BackoffMax(),
		JitterMin: cfg.Queue.JitterMin(),
		JitterMax: cfg.Queue.JitterMax(),
	}
	registry := gateway.NewRegistry(backoff, int64(cfg.MaxConcurrent))
	registry.Start(ctx)

	a := &app{cfg: cfg, store: store, registry: registry}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	accountID := types.AccountID(cfg.Account.ID)
	a.queue, err = registry.Add(accountID)
	if err != nil {
		return fail(fmt.Errorf("add account queue: %w", err))
	}
	a.client = source.NewClient(cfg.Source.BaseURL, cfg.Source.APIKey, cfg.Source.Timeout())

	account := types.Account{ID: accountID, UserID: cfg.Account.UserID, ScreenName: cfg.Account.ScreenName}
	if account.UserID == "" {
		account, err = feed.ResolveAccount(ctx, a.queue, a.client, store.cache, cfg.Sync.Namespace, accountID, cfg.Account.ScreenName)
		if err != nil {
			return fail(fmt.Errorf("resolve account: %w", err))
		}
	}

	a.sync, err = feed.New(account, a.queue, a.client, store.cache, store.records, feed.Options{
		Namespace:     cfg.Sync.Namespace,
		TimelineCount: cfg.Sync.TimelineCount,
		ReducedCount:  cfg.Sync.ReducedCount,
		MentionsCount: cfg.Sync.MentionsCount,
		SearchCount:   cfg.Sync.SearchCount,
		FetchTimeout:  cfg.Sync.FetchTimeout(),
		SnapshotTTL:   cfg.Sync.SnapshotTTL(),
	})
	if err != nil {
		return fail(err)
	}
	slog.Debug("account ready", "account", account.ID, "user_id", account.UserID, "screen_name", account.ScreenName)
	return a, nil
}

// Close stops the account queue and closes storage.
func (a *app) Close() {
	a.registry.Stop()
	if err := a.store.close(); err != nil {
		slog.Error("close storage failed", "error", err)
	}
}
