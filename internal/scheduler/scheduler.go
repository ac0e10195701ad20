// Package scheduler drives the periodic sync, posting and action cycles and
// runs saved searches on their cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/user/feedlane/internal/feed"
	"github.com/user/feedlane/internal/state"
)

// Searcher runs a query and persists its hits.
type Searcher interface {
	Search(ctx context.Context, query string, count int) (*feed.Result, error)
}

// Searches fires saved searches from the search store on their cron
// schedules. A search still running when its next tick arrives is skipped.
type Searches struct {
	store    *state.SearchStore
	searcher Searcher

	mu   sync.Mutex
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewSearches creates a Searches runner backed by the given store.
func NewSearches(store *state.SearchStore, searcher Searcher) *Searches {
	return &Searches{
		store:    store,
		searcher: searcher,
		cron:     newCron(),
	}
}

func newCron() *cron.Cron {
	logger := cronLogger{}
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}

// Start registers every enabled search that has a schedule and starts the
// cron ticker.
func (s *Searches) Start() error {
	searches, err := s.store.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, search := range searches {
		if search.Schedule == "" || !search.Enabled {
			continue
		}

		name, query, count, schedule := search.Name, search.Query, search.Count, search.Schedule
		_, err := s.cron.AddFunc(schedule, func() {
			slog.Info("cron firing search", "name", name, "query", query)
			if _, err := s.searcher.Search(context.Background(), query, count); err != nil {
				slog.Error("saved search failed", "name", name, "query", query, "error", err)
			}
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", schedule, "error", err)
			continue
		}
		slog.Info("scheduled search", "name", name, "schedule", schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start again.
func (s *Searches) Reload() error {
	s.mu.Lock()
	s.cron.Stop()
	s.cron = newCron()
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker. Running searches are not interrupted.
func (s *Searches) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
}

// Entries reports how many searches are currently scheduled.
func (s *Searches) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cron.Entries())
}

// RunNow runs the named search once regardless of its schedule or enabled flag.
func (s *Searches) RunNow(ctx context.Context, name string) (*feed.Result, error) {
	search, err := s.store.Get(name)
	if err != nil {
		return nil, err
	}
	res, err := s.searcher.Search(ctx, search.Query, search.Count)
	if err != nil {
		return nil, fmt.Errorf("run search %s: %w", name, err)
	}
	return res, nil
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
