package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/feedlane/internal/gateway"
	"github.com/user/feedlane/internal/types"
)

// ResolveAccount returns the profile for screenName, reading the cached
// <namespace>/<id>/profile entry before asking the source through the queue.
// A profile without a user id is a precondition failure.
func ResolveAccount(ctx context.Context, q *gateway.Queue, source types.ItemSource, cache types.CacheStore, namespace string, id types.AccountID, screenName string) (types.Account, error) {
	key := types.CacheKey(namespace, id, facetProfile)

	raw, ok, err := cache.Get(ctx, key)
	if err != nil {
		return types.Account{}, fmt.Errorf("read cached profile: %w", err)
	}
	if ok {
		var account types.Account
		if err := json.Unmarshal(raw, &account); err != nil {
			return types.Account{}, fmt.Errorf("decode cached profile: %w", err)
		}
		account.ID = id
		if err := account.Validate(); err == nil {
			return account, nil
		}
	}

	fetcher, ok := source.(types.ProfileFetcher)
	if !ok || screenName == "" {
		return types.Account{}, fmt.Errorf("resolve account %s: %w", id, types.ErrMissingIdentity)
	}

	profile, err := gateway.Do(ctx, q, func(ctx context.Context) (*types.Account, error) {
		return fetcher.FetchProfile(ctx, screenName)
	}, gateway.WithName("fetch profile "+screenName))
	if err != nil {
		return types.Account{}, fmt.Errorf("fetch profile %s: %w", screenName, err)
	}
	if profile == nil {
		return types.Account{}, fmt.Errorf("resolve account %s: %w", id, types.ErrMissingIdentity)
	}

	account := *profile
	account.ID = id
	if account.ScreenName == "" {
		account.ScreenName = screenName
	}
	if err := account.Validate(); err != nil {
		return types.Account{}, fmt.Errorf("resolve account %s: %w", id, err)
	}
	if err := cache.Set(ctx, key, account, time.Time{}); err != nil {
		return types.Account{}, fmt.Errorf("cache profile: %w", err)
	}
	return account, nil
}
