package transport

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// tokenCache holds the Authorization header value for one Client. It starts
// empty, is filled on first use and is emptied whenever the store answers 401.
type tokenCache struct {
	provider AuthHeaderFunc

	mu    sync.Mutex
	value string

	group singleflight.Group
}

func newTokenCache(provider AuthHeaderFunc) *tokenCache {
	return &tokenCache{provider: provider}
}

// get returns the cached header, fetching it when absent. Concurrent callers
// share one in-flight fetch.
func (t *tokenCache) get(ctx context.Context) (string, error) {
	if t.provider == nil {
		return "", nil
	}
	if v := t.cached(); v != "" {
		return v, nil
	}
	v, err, _ := t.group.Do("authorization", func() (any, error) {
		header, err := t.provider(ctx)
		if err != nil {
			return "", err
		}
		t.mu.Lock()
		t.value = header
		t.mu.Unlock()
		return header, nil
	})
	if err != nil {
		return "", fmt.Errorf("transport: fetch authorization header: %w", err)
	}
	return v.(string), nil
}

func (t *tokenCache) cached() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// invalidate clears the cache if it still holds used. A header fetched after
// used was sent is fresh and stays.
func (t *tokenCache) invalidate(used string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if used == "" || t.value == used {
		t.value = ""
	}
}
