package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/foxzi/flint/internal/kv"
)

// Scope identifies the AI outputs of one visitor run of one campaign.
type Scope struct {
	CampaignID string
	SessionID  string
}

func (s Scope) key() string {
	return "ai:" + s.CampaignID + ":" + s.SessionID
}

// ResultsCache keeps the outputs of logic sections for a scope.
type ResultsCache interface {
	Load(ctx context.Context, scope Scope) (map[string]string, error)
	Store(ctx context.Context, scope Scope, values map[string]string) error
	Clear(ctx context.Context, scope Scope) error
}

// KVResultsCache stores each scope as one JSON object.
type KVResultsCache struct {
	store kv.Store
	ttl   time.Duration
	mu    sync.Mutex
}

func NewKVResultsCache(store kv.Store, ttl time.Duration) *KVResultsCache {
	return &KVResultsCache{store: store, ttl: ttl}
}

func (c *KVResultsCache) Load(ctx context.Context, scope Scope) (map[string]string, error) {
	data, err := c.store.Get(ctx, scope.key())
	if errors.Is(err, kv.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ai results: %w", err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to decode ai results: %w", err)
	}
	return values, nil
}

// Store merges values into whatever the scope already holds.
func (c *KVResultsCache) Store(ctx context.Context, scope Scope, values map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.Load(ctx, scope)
	if err != nil {
		return err
	}
	for k, v := range values {
		current[k] = v
	}

	data, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode ai results: %w", err)
	}
	return c.store.Set(ctx, scope.key(), data, c.ttl)
}

func (c *KVResultsCache) Clear(ctx context.Context, scope Scope) error {
	return c.store.Delete(ctx, scope.key())
}
