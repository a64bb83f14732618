// Package provider syncs data from flaky local sources (mail,
// calendar, messaging) into the assistant. Every provider call goes
// through its circuit breaker, and repeated identifier lookups are
// memoized in a small LRU cache.
package provider

import (
	"context"
	"sync"
	"time"
)

// Item is one unit of synced provider data
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is a fallible local data source. Fetch must return a
// distinguishable error rather than hang; callers wrap it in a timeout.
type Provider interface {
	// Name identifies the provider and its circuit breaker
	Name() string
	// Capability names the feature gating this provider's sync
	Capability() string
	// Fetch returns the provider's current items
	Fetch(ctx context.Context) ([]Item, error)
	// ResolveCollection maps a human-readable collection name (a mail
	// folder, a calendar) to its stable identifier
	ResolveCollection(ctx context.Context, name string) (string, error)
}

// Sink receives synced items
type Sink interface {
	Store(ctx context.Context, provider string, items []Item) error
}

// MemorySink holds the latest synced items per provider in memory
type MemorySink struct {
	mu    sync.RWMutex
	items map[string][]Item
}

// NewMemorySink creates an empty sink
func NewMemorySink() *MemorySink {
	return &MemorySink{items: make(map[string][]Item)}
}

// Store replaces the provider's items with the latest sync result
func (s *MemorySink) Store(ctx context.Context, provider string, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[provider] = items
	return nil
}

// Items returns a copy of the provider's last synced items
func (s *MemorySink) Items(provider string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items[provider]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Counts returns the number of items held per provider
func (s *MemorySink) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.items))
	for provider, items := range s.items {
		counts[provider] = len(items)
	}
	return counts
}
