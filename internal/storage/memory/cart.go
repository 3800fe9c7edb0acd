package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/oolio-kart-checkout/internal/domain/cart"
)

var _ cart.Clearer = (*CartStore)(nil)

// CartStore holds per-user cart contents and counts clears.
type CartStore struct {
	mu     sync.Mutex
	lines  map[string][]cart.Line
	clears map[string]int
}

// NewCartStore returns an empty CartStore.
func NewCartStore() *CartStore {
	return &CartStore{
		lines:  make(map[string][]cart.Line),
		clears: make(map[string]int),
	}
}

// Put replaces the user's cart contents.
func (s *CartStore) Put(_ context.Context, userID string, items []cart.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[userID] = slices.Clone(items)
	return nil
}

// Lines returns the user's cart contents.
func (s *CartStore) Lines(userID string) []cart.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines[userID])
}

func (s *CartStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, userID)
	s.clears[userID]++
	return nil
}

// Clears returns how many times the user's cart was cleared.
func (s *CartStore) Clears(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears[userID]
}
