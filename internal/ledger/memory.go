package ledger

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/raphaelgruber/pmchat/internal/models"
)

// MemoryStore keeps entries in process memory. Entries do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]models.LedgerEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.LedgerEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key models.LedgerKey) (models.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.String()]
	return e, ok, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, entry models.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entry.Key.String()
	if _, ok := s.entries[k]; ok {
		return false, nil
	}
	s.entries[k] = entry
	return true, nil
}

func (s *MemoryStore) Put(_ context.Context, entry models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key.String()] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key models.LedgerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key.String())
	return nil
}

func (s *MemoryStore) List(_ context.Context, conversationID string) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterSorted(s.entries, conversationID), nil
}

// filterSorted returns the entries of a conversation (all when empty), oldest first.
func filterSorted(entries map[string]models.LedgerEntry, conversationID string) []models.LedgerEntry {
	out := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if conversationID == "" || e.Key.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b models.LedgerEntry) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.Key.String(), b.Key.String()))
	})
	return out
}
