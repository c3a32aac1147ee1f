package entry

import (
	"sort"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Add(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.EntryID]; ok {
		return ErrAlreadyExists
	}
	if e.UniqueID != "" {
		for _, existing := range s.entries {
			if existing.Domain == e.Domain && existing.UniqueID == e.UniqueID {
				return ErrAlreadyExists
			}
		}
	}
	s.entries[e.EntryID] = e
	return nil
}

func (s *MemoryStore) Get(entryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) FindByUniqueID(domain, uniqueID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Domain == domain && e.UniqueID == uniqueID {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) List(domain string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Entry{}
	for _, e := range s.entries {
		if domain == "" || e.Domain == domain {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Remove(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entryID]; !ok {
		return ErrNotFound
	}
	delete(s.entries, entryID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
