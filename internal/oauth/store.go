package oauth

import (
	"context"
	"sort"
	"sync"
)

// CacheKey identifies one cached credential. URL is the token endpoint, or
// the authorization URL for implicit grants.
type CacheKey struct {
	CollectionUID string
	URL           string
	CredentialsID string
}

type Entry struct {
	Key         CacheKey
	Credentials Credentials
}

// Store persists credentials. Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key CacheKey) (Credentials, bool, error)
	Put(ctx context.Context, key CacheKey, creds Credentials) error
	Delete(ctx context.Context, key CacheKey) error
	List(ctx context.Context, collectionUID string) ([]Entry, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[CacheKey]Credentials
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[CacheKey]Credentials)}
}

func (s *MemoryStore) Get(_ context.Context, key CacheKey) (Credentials, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[key]
	return c, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key CacheKey, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[CacheKey]Credentials)
	}
	s.items[key] = creds
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, collectionUID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for k, v := range s.items {
		if k.CollectionUID == collectionUID {
			out = append(out, Entry{Key: k, Credentials: v})
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		return a.CredentialsID < b.CredentialsID
	})
}
