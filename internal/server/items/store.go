package items

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/refstore/internal/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

type storeKey struct {
	libraryID int64
	id        int64
}

// Store creates items and keeps one canonical instance per saved item.
// Items handed out by a Store are not safe for concurrent mutation.
type Store struct {
	deps    Deps
	entries *lru.Cache[storeKey, *Item]
}

// NewStore fills unset optional dependencies and sizes the canonical cache.
func NewStore(deps Deps, size int) (*Store, error) {
	if deps.Shards == nil || deps.Repos == nil || deps.IDs == nil || deps.Values == nil || deps.Creators == nil {
		return nil, fmt.Errorf("items: missing required dependency")
	}
	deps.setDefaults()
	entries, err := lru.New[storeKey, *Item](size)
	if err != nil {
		return nil, err
	}
	return &Store{deps: deps, entries: entries}, nil
}

// New returns an empty unsaved item.
func (s *Store) New() *Item {
	return newItem(s)
}

// Get returns the canonical item id of libraryID, loading it on first use.
// A missing item is common.ErrorNotFound.
func (s *Store) Get(ctx context.Context, libraryID, id int64) (*Item, error) {
	it, found, err := s.Lookup(ctx, libraryID, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("item %d/%d: %w", libraryID, id, common.ErrorNotFound)
	}
	return it, nil
}

// Lookup is Get that reports a missing item as (nil, false, nil).
func (s *Store) Lookup(ctx context.Context, libraryID, id int64) (*Item, bool, error) {
	if it, ok := s.entries.Get(storeKey{libraryID, id}); ok {
		return it, true, nil
	}
	it := newItem(s)
	it.libraryID, it.id = libraryID, id
	found, err := it.loadPrimary(ctx)
	if err != nil || !found {
		return nil, false, err
	}
	s.put(it)
	return it, true, nil
}

// GetByKey is Get addressed by the public key.
func (s *Store) GetByKey(ctx context.Context, libraryID int64, key string) (*Item, error) {
	it, found, err := s.LookupByKey(ctx, libraryID, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("item %d/%s: %w", libraryID, key, common.ErrorNotFound)
	}
	return it, nil
}

// LookupByKey is Lookup addressed by the public key.
func (s *Store) LookupByKey(ctx context.Context, libraryID int64, key string) (*Item, bool, error) {
	it := newItem(s)
	it.libraryID, it.key = libraryID, key
	found, err := it.loadPrimary(ctx)
	if err != nil || !found {
		return nil, false, err
	}
	if cached, ok := s.entries.Get(storeKey{libraryID, it.id}); ok {
		return cached, true, nil
	}
	s.put(it)
	return it, true, nil
}

// Evict drops the canonical copy so the next Get reloads from storage.
func (s *Store) Evict(libraryID, id int64) {
	s.entries.Remove(storeKey{libraryID, id})
}

func (s *Store) put(it *Item) {
	s.entries.Add(storeKey{it.libraryID, it.id}, it)
}

// refresh makes it the canonical copy of a just saved item.
func (s *Store) refresh(it *Item, isNew bool) {
	k := storeKey{it.libraryID, it.id}
	if cached, ok := s.entries.Peek(k); ok && cached != it {
		s.entries.Remove(k)
	}
	if isNew {
		s.put(it)
	}
}
