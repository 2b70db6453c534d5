// Package creators holds the creator entity referenced from item creator
// slots, and a registry that hands out one canonical instance per creator.
package creators

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	repo "github.com/dmitrijs2005/refstore/internal/server/repositories/creators"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Creator is a person or organisation. Name changes are kept in memory until Save.
type Creator struct {
	registry *Registry

	id        int64
	libraryID int64
	key       string
	firstName string
	lastName  string
	fieldMode int
	dateAdded time.Time
	changed   bool
}

func (c *Creator) ID() int64 { return c.id }
func (c *Creator) LibraryID() int64 { return c.libraryID }
func (c *Creator) Key() string { return c.key }
func (c *Creator) FirstName() string { return c.firstName }
func (c *Creator) LastName() string { return c.lastName }
func (c *Creator) FieldMode() int { return c.fieldMode }
func (c *Creator) HasChanged() bool { return c.changed }

// SetName replaces the name parts. fieldMode 1 keeps the whole name in last.
func (c *Creator) SetName(first, last string, fieldMode int) {
	if c.firstName == first && c.lastName == last && c.fieldMode == fieldMode {
		return
	}
	c.firstName, c.lastName, c.fieldMode = first, last, fieldMode
	c.changed = true
}

// Save writes pending changes. A new creator gets its id and key here.
func (c *Creator) Save(ctx context.Context) error {
	if !c.changed {
		return nil
	}
	r := c.registry
	db, err := r.shards.ShardDB(ctx, c.libraryID)
	if err != nil {
		return err
	}
	now := r.now().UTC().Truncate(time.Second)
	row := &models.Creator{
		ID:           c.id,
		LibraryID:    c.libraryID,
		Key:          c.key,
		FirstName:    c.firstName,
		LastName:     c.lastName,
		FieldMode:    c.fieldMode,
		DateAdded:    c.dateAdded,
		DateModified: now,
	}

	if c.id == 0 {
		if row.ID, err = r.ids.NextCreatorID(ctx); err != nil {
			return fmt.Errorf("creator id: %w", err)
		}
		if row.Key, err = r.ids.NewKey(); err != nil {
			return err
		}
		row.DateAdded = now
		if err := r.repos.Creators(db).Insert(ctx, row); err != nil {
			return err
		}
		c.id, c.key, c.dateAdded = row.ID, row.Key, row.DateAdded
		r.entries.Add(c.id, c)
	} else if err := r.repos.Creators(db).Update(ctx, row); err != nil {
		return err
	}

	c.changed = false
	return nil
}

// ShardResolver finds the shard pool of a library.
type ShardResolver interface {
	ShardDB(ctx context.Context, libraryID int64) (*sql.DB, error)
}

// Repos vends creator repositories.
type Repos interface {
	Creators(db dbx.DBTX) repo.Repository
}

// Allocator hands out creator ids and keys.
type Allocator interface {
	NextCreatorID(ctx context.Context) (int64, error)
	NewKey() (string, error)
}

type Registry struct {
	shards  ShardResolver
	repos   Repos
	ids     Allocator
	entries *lru.Cache[int64, *Creator]
	now     func() time.Time
}

func NewRegistry(shards ShardResolver, repos Repos, ids Allocator, size int) (*Registry, error) {
	entries, err := lru.New[int64, *Creator](size)
	if err != nil {
		return nil, err
	}
	return &Registry{shards: shards, repos: repos, ids: ids, entries: entries, now: time.Now}, nil
}

// New returns an unsaved creator in libraryID.
func (r *Registry) New(libraryID int64) *Creator {
	return &Creator{registry: r, libraryID: libraryID}
}

// Get returns the canonical creator id of libraryID, or common.ErrorNotFound.
func (r *Registry) Get(ctx context.Context, libraryID, id int64) (*Creator, error) {
	if c, ok := r.entries.Get(id); ok {
		if c.libraryID != libraryID {
			return nil, fmt.Errorf("creator %d in library %d: %w", id, libraryID, common.ErrorNotFound)
		}
		return c, nil
	}

	db, err := r.shards.ShardDB(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	row, err := r.repos.Creators(db).SelectByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("creator %d: %w", id, err)
	}
	if row.LibraryID != libraryID {
		return nil, fmt.Errorf("creator %d in library %d: %w", id, libraryID, common.ErrorNotFound)
	}

	c := &Creator{
		registry:  r,
		id:        row.ID,
		libraryID: row.LibraryID,
		key:       row.Key,
		firstName: row.FirstName,
		lastName:  row.LastName,
		fieldMode: row.FieldMode,
		dateAdded: row.DateAdded,
	}
	r.entries.Add(id, c)
	return c, nil
}
