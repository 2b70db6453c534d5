package items

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/logging"
	"github.com/dmitrijs2005/refstore/internal/server/cache"
	"github.com/dmitrijs2005/refstore/internal/server/events"
	"github.com/dmitrijs2005/refstore/internal/server/metrics"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	repo "github.com/dmitrijs2005/refstore/internal/server/repositories/items"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
	"github.com/dmitrijs2005/refstore/internal/server/search"
)

// DefaultDataBatchSize is the number of item data rows written per statement.
const DefaultDataBatchSize = 40

// ShardResolver maps a library to its shard pool and library type.
type ShardResolver interface {
	ShardDB(ctx context.Context, libraryID int64) (*sql.DB, error)
	LibraryType(ctx context.Context, libraryID int64) (models.LibraryType, error)
}

// Repos vends item repositories bound to a pool or a transaction.
type Repos interface {
	Items(db dbx.DBTX) repo.Repository
}

// Allocator hands out item ids and keys.
type Allocator interface {
	NextItemID(ctx context.Context) (int64, error)
	NewKey() (string, error)
}

// ValueInterner stores field values by content hash.
type ValueInterner interface {
	Hash(ctx context.Context, db dbx.DBTX, value string) (string, error)
	ResolveMany(ctx context.Context, db dbx.DBTX, hashes []string) (map[string]string, error)
}

// CreatorRef is what an item needs from a creator placed in one of its slots.
type CreatorRef interface {
	ID() int64
	LibraryID() int64
	LastName() string
	HasChanged() bool
	Save(ctx context.Context) error
}

// CreatorRegistry returns the canonical creator of a library.
type CreatorRegistry interface {
	Get(ctx context.Context, libraryID, id int64) (CreatorRef, error)
}

// CreatorLookup adapts a lookup function to CreatorRegistry.
type CreatorLookup func(ctx context.Context, libraryID, id int64) (CreatorRef, error)

func (f CreatorLookup) Get(ctx context.Context, libraryID, id int64) (CreatorRef, error) {
	return f(ctx, libraryID, id)
}

// FilePresigner issues transfer URLs for stored attachment files.
type FilePresigner interface {
	UploadURL(ctx context.Context, libraryID int64, storageHash string) (string, error)
	DownloadURL(ctx context.Context, libraryID int64, storageHash string) (string, error)
}

// EditChecker decides whether the caller may write to a library.
type EditChecker interface {
	CheckEdit(ctx context.Context, libraryID int64) error
}

type allowEdits struct{}

func (allowEdits) CheckEdit(context.Context, int64) error { return nil }

// Deps are the long-lived collaborators shared by every item of a Store.
// Schema, Shards, Repos, IDs, Values and Creators are required.
type Deps struct {
	Schema   *schema.Registry
	Shards   ShardResolver
	Repos    Repos
	IDs      Allocator
	Values   ValueInterner
	Creators CreatorRegistry
	Files    FilePresigner

	Cache    cache.Cache
	CacheTTL time.Duration
	Search   search.Queue
	Events   events.Sink
	Edit     EditChecker
	Metrics  metrics.Recorder
	Logger   logging.Logger
	Now      func() time.Time

	DataBatchSize int
}

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, int64, string) error { return nil }

type nopSink struct{}

func (nopSink) Emit(context.Context, events.Event) error { return nil }

func (d *Deps) setDefaults() {
	if d.Schema == nil {
		d.Schema = schema.Default()
	}
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if d.Search == nil {
		d.Search = nopQueue{}
	}
	if d.Events == nil {
		d.Events = nopSink{}
	}
	if d.Edit == nil {
		d.Edit = allowEdits{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logging.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DataBatchSize <= 0 {
		d.DataBatchSize = DefaultDataBatchSize
	}
}
