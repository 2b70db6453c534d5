package items

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/refstore/internal/server/cache"
)

func usedFieldsCacheKey(id int64) string { return fmt.Sprintf("itemUsedFieldIDs_%d", id) }
func usedNamesCacheKey(id int64) string  { return fmt.Sprintf("itemUsedFieldNames_%d", id) }
func creatorsCacheKey(id int64) string   { return fmt.Sprintf("itemCreators_%d", id) }
func deletedCacheKey(id int64) string    { return fmt.Sprintf("itemIsDeleted_%d", id) }
func relatedCacheKey(id int64) string    { return fmt.Sprintf("itemRelated_%d", id) }

func noteCacheKey(libraryID, id int64) string {
	return fmt.Sprintf("itemNote_%d_%d", libraryID, id)
}

func noteHashCacheKey(libraryID, id int64) string {
	return fmt.Sprintf("itemNoteHash_%d_%d", libraryID, id)
}

func getCached(ctx context.Context, d *Deps, key string, dst any) (bool, error) {
	return cache.GetJSON(ctx, d.Cache, key, dst)
}

// setCached is best effort: a failed write only costs a later storage read.
func setCached(ctx context.Context, d *Deps, key string, v any) {
	if err := cache.SetJSON(ctx, d.Cache, key, v, d.CacheTTL); err != nil {
		d.Logger.Warn(ctx, "item cache write failed", "key", key, "error", err)
	}
}

func deleteCached(ctx context.Context, d *Deps, keys ...string) {
	if err := d.Cache.Delete(ctx, keys...); err != nil {
		d.Logger.Warn(ctx, "item cache delete failed", "keys", keys, "error", err)
	}
}
