package items

import (
	"context"
	"fmt"
	"slices"
)

func (it *Item) ensureRelated(ctx context.Context) error {
	if it.state[resRelated] == loaded {
		return nil
	}
	if err := it.ensurePrimary(ctx); err != nil {
		return err
	}
	if it.id == 0 {
		it.state[resRelated] = loaded
		return nil
	}

	cacheKey := relatedCacheKey(it.id)
	var ids []int64
	ok, err := getCached(ctx, it.deps, cacheKey, &ids)
	if err != nil {
		it.deps.Logger.Warn(ctx, "related items cache read failed", "item_id", it.id, "error", err)
	}
	if !ok {
		db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
		if err != nil {
			return err
		}
		if ids, err = it.deps.Repos.Items(db).SelectRelated(ctx, it.id); err != nil {
			return err
		}
		setCached(ctx, it.deps, cacheKey, relatedIDs(ids))
	}
	it.related = ids
	it.state[resRelated] = loaded
	return nil
}

func relatedIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// RelatedItems returns the ids this item links to.
func (it *Item) RelatedItems(ctx context.Context) ([]int64, error) {
	if err := it.ensureRelated(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(it.related), nil
}

// snapshotRelated keeps the set as of the last save for the save diff.
func (it *Item) snapshotRelated() {
	if it.prevRelatedTaken {
		return
	}
	it.prevRelated = slices.Clone(it.related)
	it.prevRelatedTaken = true
}

// AddRelatedItem links this item to id. Only this side is written; the
// caller adds the reverse link on the peer. It reports false for a self
// link, an existing link, or a peer that already links back.
func (it *Item) AddRelatedItem(ctx context.Context, id int64) (bool, error) {
	if id == it.id {
		it.ctxLog(ctx, "cannot relate item to itself")
		return false, nil
	}
	if err := it.ensureRelated(ctx); err != nil {
		return false, err
	}
	if slices.Contains(it.related, id) {
		it.ctxLog(ctx, "item already related", "related_id", id)
		return false, nil
	}

	peer, err := it.store.Get(ctx, it.libraryID, id)
	if err != nil {
		return false, fmt.Errorf("related item %d: %w", id, err)
	}
	peerRelated, err := peer.RelatedItems(ctx)
	if err != nil {
		return false, err
	}
	if it.id != 0 && slices.Contains(peerRelated, it.id) {
		it.ctxLog(ctx, "peer already related to item", "related_id", id)
		return false, nil
	}

	it.snapshotRelated()
	it.changes.related = true
	it.related = append(it.related, id)
	return true, nil
}

// RemoveRelatedItem drops the link to id. It reports false when absent.
func (it *Item) RemoveRelatedItem(ctx context.Context, id int64) (bool, error) {
	if err := it.ensureRelated(ctx); err != nil {
		return false, err
	}
	i := slices.Index(it.related, id)
	if i < 0 {
		it.ctxLog(ctx, "item not related", "related_id", id)
		return false, nil
	}
	it.snapshotRelated()
	it.changes.related = true
	it.related = slices.Delete(slices.Clone(it.related), i, i+1)
	return true, nil
}

// SetRelatedItems replaces the link set, skipping a self link. It reports
// false when the set is unchanged.
func (it *Item) SetRelatedItems(ctx context.Context, ids []int64) (bool, error) {
	if err := it.ensureRelated(ctx); err != nil {
		return false, err
	}

	var kept, added []int64
	for _, id := range ids {
		if id == it.id {
			it.ctxLog(ctx, "cannot relate item to itself")
			continue
		}
		if slices.Contains(kept, id) || slices.Contains(added, id) {
			continue
		}
		if slices.Contains(it.related, id) {
			kept = append(kept, id)
			continue
		}
		added = append(added, id)
	}

	if len(added) == 0 && len(kept) == len(it.related) {
		it.ctxLog(ctx, "related items unchanged")
		return false, nil
	}
	it.snapshotRelated()
	it.changes.related = true
	it.related = append(kept, added...)
	return true, nil
}

// relatedDiff returns the links to delete and to insert on save.
func (it *Item) relatedDiff() (removed, added []int64) {
	for _, id := range it.prevRelated {
		if !slices.Contains(it.related, id) {
			removed = append(removed, id)
		}
	}
	for _, id := range it.related {
		if !slices.Contains(it.prevRelated, id) {
			added = append(added, id)
		}
	}
	return removed, added
}
