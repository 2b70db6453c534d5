package items

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
)

func (it *Item) ensureCreators(ctx context.Context) error {
	if it.state[resCreators] == loaded {
		return nil
	}
	if _, err := it.ID(ctx); err != nil {
		return err
	}
	if it.id == 0 {
		it.state[resCreators] = loaded
		return nil
	}

	start := it.deps.Now()
	err := it.loadCreators(ctx)
	it.deps.Metrics.Observe(ctx, "load_creators", err == nil, it.deps.Now().Sub(start))
	return err
}

func (it *Item) loadCreators(ctx context.Context) error {
	cacheKey := creatorsCacheKey(it.id)
	var rows []models.ItemCreator
	ok, err := getCached(ctx, it.deps, cacheKey, &rows)
	if err != nil {
		it.deps.Logger.Warn(ctx, "creators cache read failed", "item_id", it.id, "error", err)
	}
	if !ok {
		db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
		if err != nil {
			return err
		}
		if rows, err = it.deps.Repos.Items(db).SelectCreators(ctx, it.id); err != nil {
			return err
		}
		setCached(ctx, it.deps, cacheKey, creatorRows(rows))
	}

	creators := make(map[int]CreatorEntry, len(rows))
	for _, r := range rows {
		ref, err := it.deps.Creators.Get(ctx, it.libraryID, r.CreatorID)
		if err != nil {
			deleteCached(ctx, it.deps, cacheKey)
			return fmt.Errorf("creator %d of item %d: %w", r.CreatorID, it.id, err)
		}
		creators[r.OrderIndex] = CreatorEntry{
			OrderIndex:    r.OrderIndex,
			Ref:           ref,
			CreatorTypeID: schema.CreatorTypeID(r.CreatorTypeID),
		}
	}
	it.creators = creators
	it.state[resCreators] = loaded
	return nil
}

func creatorRows(rows []models.ItemCreator) []models.ItemCreator {
	if rows == nil {
		return []models.ItemCreator{}
	}
	return rows
}

func (it *Item) creatorIndexes() []int {
	idx := make([]int, 0, len(it.creators))
	for i := range it.creators {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func (it *Item) NumCreators(ctx context.Context) (int, error) {
	if err := it.ensureCreators(ctx); err != nil {
		return 0, err
	}
	return len(it.creators), nil
}

// Creator returns the slot at orderIndex and whether it is occupied.
func (it *Item) Creator(ctx context.Context, orderIndex int) (CreatorEntry, bool, error) {
	if err := it.ensureCreators(ctx); err != nil {
		return CreatorEntry{}, false, err
	}
	c, ok := it.creators[orderIndex]
	return c, ok, nil
}

// Creators returns the occupied slots ordered by index.
func (it *Item) Creators(ctx context.Context) ([]CreatorEntry, error) {
	if err := it.ensureCreators(ctx); err != nil {
		return nil, err
	}
	out := make([]CreatorEntry, 0, len(it.creators))
	for _, i := range it.creatorIndexes() {
		out = append(out, it.creators[i])
	}
	return out, nil
}

// SetCreator places ref at orderIndex with the given role. It reports false
// when the slot already holds the same unchanged creator and role.
func (it *Item) SetCreator(ctx context.Context, orderIndex int, ref CreatorRef, role schema.CreatorTypeID) (bool, error) {
	if err := it.ensureCreators(ctx); err != nil {
		return false, err
	}
	if orderIndex < 0 {
		return false, fmt.Errorf("order index %d: %w", orderIndex, common.ErrInvalidInput)
	}
	if ref == nil {
		return false, fmt.Errorf("nil creator: %w", common.ErrInvalidInput)
	}
	if !it.deps.Schema.CreatorTypeExists(role) {
		return false, common.Contractf("SetCreator", "invalid creator type %d", role)
	}
	if ref.LibraryID() != it.libraryID {
		return false, common.Contractf("SetCreator", "creator library %d does not match item library %d",
			ref.LibraryID(), it.libraryID)
	}

	if cur, ok := it.creators[orderIndex]; ok && sameCreator(cur.Ref, ref) &&
		cur.CreatorTypeID == role && !ref.HasChanged() {
		it.ctxLog(ctx, "creator unchanged", "order_index", orderIndex)
		return false, nil
	}

	it.creators[orderIndex] = CreatorEntry{OrderIndex: orderIndex, Ref: ref, CreatorTypeID: role}
	it.changes.creators[orderIndex] = true
	return true, nil
}

func sameCreator(a, b CreatorRef) bool {
	if a == b {
		return true
	}
	return a.ID() != 0 && a.ID() == b.ID()
}

// RemoveCreator drops the slot at orderIndex and moves later creators down.
// Every moved position and the old last position are rewritten on save.
func (it *Item) RemoveCreator(ctx context.Context, orderIndex int) error {
	if err := it.ensureCreators(ctx); err != nil {
		return err
	}
	if _, ok := it.creators[orderIndex]; !ok {
		return common.Contractf("RemoveCreator", "no creator exists at position %d", orderIndex)
	}

	oldLen := len(it.creators)
	remaining := make([]CreatorEntry, 0, oldLen-1)
	for _, i := range it.creatorIndexes() {
		if i != orderIndex {
			remaining = append(remaining, it.creators[i])
		}
	}
	it.creators = make(map[int]CreatorEntry, len(remaining))
	for i, c := range remaining {
		c.OrderIndex = i
		it.creators[i] = c
	}
	for i := orderIndex; i < oldLen; i++ {
		it.changes.creators[i] = true
	}
	return nil
}

// checkCreatorSequence fails when creator indexes skip a value.
func (it *Item) checkCreatorSequence() error {
	for want, got := range it.creatorIndexes() {
		if got != want {
			return common.Contractf("Save", "creator index %d out of sequence for item %d", got, it.id)
		}
	}
	return nil
}

// CreatorSummary names the first creators of the most relevant role: the
// type's primary role, then editors, then contributors.
func (it *Item) CreatorSummary(ctx context.Context) (string, error) {
	typeID, err := it.ItemTypeID(ctx)
	if err != nil {
		return "", err
	}
	creators, err := it.Creators(ctx)
	if err != nil {
		return "", err
	}

	roles := []schema.CreatorTypeID{
		it.deps.Schema.PrimaryCreatorType(typeID),
		schema.CreatorEditor,
		schema.CreatorContributor,
	}
	for _, role := range roles {
		var names []string
		for _, c := range creators {
			if c.CreatorTypeID == role {
				names = append(names, c.Ref.LastName())
				if len(names) == 3 {
					break
				}
			}
		}
		switch len(names) {
		case 0:
			continue
		case 1:
			return names[0], nil
		case 2:
			return names[0] + " and " + names[1], nil
		default:
			return names[0] + " et al.", nil
		}
	}
	return "", nil
}
