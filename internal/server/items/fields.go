package items

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
)

// FieldOption tunes GetField.
type FieldOption uint8

const (
	// Unformatted returns multipart dates as stored.
	Unformatted FieldOption = 1 << iota
	// IncludeBaseMapped resolves a base field name to the type's own field.
	IncludeBaseMapped
	// SkipValidation returns "" for fields the type does not carry.
	SkipValidation
)

func hasOpt(opts []FieldOption, o FieldOption) bool {
	for _, v := range opts {
		if v&o != 0 {
			return true
		}
	}
	return false
}

// GetField returns the value of a type data field by name. Notes expose only
// "title", which is the derived note title.
func (it *Item) GetField(ctx context.Context, name string, opts ...FieldOption) (string, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return "", err
	}
	if it.isNote() {
		if name == "title" {
			return it.NoteTitle(ctx)
		}
		return "", nil
	}

	sch := it.deps.Schema
	var fieldID schema.FieldID
	if hasOpt(opts, IncludeBaseMapped) {
		fieldID, _ = sch.FieldIDFromTypeAndBaseName(it.itemTypeID, name)
	}
	if fieldID == 0 {
		id, ok := sch.FieldID(name)
		if !ok {
			if hasOpt(opts, SkipValidation) {
				return "", nil
			}
			return "", fmt.Errorf("field %q: %w", name, common.ErrInvalidField)
		}
		fieldID = id
	}
	return it.GetFieldByID(ctx, fieldID, opts...)
}

// GetFieldByID is GetField addressed by field id.
func (it *Item) GetFieldByID(ctx context.Context, fieldID schema.FieldID, opts ...FieldOption) (string, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return "", err
	}

	sch := it.deps.Schema
	if !sch.IsCustomType(it.itemTypeID) && !sch.IsCustomField(fieldID) && !sch.IsValidForType(fieldID, it.itemTypeID) {
		if hasOpt(opts, SkipValidation) {
			it.ctxLog(ctx, "field not valid for type, returning empty", "field_id", fieldID, "item_type_id", it.itemTypeID)
			return "", nil
		}
		return "", fmt.Errorf("field %d not valid for item type %d: %w", fieldID, it.itemTypeID, common.ErrInvalidField)
	}

	if err := it.ensureItemData(ctx); err != nil {
		return "", err
	}
	value := it.itemData[fieldID]
	if !hasOpt(opts, Unformatted) && sch.IsFieldOfBase(fieldID, "date") {
		value = schema.MultipartToStr(value)
	}
	return value, nil
}

// SetField sets a type data field by name. It reports false when the value
// is unchanged.
func (it *Item) SetField(ctx context.Context, name, value string) (bool, error) {
	fieldID, ok := it.deps.Schema.FieldID(name)
	if !ok {
		return false, fmt.Errorf("field %q: %w", name, common.ErrInvalidField)
	}
	return it.SetFieldByID(ctx, fieldID, value)
}

// SetFieldByID is SetField addressed by field id. An empty value clears the
// field and is accepted for any field.
func (it *Item) SetFieldByID(ctx context.Context, fieldID schema.FieldID, value string) (bool, error) {
	if err := it.touchPrimary(ctx); err != nil {
		return false, err
	}
	if it.itemTypeID == 0 {
		return false, common.Contractf("SetField", "item type must be set before setting field data")
	}
	if err := it.ensureItemData(ctx); err != nil {
		return false, err
	}

	sch := it.deps.Schema
	if !sch.FieldExists(fieldID) && !sch.IsCustomField(fieldID) {
		return false, fmt.Errorf("field %d: %w", fieldID, common.ErrInvalidField)
	}
	if value != "" && !sch.IsValidForType(fieldID, it.itemTypeID) {
		return false, fmt.Errorf("field %q not valid for item type %q: %w",
			sch.FieldName(fieldID), sch.ItemTypeName(it.itemTypeID), common.ErrInvalidField)
	}

	if it.itemData[fieldID] == value {
		return false, nil
	}
	it.itemData[fieldID] = value
	it.changes.itemData[fieldID] = true
	return true, nil
}

// UsedFields lists the populated fields in id order. When the item data
// is not loaded, a saved item answers from the cached field list or the
// stored field ids without resolving any value.
func (it *Item) UsedFields(ctx context.Context) ([]schema.FieldID, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return nil, err
	}
	if it.state[resItemData] == loaded || it.id == 0 {
		if err := it.ensureItemData(ctx); err != nil {
			return nil, err
		}
		return it.usedFields(), nil
	}

	cacheKey := usedFieldsCacheKey(it.id)
	var ids []int
	ok, err := getCached(ctx, it.deps, cacheKey, &ids)
	if err != nil {
		it.deps.Logger.Warn(ctx, "used fields cache read failed", "item_id", it.id, "error", err)
	}
	if !ok {
		db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
		if err != nil {
			return nil, err
		}
		if ids, err = it.deps.Repos.Items(db).SelectUsedFieldIDs(ctx, it.id); err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []int{}
		}
		setCached(ctx, it.deps, cacheKey, ids)
	}

	used := make([]schema.FieldID, 0, len(ids))
	for _, f := range ids {
		used = append(used, schema.FieldID(f))
	}
	return used, nil
}

func (it *Item) usedFields() []schema.FieldID {
	used := make([]schema.FieldID, 0, len(it.itemData))
	for f, v := range it.itemData {
		if v != "" {
			used = append(used, f)
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })
	return used
}

func fieldIDInts(fields []schema.FieldID) []int {
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, int(f))
	}
	return ids
}

// UsedFieldNames is UsedFields as field names, read through its own cache
// entry while the item data is not loaded.
func (it *Item) UsedFieldNames(ctx context.Context) ([]string, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return nil, err
	}
	if it.state[resItemData] == loaded || it.id == 0 {
		used, err := it.UsedFields(ctx)
		if err != nil {
			return nil, err
		}
		return it.fieldNames(used), nil
	}

	cacheKey := usedNamesCacheKey(it.id)
	var names []string
	ok, err := getCached(ctx, it.deps, cacheKey, &names)
	if err != nil {
		it.deps.Logger.Warn(ctx, "used field names cache read failed", "item_id", it.id, "error", err)
	}
	if ok {
		return names, nil
	}
	used, err := it.UsedFields(ctx)
	if err != nil {
		return nil, err
	}
	names = it.fieldNames(used)
	setCached(ctx, it.deps, cacheKey, names)
	return names, nil
}

func (it *Item) fieldNames(fields []schema.FieldID) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, it.deps.Schema.FieldName(f))
	}
	return names
}

// ensureItemData merges stored values into the map seeded by setType.
func (it *Item) ensureItemData(ctx context.Context) error {
	if it.state[resItemData] == loaded {
		return nil
	}
	if it.id == 0 {
		it.state[resItemData] = loaded
		return nil
	}
	if err := it.ensurePrimary(ctx); err != nil {
		return err
	}

	start := it.deps.Now()
	err := it.loadItemData(ctx)
	it.deps.Metrics.Observe(ctx, "load_item_data", err == nil, it.deps.Now().Sub(start))
	return err
}

func (it *Item) loadItemData(ctx context.Context) error {
	it.ctxLog(ctx, "loading item data")

	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return err
	}
	rows, err := it.deps.Repos.Items(db).SelectItemData(ctx, it.id)
	if err != nil {
		return err
	}
	hashes := make([]string, 0, len(rows))
	for _, r := range rows {
		hashes = append(hashes, r.Hash)
	}
	values, err := it.deps.Values.ResolveMany(ctx, db, hashes)
	if err != nil {
		return fmt.Errorf("item %d data: %w", it.id, err)
	}

	sch := it.deps.Schema
	for _, r := range rows {
		f := schema.FieldID(r.FieldID)
		v := values[r.Hash]
		if v != "" && !sch.IsValidForType(f, it.itemTypeID) {
			it.deps.Logger.Warn(ctx, "stored field not valid for item type",
				"item_id", it.id, "field_id", f, "item_type_id", it.itemTypeID)
			continue
		}
		it.itemData[f] = v
	}
	it.state[resItemData] = loaded
	return nil
}

type stagedField struct {
	field schema.FieldID
	value string
}

// setType switches the item type. Fields the new type lacks are carried
// over through their base field when the new type maps it, then cleared.
// loadIn marks hydration from storage, which records no changes.
func (it *Item) setType(ctx context.Context, typeID schema.ItemTypeID, loadIn bool) (bool, error) {
	if it.itemTypeID == typeID {
		return false, nil
	}
	sch := it.deps.Schema
	if !sch.ItemTypeExists(typeID) {
		return false, fmt.Errorf("item type %d: %w", typeID, common.ErrInvalidInput)
	}

	oldType := it.itemTypeID
	var staged []stagedField

	if oldType != 0 {
		if !loadIn && (isChildType(oldType) || isChildType(typeID)) {
			return false, fmt.Errorf("cannot change item type from %q to %q: %w",
				sch.ItemTypeName(oldType), sch.ItemTypeName(typeID), common.ErrInvalidInput)
		}
		if err := it.ensureItemData(ctx); err != nil {
			return false, err
		}

		obsolete := map[schema.FieldID]bool{}
		for _, f := range it.usedFields() {
			if sch.IsValidForType(f, typeID) {
				continue
			}
			obsolete[f] = true
			if base, ok := sch.BaseIDFromTypeAndField(oldType, f); ok {
				if nf, ok := sch.FieldIDFromTypeAndBase(typeID, base); ok {
					staged = append(staged, stagedField{nf, it.itemData[f]})
				}
			}
			if _, err := it.SetFieldByID(ctx, f, ""); err != nil {
				return false, err
			}
		}

		if !loadIn {
			for _, f := range it.usedFields() {
				if !obsolete[f] {
					staged = append(staged, stagedField{f, it.itemData[f]})
				}
			}
		}

		if err := it.ensureCreators(ctx); err != nil {
			return false, err
		}
		for _, idx := range it.creatorIndexes() {
			c := it.creators[idx]
			if sch.IsCustomCreatorType(c.CreatorTypeID) || sch.IsValidCreatorTypeForItemType(c.CreatorTypeID, typeID) {
				continue
			}
			if _, err := it.SetCreator(ctx, idx, c.Ref, schema.CreatorContributor); err != nil {
				return false, err
			}
		}
	}

	it.itemTypeID = typeID
	it.itemData = map[schema.FieldID]string{}
	if !sch.IsCustomType(typeID) {
		for _, f := range sch.TypeFields(typeID) {
			it.itemData[f] = ""
		}
	}

	for _, s := range staged {
		if _, err := it.SetFieldByID(ctx, s.field, s.value); err != nil {
			return false, err
		}
	}

	if loadIn {
		it.state[resItemData] = unloaded
	} else {
		it.changes.primary["itemTypeID"] = true
	}
	return true, nil
}

func isChildType(t schema.ItemTypeID) bool {
	return t == schema.TypeNote || t == schema.TypeAttachment
}
