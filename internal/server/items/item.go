// Package items implements the item entity: lazy loading of its parts,
// a ledger of pending changes and a transactional save that writes only
// what changed.
package items

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/ids"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
)

type resource int

const (
	resPrimary resource = iota
	resItemData
	resCreators
	resRelated
	numResources
)

type loadState uint8

const (
	unloaded loadState = iota
	loaded
)

// ledger records what changed since the last load or save.
type ledger struct {
	primary    map[string]bool
	itemData   map[schema.FieldID]bool
	creators   map[int]bool
	attachment map[string]bool
	related    bool
	deleted    bool
	note       bool
	source     bool
}

func newLedger() ledger {
	return ledger{
		primary:    map[string]bool{},
		itemData:   map[schema.FieldID]bool{},
		creators:   map[int]bool{},
		attachment: map[string]bool{},
	}
}

func (l *ledger) any() bool {
	return len(l.primary) > 0 || len(l.itemData) > 0 || len(l.creators) > 0 || len(l.attachment) > 0 ||
		l.related || l.deleted || l.note || l.source
}

// CreatorEntry is one creator slot of an item.
type CreatorEntry struct {
	OrderIndex    int
	Ref           CreatorRef
	CreatorTypeID schema.CreatorTypeID
}

type sourceRef struct {
	known bool
	id    int64
	key   string
}

// Item is a bibliographic record. Its parts load on first access when the
// item has an identity; changes stay in memory until Save.
type Item struct {
	store *Store
	deps  *Deps

	id        int64
	libraryID int64
	key       string

	itemTypeID           schema.ItemTypeID
	dateAdded            time.Time
	dateModified         time.Time
	serverDateModified   time.Time
	serverDateModifiedMS int
	numNotes             int
	numAttachments       int

	itemData map[schema.FieldID]string
	creators map[int]CreatorEntry
	related  []int64
	deleted  *bool

	noteText  *string
	noteTitle string
	noteHash  string

	attachment *models.Attachment
	source     sourceRef

	state   [numResources]loadState
	changes ledger

	prevRelated      []int64
	prevRelatedTaken bool
	prevSource       int64
	prevSourceTaken  bool
}

func newItem(s *Store) *Item {
	it := &Item{store: s, deps: &s.deps}
	it.init()
	return it
}

func (it *Item) init() {
	it.itemTypeID = 0
	it.dateAdded, it.dateModified, it.serverDateModified = time.Time{}, time.Time{}, time.Time{}
	it.serverDateModifiedMS, it.numNotes, it.numAttachments = 0, 0, 0
	it.itemData = map[schema.FieldID]string{}
	it.creators = map[int]CreatorEntry{}
	it.related = nil
	it.deleted = nil
	it.noteText, it.noteTitle, it.noteHash = nil, "", ""
	it.attachment = nil
	it.source = sourceRef{}
	it.state = [numResources]loadState{}
	it.changes = newLedger()
	it.prevRelated, it.prevRelatedTaken = nil, false
	it.prevSource, it.prevSourceTaken = 0, false
}

// Reset drops every loaded part and pending change, keeping the identity.
func (it *Item) Reset() {
	it.init()
}

// HasChanged reports whether Save has anything to write.
func (it *Item) HasChanged() bool {
	return it.changes.any()
}

func (it *Item) hasIdentity() bool {
	return it.id != 0 || it.key != ""
}

func (it *Item) ctxLog(ctx context.Context, msg string, args ...any) {
	it.deps.Logger.Debug(ctx, msg, append([]any{"library_id", it.libraryID, "item_id", it.id}, args...)...)
}

// ensurePrimary loads the primary row once the item has an identity. An item
// without one stays unloaded so its identity can still be assigned.
func (it *Item) ensurePrimary(ctx context.Context) error {
	if it.state[resPrimary] == loaded || !it.hasIdentity() {
		return nil
	}
	_, err := it.loadPrimary(ctx)
	return err
}

// touchPrimary is ensurePrimary for mutations, which freeze the identity.
func (it *Item) touchPrimary(ctx context.Context) error {
	if err := it.ensurePrimary(ctx); err != nil {
		return err
	}
	it.state[resPrimary] = loaded
	return nil
}

// loadPrimary reads the primary row. A missing row leaves the item loaded
// and empty, so a save inserts it under the preset identity.
func (it *Item) loadPrimary(ctx context.Context) (found bool, err error) {
	start := it.deps.Now()
	defer func() {
		it.deps.Metrics.Observe(ctx, "load_primary", err == nil, it.deps.Now().Sub(start))
	}()

	if it.state[resPrimary] == loaded {
		return false, common.Contractf("load", "primary data already loaded for item %d", it.id)
	}
	if it.libraryID == 0 {
		return false, common.Contractf("load", "library id not set")
	}
	if !it.hasIdentity() {
		return false, common.Contractf("load", "id or key not set")
	}

	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return false, err
	}
	r := it.deps.Repos.Items(db)

	var row *models.Item
	if it.id != 0 {
		row, err = r.SelectByID(ctx, it.id)
	} else {
		if !ids.ValidKey(it.key) {
			return false, common.Contractf("load", "invalid key %q", it.key)
		}
		row, err = r.SelectByKey(ctx, it.libraryID, it.key)
	}
	it.state[resPrimary] = loaded

	if errors.Is(err, common.ErrorNotFound) || (err == nil && row.LibraryID != it.libraryID) {
		it.ctxLog(ctx, "item not found", "key", it.key)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := it.loadFromRow(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

func (it *Item) loadFromRow(ctx context.Context, row *models.Item) error {
	if it.itemTypeID == 0 && row.ItemTypeID != 0 {
		if _, err := it.setType(ctx, schema.ItemTypeID(row.ItemTypeID), true); err != nil {
			return err
		}
	}
	it.id = row.ID
	it.key = row.Key
	it.dateAdded = row.DateAdded
	it.dateModified = row.DateModified
	it.serverDateModified = row.ServerDateModified
	it.serverDateModifiedMS = row.ServerDateModifiedMS
	it.numNotes = row.NumNotes
	it.numAttachments = row.NumAttachments
	it.state[resPrimary] = loaded
	return nil
}

// ID returns the item id, resolving it from the key when needed.
func (it *Item) ID(ctx context.Context) (int64, error) {
	if it.id == 0 {
		if err := it.ensurePrimary(ctx); err != nil {
			return 0, err
		}
	}
	return it.id, nil
}

// Key returns the public key. An item known only by id reads just its key,
// leaving the primary data unloaded; a missing item has an empty key.
func (it *Item) Key(ctx context.Context) (string, error) {
	if it.key != "" || it.id == 0 || it.state[resPrimary] == loaded {
		return it.key, nil
	}
	if it.libraryID == 0 {
		return "", common.Contractf("Key", "library id not set")
	}

	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return "", err
	}
	key, err := it.deps.Repos.Items(db).SelectKey(ctx, it.libraryID, it.id)
	if errors.Is(err, common.ErrorNotFound) {
		it.ctxLog(ctx, "item not found")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	it.key = key
	return key, nil
}

func (it *Item) LibraryID() int64 { return it.libraryID }

// SetID, SetLibraryID and SetKey assign identity and must run before the
// primary data is loaded.
func (it *Item) SetID(id int64) error {
	if it.state[resPrimary] == loaded {
		return common.Contractf("SetID", "cannot set id after item is loaded")
	}
	it.id = id
	return nil
}

func (it *Item) SetLibraryID(libraryID int64) error {
	if it.state[resPrimary] == loaded {
		return common.Contractf("SetLibraryID", "cannot set library id after item is loaded")
	}
	it.libraryID = libraryID
	return nil
}

func (it *Item) SetKey(key string) error {
	if it.state[resPrimary] == loaded {
		return common.Contractf("SetKey", "cannot set key after item is loaded")
	}
	if key != "" && !ids.ValidKey(key) {
		return fmt.Errorf("key %q: %w", key, common.ErrInvalidInput)
	}
	it.key = key
	return nil
}

func (it *Item) ItemTypeID(ctx context.Context) (schema.ItemTypeID, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return 0, err
	}
	return it.itemTypeID, nil
}

// SetItemTypeID changes the type, carrying field values across through
// their base fields.
func (it *Item) SetItemTypeID(ctx context.Context, typeID schema.ItemTypeID) (bool, error) {
	if err := it.touchPrimary(ctx); err != nil {
		return false, err
	}
	if it.itemTypeID == typeID {
		return false, nil
	}
	return it.setType(ctx, typeID, false)
}

func (it *Item) DateAdded(ctx context.Context) (time.Time, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return time.Time{}, err
	}
	return it.dateAdded, nil
}

func (it *Item) SetDateAdded(ctx context.Context, t time.Time) (bool, error) {
	return it.setPrimaryTime(ctx, "dateAdded", &it.dateAdded, t)
}

func (it *Item) DateModified(ctx context.Context) (time.Time, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return time.Time{}, err
	}
	return it.dateModified, nil
}

func (it *Item) SetDateModified(ctx context.Context, t time.Time) (bool, error) {
	return it.setPrimaryTime(ctx, "dateModified", &it.dateModified, t)
}

func (it *Item) setPrimaryTime(ctx context.Context, name string, dst *time.Time, t time.Time) (bool, error) {
	if err := it.touchPrimary(ctx); err != nil {
		return false, err
	}
	t = t.UTC().Truncate(time.Second)
	if dst.Equal(t) {
		return false, nil
	}
	*dst = t
	it.changes.primary[name] = true
	return true, nil
}

// ServerDateModified returns the last save time and its millisecond part.
func (it *Item) ServerDateModified(ctx context.Context) (time.Time, int, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return time.Time{}, 0, err
	}
	return it.serverDateModified, it.serverDateModifiedMS, nil
}

// ETag changes with every save of the item.
func (it *Item) ETag(ctx context.Context) (string, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return "", err
	}
	stamp := dbx.Stamp{Time: it.serverDateModified, MS: it.serverDateModifiedMS}
	sum := md5.Sum([]byte(stamp.SQL() + "." + strconv.Itoa(stamp.MS)))
	return hex.EncodeToString(sum[:]), nil
}

// Exists reports whether the item row is in storage.
func (it *Item) Exists(ctx context.Context) (bool, error) {
	if it.id == 0 {
		return false, common.Contractf("Exists", "id not set")
	}
	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return false, err
	}
	return it.deps.Repos.Items(db).Exists(ctx, it.id)
}

func (it *Item) IsNote(ctx context.Context) (bool, error) {
	typeID, err := it.ItemTypeID(ctx)
	return typeID == schema.TypeNote, err
}

func (it *Item) IsAttachment(ctx context.Context) (bool, error) {
	typeID, err := it.ItemTypeID(ctx)
	return typeID == schema.TypeAttachment, err
}

func (it *Item) IsRegularItem(ctx context.Context) (bool, error) {
	typeID, err := it.ItemTypeID(ctx)
	return typeID != schema.TypeNote && typeID != schema.TypeAttachment, err
}

func (it *Item) isNote() bool       { return it.itemTypeID == schema.TypeNote }
func (it *Item) isAttachment() bool { return it.itemTypeID == schema.TypeAttachment }

// Deleted reports whether the item is in the trash.
func (it *Item) Deleted(ctx context.Context) (bool, error) {
	if it.deleted != nil {
		return *it.deleted, nil
	}
	if _, err := it.ID(ctx); err != nil {
		return false, err
	}
	if it.id == 0 {
		return false, nil
	}

	cacheKey := deletedCacheKey(it.id)
	var cached bool
	if ok, err := getCached(ctx, it.deps, cacheKey, &cached); ok {
		it.deleted = &cached
		return cached, nil
	} else if err != nil {
		it.deps.Logger.Warn(ctx, "deleted flag cache read failed", "item_id", it.id, "error", err)
	}

	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return false, err
	}
	deleted, err := it.deps.Repos.Items(db).IsDeleted(ctx, it.id)
	if err != nil {
		return false, err
	}
	it.deleted = &deleted
	setCached(ctx, it.deps, cacheKey, deleted)
	return deleted, nil
}

// SetDeleted moves the item in or out of the trash. Trashing group library
// items is refused without an error.
func (it *Item) SetDeleted(ctx context.Context, deleted bool) (bool, error) {
	current, err := it.Deleted(ctx)
	if err != nil {
		return false, err
	}
	if current == deleted {
		it.ctxLog(ctx, "deleted state unchanged", "deleted", deleted)
		return false, nil
	}
	if deleted {
		libType, err := it.deps.Shards.LibraryType(ctx, it.libraryID)
		if err != nil {
			return false, err
		}
		if libType == models.LibraryGroup {
			it.deps.Logger.Warn(ctx, "deleted flag set for group library item, ignoring",
				"library_id", it.libraryID, "item_id", it.id)
			return false, nil
		}
	}
	it.deleted = &deleted
	it.changes.deleted = true
	return true, nil
}

// CreatedByUserID returns who created a group library item, or nil.
func (it *Item) CreatedByUserID(ctx context.Context) (*int64, error) {
	g, err := it.groupItem(ctx)
	if err != nil || g == nil {
		return nil, err
	}
	return g.CreatedByUserID, nil
}

// LastModifiedByUserID returns who last saved a group library item, or nil.
func (it *Item) LastModifiedByUserID(ctx context.Context) (*int64, error) {
	g, err := it.groupItem(ctx)
	if err != nil || g == nil {
		return nil, err
	}
	return g.LastModifiedByUserID, nil
}

func (it *Item) groupItem(ctx context.Context) (*models.GroupItem, error) {
	if it.id == 0 {
		return nil, nil
	}
	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return nil, err
	}
	g, err := it.deps.Repos.Items(db).SelectGroupItem(ctx, it.id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	return g, err
}
