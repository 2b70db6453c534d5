package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/events"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	repo "github.com/dmitrijs2005/refstore/internal/server/repositories/items"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
)

// validationPreview is how much of an oversized value an error repeats.
const validationPreview = 50

type savePlan struct {
	db        *sql.DB
	libType   models.LibraryType
	userID    int64
	id        int64
	key       string
	allocated bool
	source    int64

	isNew        bool
	stamp        dbx.Stamp
	dateAdded    time.Time
	dateModified time.Time
	accessDate   string
	noteWritten  bool
}

// Save writes pending changes in one transaction and reports whether there
// was anything to write. userID, when non-zero, is recorded as creator or
// last modifier of group library items.
func (it *Item) Save(ctx context.Context, userID int64) (bool, error) {
	if it.libraryID == 0 {
		return false, common.Contractf("Save", "library id must be set before saving")
	}
	if err := it.deps.Edit.CheckEdit(ctx, it.libraryID); err != nil {
		return false, err
	}
	if !it.HasChanged() {
		it.ctxLog(ctx, "item has not changed")
		return false, nil
	}

	start := it.deps.Now()
	op := "save"
	p, err := it.prepareSave(ctx, userID)
	if err == nil {
		err = dbx.WithStampedTx(ctx, p.db, nil, it.deps.Now, func(ctx context.Context, tx dbx.DBTX, stamp dbx.Stamp) error {
			return it.write(ctx, tx, p, stamp)
		})
		op = "save_modify"
		if p.isNew {
			op = "save_add"
		}
	}
	it.deps.Metrics.Observe(ctx, op, err == nil, it.deps.Now().Sub(start))
	if err != nil {
		return false, err
	}

	it.afterSave(ctx, p)
	return true, nil
}

// prepareSave runs every check and lookup that must not happen inside the
// transaction, including saving changed creators.
func (it *Item) prepareSave(ctx context.Context, userID int64) (*savePlan, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return nil, err
	}
	if it.itemTypeID == 0 {
		return nil, common.Contractf("Save", "item type must be set before saving")
	}
	if err := it.ensureCreators(ctx); err != nil {
		return nil, err
	}
	if err := it.checkCreatorSequence(); err != nil {
		return nil, err
	}
	if err := it.saveCreators(ctx); err != nil {
		return nil, err
	}

	p := &savePlan{userID: userID, id: it.id, key: it.key}
	var err error
	if p.db, err = it.deps.Shards.ShardDB(ctx, it.libraryID); err != nil {
		return nil, err
	}
	if userID != 0 {
		if p.libType, err = it.deps.Shards.LibraryType(ctx, it.libraryID); err != nil {
			return nil, err
		}
	}

	if it.isNote() || it.isAttachment() {
		if p.source, err = it.Source(ctx); err != nil {
			return nil, err
		}
	}
	if it.isNote() || it.changes.note {
		if err := it.ensureNote(ctx, "Save"); err != nil {
			return nil, err
		}
	}
	if it.isAttachment() {
		if err := it.ensureAttachment(ctx); err != nil {
			return nil, err
		}
		if err := it.checkAttachmentParent(ctx, p.source); err != nil {
			return nil, err
		}
	}

	if p.id == 0 {
		if p.id, err = it.deps.IDs.NextItemID(ctx); err != nil {
			return nil, fmt.Errorf("item id: %w", err)
		}
		p.allocated = true
	}
	if p.key == "" {
		if p.key, err = it.deps.IDs.NewKey(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (it *Item) saveCreators(ctx context.Context) error {
	for _, idx := range sortedKeys(it.changes.creators) {
		c, ok := it.creators[idx]
		if !ok || !c.Ref.HasChanged() {
			continue
		}
		it.ctxLog(ctx, "saving changed creator", "order_index", idx, "creator_id", c.Ref.ID())
		if err := c.Ref.Save(ctx); err != nil {
			return fmt.Errorf("creator at position %d: %w", idx, err)
		}
	}
	return nil
}

// checkAttachmentParent refuses a parent that is itself a child item.
func (it *Item) checkAttachmentParent(ctx context.Context, parentID int64) error {
	if parentID == 0 {
		return nil
	}
	parent, err := it.store.Get(ctx, it.libraryID, parentID)
	if err != nil {
		return fmt.Errorf("parent item %d: %w", parentID, err)
	}
	grandParent, err := parent.Source(ctx)
	if err != nil {
		return err
	}
	if grandParent != 0 {
		return common.Contractf("Save", "parent item %d cannot be a child attachment", parentID)
	}
	return nil
}

func (it *Item) write(ctx context.Context, tx dbx.DBTX, p *savePlan, stamp dbx.Stamp) error {
	r := it.deps.Repos.Items(tx)
	p.stamp = stamp
	p.isNew = p.allocated
	if !p.allocated {
		exists, err := r.Exists(ctx, p.id)
		if err != nil {
			return err
		}
		p.isNew = !exists
	}

	steps := []func(context.Context, dbx.DBTX, repo.Repository, *savePlan) error{
		it.writePrimary,
		it.writeGroupItem,
		it.writeItemData,
		it.writeCreators,
		it.writeDeleted,
		it.writeNote,
		it.writeAttachment,
		it.writeSource,
		it.writeRelated,
	}
	for _, step := range steps {
		if err := step(ctx, tx, r, p); err != nil {
			return err
		}
	}
	return nil
}

func orStamp(t time.Time, stamp dbx.Stamp) time.Time {
	if t.IsZero() {
		return stamp.Time
	}
	return t
}

func (it *Item) writePrimary(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if p.isNew {
		p.dateAdded = orStamp(it.dateAdded, p.stamp)
		p.dateModified = orStamp(it.dateModified, p.stamp)
		return r.InsertPrimary(ctx, &models.Item{
			ID:                   p.id,
			LibraryID:            it.libraryID,
			Key:                  p.key,
			ItemTypeID:           int(it.itemTypeID),
			DateAdded:            p.dateAdded,
			DateModified:         p.dateModified,
			ServerDateModified:   p.stamp.Time,
			ServerDateModifiedMS: p.stamp.MS,
		})
	}

	var set []repo.Column
	if it.changes.primary["itemTypeID"] {
		set = append(set, repo.Column{Name: "item_type_id", Value: int(it.itemTypeID)})
	}
	if it.changes.primary["dateAdded"] {
		set = append(set, repo.Column{Name: "date_added", Value: it.dateAdded})
	}
	p.dateAdded = it.dateAdded
	p.dateModified = p.stamp.Time
	if it.changes.primary["dateModified"] {
		p.dateModified = it.dateModified
	}
	set = append(set,
		repo.Column{Name: "date_modified", Value: p.dateModified},
		repo.Column{Name: "server_date_modified", Value: p.stamp.Time},
		repo.Column{Name: "server_date_modified_ms", Value: p.stamp.MS},
	)
	return r.UpdatePrimary(ctx, p.id, set)
}

func (it *Item) writeGroupItem(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if p.userID == 0 || p.libType != models.LibraryGroup {
		return nil
	}
	if p.isNew {
		return r.InsertGroupItem(ctx, p.id, p.userID)
	}
	return r.TouchGroupItem(ctx, p.id, p.userID)
}

// writeItemData stores changed fields as value hashes. A cleared field of an
// existing item loses its row.
func (it *Item) writeItemData(ctx context.Context, tx dbx.DBTX, r repo.Repository, p *savePlan) error {
	if len(it.changes.itemData) == 0 {
		return nil
	}

	var rows []models.ItemData
	var del []int
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		err := r.UpsertItemData(ctx, p.id, rows)
		rows = nil
		return err
	}

	for _, f := range sortedKeys(it.changes.itemData) {
		value := it.itemData[f]
		if value == "" {
			if !p.isNew {
				del = append(del, int(f))
			}
			continue
		}
		if f == schema.FieldAccessDate && value == "CURRENT_TIMESTAMP" {
			value = p.stamp.SQL()
			p.accessDate = value
		}

		hash, err := it.deps.Values.Hash(ctx, tx, value)
		if errors.Is(err, common.ErrDataTooLong) {
			return &common.ValidationError{
				Field: it.deps.Schema.FieldLabel(f),
				Value: truncateRunes(value, validationPreview),
				Err:   err,
			}
		}
		if err != nil {
			return err
		}

		rows = append(rows, models.ItemData{FieldID: int(f), Hash: hash})
		if len(rows) == it.deps.DataBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if len(del) > 0 {
		return r.DeleteItemData(ctx, p.id, del)
	}
	return nil
}

// writeCreators rewrites every changed position.
func (it *Item) writeCreators(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if len(it.changes.creators) == 0 {
		return nil
	}
	var rows []models.ItemCreator
	for _, idx := range sortedKeys(it.changes.creators) {
		if !p.isNew {
			if err := r.DeleteCreatorAt(ctx, p.id, idx); err != nil {
				return err
			}
		}
		c, ok := it.creators[idx]
		if !ok {
			continue
		}
		if c.Ref.ID() == 0 {
			return common.Contractf("Save", "creator at position %d has no id", idx)
		}
		rows = append(rows, models.ItemCreator{
			CreatorID:     c.Ref.ID(),
			CreatorTypeID: int(c.CreatorTypeID),
			OrderIndex:    idx,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.InsertCreators(ctx, p.id, rows)
}

func (it *Item) writeDeleted(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if !it.changes.deleted || it.deleted == nil {
		return nil
	}
	return r.SetDeleted(ctx, p.id, *it.deleted, p.stamp.Time)
}

func (it *Item) writeNote(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if !it.changes.note && !(p.isNew && it.isNote()) {
		return nil
	}
	text := ""
	if it.noteText != nil {
		text = *it.noteText
	}
	var parent *int64
	if it.isNote() && p.source != 0 {
		parent = &p.source
	}
	p.noteWritten = true
	return r.UpsertNote(ctx, &models.Note{
		ItemID:       p.id,
		SourceItemID: parent,
		Note:         text,
		Title:        NoteToTitle(text),
		Hash:         noteHash(text),
	})
}

func (it *Item) writeAttachment(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if !(p.isNew && it.isAttachment()) && len(it.changes.attachment) == 0 {
		return nil
	}
	if it.attachment == nil {
		return common.Contractf("Save", "attachment data not loaded for item %d", p.id)
	}
	a := *it.attachment
	a.ItemID = p.id
	a.SourceItemID = nil
	if p.source != 0 {
		a.SourceItemID = &p.source
	}
	return r.UpsertAttachment(ctx, &a)
}

// writeSource updates the parent column when no row written above carried it.
func (it *Item) writeSource(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if !it.changes.source || p.isNew {
		return nil
	}
	if len(it.changes.attachment) > 0 || (it.changes.note && it.isNote()) {
		return nil
	}
	var parent *int64
	if p.source != 0 {
		parent = &p.source
	}
	switch {
	case it.isNote():
		return r.UpdateNoteSource(ctx, p.id, parent)
	case it.isAttachment():
		return r.UpdateAttachmentSource(ctx, p.id, parent)
	}
	return nil
}

func (it *Item) writeRelated(ctx context.Context, _ dbx.DBTX, r repo.Repository, p *savePlan) error {
	if !it.changes.related {
		return nil
	}
	removed, added := it.relatedDiff()
	if len(removed) > 0 {
		if err := r.DeleteRelated(ctx, p.id, removed); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		return r.InsertRelated(ctx, p.id, added)
	}
	return nil
}

// afterSave runs once the transaction has committed. Nothing here can fail
// the save; errors are logged.
func (it *Item) afterSave(ctx context.Context, p *savePlan) {
	dirty := it.changes
	prevSource := it.prevSource

	if it.id == 0 {
		it.id = p.id
	}
	if it.key == "" {
		it.key = p.key
	}
	it.dateAdded = p.dateAdded
	it.dateModified = p.dateModified
	it.serverDateModified = p.stamp.Time
	it.serverDateModifiedMS = p.stamp.MS
	if p.accessDate != "" {
		it.itemData[schema.FieldAccessDate] = p.accessDate
	}
	if it.isNote() || it.isAttachment() {
		it.source = sourceRef{known: true, id: p.source}
	}
	it.state[resPrimary] = loaded

	it.changes = newLedger()
	it.prevRelated, it.prevRelatedTaken = nil, false
	it.prevSource, it.prevSourceTaken = 0, false

	it.refreshCaches(ctx, dirty, p)

	it.store.refresh(it, p.isNew)
	if p.source != 0 && (p.isNew || dirty.source || dirty.deleted) {
		it.store.Evict(it.libraryID, p.source)
	}
	if dirty.source && prevSource != 0 && prevSource != p.source {
		it.store.Evict(it.libraryID, prevSource)
	}

	if err := it.deps.Search.Enqueue(ctx, it.libraryID, it.key); err != nil {
		it.deps.Logger.Warn(ctx, "search index enqueue failed", "library_id", it.libraryID, "key", it.key, "error", err)
	}

	action := events.ActionModify
	if p.isNew {
		action = events.ActionAdd
	}
	e := events.NewEvent(action, it.libraryID, it.id, it.key, it.changedNames(dirty), p.stamp.Time)
	if err := it.deps.Events.Emit(ctx, e); err != nil {
		it.deps.Logger.Warn(ctx, "item event delivery failed", "event_id", e.ID, "error", err)
	}

	it.deps.Logger.Info(ctx, "item saved", "library_id", it.libraryID, "item_id", it.id, "key", it.key,
		"action", string(action))
}

func (it *Item) refreshCaches(ctx context.Context, dirty ledger, p *savePlan) {
	if len(dirty.itemData) > 0 {
		used := it.usedFields()
		setCached(ctx, it.deps, usedFieldsCacheKey(it.id), fieldIDInts(used))
		setCached(ctx, it.deps, usedNamesCacheKey(it.id), it.fieldNames(used))
	}
	if len(dirty.creators) > 0 {
		rows := make([]models.ItemCreator, 0, len(it.creators))
		for _, idx := range it.creatorIndexes() {
			c := it.creators[idx]
			rows = append(rows, models.ItemCreator{
				CreatorID:     c.Ref.ID(),
				CreatorTypeID: int(c.CreatorTypeID),
				OrderIndex:    idx,
			})
		}
		setCached(ctx, it.deps, creatorsCacheKey(it.id), rows)
	}
	if dirty.deleted && it.deleted != nil {
		setCached(ctx, it.deps, deletedCacheKey(it.id), *it.deleted)
	}
	if p.noteWritten && it.noteText != nil {
		it.cacheNote(ctx)
	}
	if dirty.related {
		setCached(ctx, it.deps, relatedCacheKey(it.id), relatedIDs(it.related))
	}
}

// changedNames lists what a save wrote, for event subscribers.
func (it *Item) changedNames(l ledger) []string {
	names := sortedStrings(l.primary)
	for _, f := range sortedKeys(l.itemData) {
		names = append(names, it.deps.Schema.FieldName(f))
	}
	if len(l.creators) > 0 {
		names = append(names, "creators")
	}
	for _, k := range sortedStrings(l.attachment) {
		names = append(names, "attachment."+k)
	}
	flags := []struct {
		set  bool
		name string
	}{
		{l.deleted, "deleted"},
		{l.note, "note"},
		{l.source, "parentItem"},
		{l.related, "relatedItems"},
	}
	for _, f := range flags {
		if f.set {
			names = append(names, f.name)
		}
	}
	return names
}

func sortedKeys[K ~int](m map[K]bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedStrings(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
