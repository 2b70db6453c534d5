package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/refstore/internal/common"
	repo "github.com/dmitrijs2005/refstore/internal/server/repositories/items"
)

// Source returns the parent item id of a note or attachment, or 0.
func (it *Item) Source(ctx context.Context) (int64, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return 0, err
	}
	if it.source.known {
		if it.source.id != 0 || it.source.key == "" {
			return it.source.id, nil
		}
		parent, err := it.store.GetByKey(ctx, it.libraryID, it.source.key)
		if err != nil {
			return 0, fmt.Errorf("source item %d/%s: %w", it.libraryID, it.source.key, err)
		}
		it.source.id = parent.id
		return parent.id, nil
	}
	if it.id == 0 || (!it.isNote() && !it.isAttachment()) {
		return 0, nil
	}

	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return 0, err
	}
	var parent *int64
	r := it.deps.Repos.Items(db)
	if it.isNote() {
		n, err := r.SelectNote(ctx, it.id)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return 0, err
		}
		if n != nil {
			parent = n.SourceItemID
		}
	} else {
		if err := it.ensureAttachment(ctx); err != nil {
			return 0, err
		}
		parent = it.attachment.SourceItemID
	}

	it.source = sourceRef{known: true}
	if parent != nil {
		it.source.id = *parent
	}
	return it.source.id, nil
}

// SourceKey returns the key of the parent item, or "".
func (it *Item) SourceKey(ctx context.Context) (string, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return "", err
	}
	if it.source.known && it.source.id == 0 {
		return it.source.key, nil
	}
	id, err := it.Source(ctx)
	if err != nil || id == 0 {
		return "", err
	}
	parent, err := it.store.Get(ctx, it.libraryID, id)
	if err != nil {
		return "", fmt.Errorf("source item %d: %w", id, err)
	}
	return parent.key, nil
}

func (it *Item) requireChild(op string) error {
	if !it.isNote() && !it.isAttachment() {
		return common.Contractf(op, "can only be called on notes and attachments")
	}
	return nil
}

// rememberSource keeps the parent as of the last save so both the old and
// the new parent can be refreshed after a move.
func (it *Item) rememberSource(ctx context.Context) error {
	if it.prevSourceTaken {
		return nil
	}
	old, err := it.Source(ctx)
	if err != nil {
		return err
	}
	it.prevSource, it.prevSourceTaken = old, true
	return nil
}

// SetSource moves a note or attachment under parentID, or to the top level
// when parentID is 0.
func (it *Item) SetSource(ctx context.Context, parentID int64) (bool, error) {
	if err := it.touchPrimary(ctx); err != nil {
		return false, err
	}
	if err := it.requireChild("SetSource"); err != nil {
		return false, err
	}
	if err := it.rememberSource(ctx); err != nil {
		return false, err
	}
	if it.source.known && it.source.key == "" && it.source.id == parentID {
		return false, nil
	}
	it.source = sourceRef{known: true, id: parentID}
	it.changes.source = true
	return true, nil
}

// SetSourceKey is SetSource addressed by the parent key.
func (it *Item) SetSourceKey(ctx context.Context, parentKey string) (bool, error) {
	if err := it.touchPrimary(ctx); err != nil {
		return false, err
	}
	if err := it.requireChild("SetSourceKey"); err != nil {
		return false, err
	}
	if err := it.rememberSource(ctx); err != nil {
		return false, err
	}
	oldKey, err := it.SourceKey(ctx)
	if err != nil {
		return false, err
	}
	if oldKey == parentKey {
		it.ctxLog(ctx, "source item unchanged")
		return false, nil
	}
	it.source = sourceRef{known: true, key: parentKey}
	it.changes.source = true
	return true, nil
}

func (it *Item) childRepo(ctx context.Context) (repo.Repository, error) {
	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return nil, err
	}
	return it.deps.Repos.Items(db), nil
}

// NumNotes counts child notes, optionally including those in the trash.
func (it *Item) NumNotes(ctx context.Context, includeTrashed bool) (int, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return 0, err
	}
	if it.isNote() {
		return 0, common.Contractf("NumNotes", "cannot be called on notes")
	}
	if it.id == 0 {
		return 0, nil
	}
	n := it.numNotes
	if includeTrashed {
		r, err := it.childRepo(ctx)
		if err != nil {
			return 0, err
		}
		trashed, err := r.CountTrashedNotes(ctx, it.id)
		if err != nil {
			return 0, err
		}
		n += trashed
	}
	return n, nil
}

// NumAttachments counts child attachments of a regular item.
func (it *Item) NumAttachments(ctx context.Context, includeTrashed bool) (int, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return 0, err
	}
	if it.isNote() || it.isAttachment() {
		return 0, common.Contractf("NumAttachments", "can only be called on regular items")
	}
	if it.id == 0 {
		return 0, nil
	}
	n := it.numAttachments
	if includeTrashed {
		r, err := it.childRepo(ctx)
		if err != nil {
			return 0, err
		}
		trashed, err := r.CountTrashedAttachments(ctx, it.id)
		if err != nil {
			return 0, err
		}
		n += trashed
	}
	return n, nil
}

func (it *Item) NumChildren(ctx context.Context, includeTrashed bool) (int, error) {
	notes, err := it.NumNotes(ctx, includeTrashed)
	if err != nil {
		return 0, err
	}
	atts, err := it.NumAttachments(ctx, includeTrashed)
	if err != nil {
		return 0, err
	}
	return notes + atts, nil
}

// Notes lists the ids of child notes ordered by title.
func (it *Item) Notes(ctx context.Context) ([]int64, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return nil, err
	}
	if it.isNote() {
		return nil, common.Contractf("Notes", "cannot be called on notes")
	}
	if it.id == 0 {
		return nil, nil
	}
	r, err := it.childRepo(ctx)
	if err != nil {
		return nil, err
	}
	return r.SelectNoteIDs(ctx, it.id)
}

// Attachments lists the ids of child attachments.
func (it *Item) Attachments(ctx context.Context) ([]int64, error) {
	if err := it.ensurePrimary(ctx); err != nil {
		return nil, err
	}
	if it.isAttachment() {
		return nil, common.Contractf("Attachments", "cannot be called on attachments")
	}
	if it.id == 0 {
		return nil, nil
	}
	r, err := it.childRepo(ctx)
	if err != nil {
		return nil, err
	}
	return r.SelectAttachmentIDs(ctx, it.id)
}
