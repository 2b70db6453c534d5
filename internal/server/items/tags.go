package items

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/events"
	"github.com/dmitrijs2005/refstore/internal/server/models"
)

// maxTagLength is the longest tag name accepted, in characters.
const maxTagLength = 255

// Tag types.
const (
	TagManual    = 0
	TagAutomatic = 1
)

// Tag is a (name, type) pair attached to an item. Tags are written directly
// and do not wait for Save.
type Tag struct {
	Name string
	Type int
}

// NumTags counts the tags of a saved item.
func (it *Item) NumTags(ctx context.Context) (int, error) {
	id, err := it.ID(ctx)
	if err != nil || id == 0 {
		return 0, err
	}
	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return 0, err
	}
	return it.deps.Repos.Items(db).CountTags(ctx, id)
}

// Tags returns the tags of a saved item ordered by name.
func (it *Item) Tags(ctx context.Context) ([]Tag, error) {
	id, err := it.ID(ctx)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return []Tag{}, nil
	}
	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return nil, err
	}
	return it.selectTags(ctx, db, id)
}

func (it *Item) selectTags(ctx context.Context, db dbx.DBTX, id int64) ([]Tag, error) {
	rows, err := it.deps.Repos.Items(db).SelectTags(ctx, id)
	if err != nil {
		return nil, err
	}
	tags := make([]Tag, 0, len(rows))
	for _, r := range rows {
		tags = append(tags, Tag{Name: r.Name, Type: r.Type})
	}
	return tags, nil
}

// SetTags replaces the tags of a saved item. Missing library tags are
// created; the links change in one transaction. It reports false when the
// set is unchanged.
func (it *Item) SetTags(ctx context.Context, tags []Tag) (bool, error) {
	id, err := it.ID(ctx)
	if err != nil {
		return false, err
	}
	if id == 0 {
		return false, common.Contractf("SetTags", "item id not set")
	}
	if it.libraryID == 0 {
		return false, common.Contractf("SetTags", "library id not set")
	}
	if err := it.deps.Edit.CheckEdit(ctx, it.libraryID); err != nil {
		return false, err
	}
	want, err := normalizeTags(tags)
	if err != nil {
		return false, err
	}

	db, err := it.deps.Shards.ShardDB(ctx, it.libraryID)
	if err != nil {
		return false, err
	}
	if len(want) == 0 {
		n, err := it.deps.Repos.Items(db).CountTags(ctx, id)
		if err != nil {
			return false, err
		}
		if n == 0 {
			it.ctxLog(ctx, "item has no tags")
			return false, nil
		}
	}

	var changed bool
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		r := it.deps.Repos.Items(tx)
		existing, err := r.SelectTags(ctx, id)
		if err != nil {
			return err
		}

		var unlink []int64
		for _, t := range existing {
			if !slices.Contains(want, Tag{Name: t.Name, Type: t.Type}) {
				unlink = append(unlink, t.ID)
			}
		}
		var link []int64
		for _, t := range want {
			if slices.ContainsFunc(existing, func(e models.Tag) bool { return e.Name == t.Name && e.Type == t.Type }) {
				continue
			}
			tagID, err := r.EnsureTag(ctx, it.libraryID, t.Name, t.Type)
			if err != nil {
				return fmt.Errorf("tag %q: %w", t.Name, err)
			}
			link = append(link, tagID)
		}

		if err := r.LinkTags(ctx, id, link); err != nil {
			return err
		}
		if err := r.UnlinkTags(ctx, id, unlink); err != nil {
			return err
		}
		changed = len(link) > 0 || len(unlink) > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if !changed {
		it.ctxLog(ctx, "tags unchanged")
		return false, nil
	}

	key, err := it.Key(ctx)
	if err != nil {
		it.deps.Logger.Warn(ctx, "item key lookup failed", "item_id", id, "error", err)
	}
	if err := it.deps.Search.Enqueue(ctx, it.libraryID, key); err != nil {
		it.deps.Logger.Warn(ctx, "search index enqueue failed", "library_id", it.libraryID, "key", key, "error", err)
	}
	e := events.NewEvent(events.ActionModify, it.libraryID, id, key, []string{"tags"}, it.deps.Now())
	if err := it.deps.Events.Emit(ctx, e); err != nil {
		it.deps.Logger.Warn(ctx, "item event delivery failed", "event_id", e.ID, "error", err)
	}
	it.deps.Logger.Info(ctx, "item tags saved", "library_id", it.libraryID, "item_id", id, "tags", len(want))
	return true, nil
}

// normalizeTags trims names, drops duplicates and checks names and types.
func normalizeTags(tags []Tag) ([]Tag, error) {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("empty tag name: %w", common.ErrInvalidInput)
		}
		if utf8.RuneCountInString(t.Name) > maxTagLength {
			return nil, fmt.Errorf("tag %.20q...: %w", t.Name, common.ErrDataTooLong)
		}
		if t.Type != TagManual && t.Type != TagAutomatic {
			return nil, fmt.Errorf("tag %q type %d: %w", t.Name, t.Type, common.ErrInvalidInput)
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out, nil
}
