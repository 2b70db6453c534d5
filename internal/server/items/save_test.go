package items

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/server/events"
	"github.com/dmitrijs2005/refstore/internal/server/interning"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
	"github.com/dmitrijs2005/refstore/internal/server/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordMetrics struct{ ops []string }

func (m *recordMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	if success {
		m.ops = append(m.ops, op)
	}
}

type denyEdits struct{}

func (denyEdits) CheckEdit(context.Context, int64) error { return common.ErrForbidden }

func TestSave_NewBookRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := &recordMetrics{}
	e.deps.Metrics = m
	e.store = e.newStore(t)

	it := e.newItem(t, 1, typeBook)
	_, err := it.SetField(ctx, "title", "Moby Dick")
	require.NoError(t, err)
	_, err = it.SetField(ctx, "date", "1851")
	require.NoError(t, err)
	author := e.creators.add(1, "Melville")
	ok, err := it.SetCreator(ctx, 0, author, schema.CreatorAuthor)
	require.NoError(t, err)
	require.True(t, ok)

	e.expectCommit()
	ok, err = it.Save(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, e.mock.ExpectationsWereMet())
	assert.False(t, it.HasChanged())

	id, err := it.ID(ctx)
	require.NoError(t, err)
	key, err := it.Key(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), id)
	assert.Equal(t, "KEY00001", key)

	row := e.repo.items[id]
	require.NotNil(t, row)
	assert.Equal(t, 2, row.ItemTypeID)
	assert.Equal(t, testNow.Truncate(time.Second), row.ServerDateModified)
	assert.Equal(t, 123, row.ServerDateModifiedMS)
	assert.Equal(t, row.ServerDateModified, row.DateAdded)
	assert.Equal(t, interning.HashOf("Moby Dick"), e.repo.data[id][int(schema.FieldTitle)])
	assert.Equal(t, models.ItemCreator{CreatorID: author.id, CreatorTypeID: 1, OrderIndex: 0}, e.repo.creators[id][0])

	assert.Equal(t, []search.Entry{{LibraryID: 1, Key: "KEY00001"}}, e.queue.Drain())
	require.Len(t, e.sink.events, 1)
	ev := e.sink.events[0]
	assert.Equal(t, events.ActionAdd, ev.Action)
	assert.Equal(t, id, ev.ItemID)
	assert.Equal(t, []string{"itemTypeID", "date", "title", "creators"}, ev.Changed)
	assert.Contains(t, m.ops, "save_add")

	loaded, err := e.newStore(t).Get(ctx, 1, id)
	require.NoError(t, err)
	title, err := loaded.GetField(ctx, "title")
	require.NoError(t, err)
	assert.Equal(t, "Moby Dick", title)
	date, err := loaded.GetField(ctx, "date")
	require.NoError(t, err)
	assert.Equal(t, "1851", date)
	n, err := loaded.NumCreators(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	etag1, err := it.ETag(ctx)
	require.NoError(t, err)
	etag2, err := loaded.ETag(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, etag1)
	assert.Equal(t, etag1, etag2)
}

func TestSave_UnchangedIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.saved(t, 1, typeBook, map[string]string{"title": "Moby Dick"})
	id, _ := it.ID(ctx)

	loaded, err := e.newStore(t).Get(ctx, 1, id)
	require.NoError(t, err)
	ok, err := loaded.SetField(ctx, "title", "Moby Dick")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, loaded.HasChanged())

	e.repo.writes = nil
	ok, err = loaded.Save(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, e.repo.writes)
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func TestSave_UpdateWritesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.saved(t, 1, typeBook, map[string]string{"title": "A", "abstractNote": "B"})
	id, _ := it.ID(ctx)
	e.sink.events = nil

	ok, err := it.SetField(ctx, "abstractNote", "")
	require.NoError(t, err)
	require.True(t, ok)

	e.repo.writes = nil
	e.expectCommit()
	ok, err = it.Save(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"UpdatePrimary", "DeleteItemData"}, e.repo.writes)
	_, present := e.repo.data[id][int(schema.FieldAbstract)]
	assert.False(t, present)
	require.Len(t, e.sink.events, 1)
	assert.Equal(t, events.ActionModify, e.sink.events[0].Action)
	assert.Equal(t, []string{"abstractNote"}, e.sink.events[0].Changed)

	used, err := it.UsedFieldNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"title"}, used)
}

func TestSave_PresetIDInsertsRow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.store.New()
	require.NoError(t, it.SetLibraryID(1))
	require.NoError(t, it.SetID(500))
	_, err := it.SetItemTypeID(ctx, typeBook)
	require.NoError(t, err)
	require.ErrorIs(t, it.SetID(501), common.ErrContract)

	e.expectCommit()
	ok, err := it.Save(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, e.repo.items, int64(500))
	assert.Equal(t, "InsertPrimary", e.repo.writes[0])
}

func TestSave_RequiresLibrary(t *testing.T) {
	e := newEnv(t)
	it := e.store.New()
	_, err := it.Save(context.Background(), 0)
	require.ErrorIs(t, err, common.ErrContract)
}

func TestSave_EditCheckerRefuses(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.deps.Edit = denyEdits{}
	e.store = e.newStore(t)

	it := e.newItem(t, 1, typeBook)
	_, err := it.Save(ctx, 0)
	require.ErrorIs(t, err, common.ErrForbidden)
	assert.Empty(t, e.repo.writes)
}

func TestSave_TypeMigrationPersists(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.saved(t, 1, typeBook, map[string]string{"title": "T", "publisher": "Harper"})
	id, _ := it.ID(ctx)

	loaded, err := e.newStore(t).Get(ctx, 1, id)
	require.NoError(t, err)
	ok, err := loaded.SetItemTypeID(ctx, typeThesis)
	require.NoError(t, err)
	require.True(t, ok)

	e.expectCommit()
	_, err = loaded.Save(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, int(typeThesis), e.repo.items[id].ItemTypeID)
	assert.Equal(t, interning.HashOf("Harper"), e.repo.data[id][69])
	_, hasPublisher := e.repo.data[id][int(schema.FieldPublisher)]
	assert.False(t, hasPublisher)

	again, err := e.newStore(t).Get(ctx, 1, id)
	require.NoError(t, err)
	uni, err := again.GetField(ctx, "university")
	require.NoError(t, err)
	assert.Equal(t, "Harper", uni)
	title, err := again.GetField(ctx, "title")
	require.NoError(t, err)
	assert.Equal(t, "T", title)
}

func TestSave_CreatorGapFailsBeforeWriting(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.newItem(t, 1, typeBook)
	_, err := it.SetCreator(ctx, 0, e.creators.add(1, "A"), schema.CreatorAuthor)
	require.NoError(t, err)
	_, err = it.SetCreator(ctx, 2, e.creators.add(1, "C"), schema.CreatorAuthor)
	require.NoError(t, err)

	ok, err := it.Save(ctx, 0)
	require.ErrorIs(t, err, common.ErrContract)
	assert.False(t, ok)
	assert.Empty(t, e.repo.writes)
	assert.True(t, it.HasChanged())
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func TestSave_RemoveCreatorShiftsPositions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.newItem(t, 1, typeBook)
	a, b, c := e.creators.add(1, "A"), e.creators.add(1, "B"), e.creators.add(1, "C")
	for i, ref := range []*fakeCreator{a, b, c} {
		_, err := it.SetCreator(ctx, i, ref, schema.CreatorAuthor)
		require.NoError(t, err)
	}
	e.expectCommit()
	_, err := it.Save(ctx, 0)
	require.NoError(t, err)
	id, _ := it.ID(ctx)

	require.ErrorIs(t, it.RemoveCreator(ctx, 7), common.ErrContract)
	require.NoError(t, it.RemoveCreator(ctx, 1))
	entries, err := it.Creators(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].Ref.LastName())
	assert.Equal(t, "C", entries[1].Ref.LastName())
	assert.Equal(t, 1, entries[1].OrderIndex)

	e.repo.writes = nil
	e.expectCommit()
	_, err = it.Save(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"UpdatePrimary", "DeleteCreatorAt", "DeleteCreatorAt", "InsertCreators"}, e.repo.writes)
	require.Len(t, e.repo.creators[id], 2)
	assert.Equal(t, c.id, e.repo.creators[id][1].CreatorID)
}

func TestSave_SavesChangedCreatorsFirst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.newItem(t, 1, typeBook)
	author := e.creators.add(1, "Melville")
	author.changed = true
	_, err := it.SetCreator(ctx, 0, author, schema.CreatorAuthor)
	require.NoError(t, err)

	e.expectCommit()
	_, err = it.Save(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, author.saves)
}

func TestSave_RelatedItemsDiff(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	a := e.saved(t, 1, typeBook, map[string]string{"title": "A"})
	b := e.saved(t, 1, typeBook, map[string]string{"title": "B"})
	aID, _ := a.ID(ctx)
	bID, _ := b.ID(ctx)

	ok, err := a.AddRelatedItem(ctx, aID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = a.AddRelatedItem(ctx, bID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.AddRelatedItem(ctx, bID)
	require.NoError(t, err)
	assert.False(t, ok)

	e.expectCommit()
	_, err = a.Save(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{bID}, e.repo.related[aID])
	assert.Empty(t, e.repo.related[bID])

	ok, err = b.AddRelatedItem(ctx, aID)
	require.NoError(t, err)
	assert.False(t, ok, "peer already links back")

	ok, err = a.SetRelatedItems(ctx, nil)
	require.NoError(t, err)
	require.True(t, ok)
	e.repo.writes = nil
	e.expectCommit()
	_, err = a.Save(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, e.repo.writes, "DeleteRelated")
	assert.NotContains(t, e.repo.writes, "InsertRelated")
	assert.Empty(t, e.repo.related[aID])

	_, err = a.AddRelatedItem(ctx, 999)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSave_TrashToggle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	it := e.saved(t, 1, typeBook, map[string]string{"title": "A"})
	id, _ := it.ID(ctx)

	ok, err := it.SetDeleted(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	e.expectCommit()
	_, err = it.Save(ctx, 0)
	require.NoError(t, err)
	assert.True(t, e.repo.deleted[id])

	loaded, err := e.newStore(t).Get(ctx, 1, id)
	require.NoError(t, err)
	deleted, err := loaded.Deleted(ctx)
	require.NoError(t, err)
	assert.True(t, deleted)
	ok, err = loaded.SetDeleted(ctx, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave_GroupLibraryAttribution(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.shards.types[2] = models.LibraryGroup

	it := e.newItem(t, 2, typeBook)
	_, err := it.SetField(ctx, "title", "Shared")
	require.NoError(t, err)
	e.expectCommit()
	_, err = it.Save(ctx, 7)
	require.NoError(t, err)

	ok, err := it.SetDeleted(ctx, true)
	require.NoError(t, err)
	assert.False(t, ok, "group items are not trashed here")
	assert.False(t, it.HasChanged())

	_, err = it.SetField(ctx, "title", "Shared 2")
	require.NoError(t, err)
	e.expectCommit()
	_, err = it.Save(ctx, 8)
	require.NoError(t, err)

	created, err := it.CreatedByUserID(ctx)
	require.NoError(t, err)
	modified, err := it.LastModifiedByUserID(ctx)
	require.NoError(t, err)
	require.NotNil(t, created)
	require.NotNil(t, modified)
	assert.Equal(t, int64(7), *created)
	assert.Equal(t, int64(8), *modified)
}

func TestSave_DataTooLong(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.values.maxLen = 20

	it := e.newItem(t, 1, typeBook)
	_, err := it.SetField(ctx, "title", strings.Repeat("x", 60))
	require.NoError(t, err)

	e.expectRollback()
	ok, err := it.Save(ctx, 0)
	assert.False(t, ok)
	var ve *common.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Title", ve.Field)
	assert.Equal(t, strings.Repeat("x", 50), ve.Value)
	assert.ErrorIs(t, err, common.ErrDataTooLong)
	assert.True(t, it.HasChanged())
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func TestSave_DataBatches(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.deps.DataBatchSize = 2
	e.store = e.newStore(t)

	it := e.newItem(t, 1, typeBook)
	for _, name := range []string{"title", "abstractNote", "series", "volume", "place"} {
		_, err := it.SetField(ctx, name, name+" value")
		require.NoError(t, err)
	}
	e.expectCommit()
	_, err := it.Save(ctx, 0)
	require.NoError(t, err)

	upserts := 0
	for _, w := range e.repo.writes {
		if w == "UpsertItemData" {
			upserts++
		}
	}
	assert.Equal(t, 3, upserts)
	id, _ := it.ID(ctx)
	assert.Len(t, e.repo.data[id], 5)
}

func TestSave_ChildNote(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	parent := e.saved(t, 1, typeBook, map[string]string{"title": "P"})
	pid, _ := parent.ID(ctx)

	note := e.newItem(t, 1, schema.TypeNote)
	text := "<p>Call number</p><p>second line</p>"
	ok, err := note.SetNote(ctx, text)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = note.SetSource(ctx, pid)
	require.NoError(t, err)
	require.True(t, ok)

	e.expectCommit()
	_, err = note.Save(ctx, 0)
	require.NoError(t, err)
	nid, _ := note.ID(ctx)

	row := e.repo.notes[nid]
	require.NotNil(t, row)
	require.NotNil(t, row.SourceItemID)
	assert.Equal(t, pid, *row.SourceItemID)
	assert.Equal(t, "Call number", row.Title)
	assert.Equal(t, interning.HashOf(text), row.Hash)

	title, err := note.GetField(ctx, "title")
	require.NoError(t, err)
	assert.Equal(t, "Call number", title)
	other, err := note.GetField(ctx, "publisher")
	require.NoError(t, err)
	assert.Empty(t, other)

	reloaded, err := e.store.Get(ctx, 1, pid)
	require.NoError(t, err)
	assert.NotSame(t, parent, reloaded, "parent is evicted after a child is added")
	notes, err := reloaded.Notes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{nid}, notes)

	ok, err = note.SetNote(ctx, text)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = note.SetSource(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	e.repo.writes = nil
	e.expectCommit()
	_, err = note.Save(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, e.repo.writes, "UpdateNoteSource")
	assert.Nil(t, e.repo.notes[nid].SourceItemID)
}

func TestSave_AttachmentUnderChildRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	parent := e.saved(t, 1, typeBook, map[string]string{"title": "P"})
	pid, _ := parent.ID(ctx)

	note := e.newItem(t, 1, schema.TypeNote)
	_, err := note.SetNote(ctx, "<p>n</p>")
	require.NoError(t, err)
	_, err = note.SetSource(ctx, pid)
	require.NoError(t, err)
	e.expectCommit()
	_, err = note.Save(ctx, 0)
	require.NoError(t, err)
	nid, _ := note.ID(ctx)

	att := e.newItem(t, 1, schema.TypeAttachment)
	_, err = att.SetAttachmentMIMEType(ctx, "application/pdf")
	require.NoError(t, err)
	_, err = att.SetSource(ctx, nid)
	require.NoError(t, err)

	e.repo.writes = nil
	_, err = att.Save(ctx, 0)
	require.ErrorIs(t, err, common.ErrContract)
	assert.Empty(t, e.repo.writes)
}

type fakeFiles struct{}

func (fakeFiles) UploadURL(_ context.Context, libraryID int64, hash string) (string, error) {
	return "put:" + hash, nil
}

func (fakeFiles) DownloadURL(_ context.Context, libraryID int64, hash string) (string, error) {
	return "get:" + hash, nil
}

func TestSave_Attachment(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.deps.Files = fakeFiles{}
	e.store = e.newStore(t)
	parent := e.saved(t, 1, typeBook, map[string]string{"title": "P"})
	pid, _ := parent.ID(ctx)

	att := e.newItem(t, 1, schema.TypeAttachment)
	hash := "9e107d9d372bb6826bd81d3542a419d6"
	_, err := att.SetAttachmentStorageHash(ctx, &hash)
	require.NoError(t, err)
	_, err = att.SetAttachmentMIMEType(ctx, "application/pdf")
	require.NoError(t, err)
	_, err = att.SetField(ctx, "accessDate", "CURRENT_TIMESTAMP")
	require.NoError(t, err)
	_, err = att.SetSource(ctx, pid)
	require.NoError(t, err)
	_, err = att.SetAttachmentLinkMode(ctx, 9)
	require.ErrorIs(t, err, common.ErrInvalidInput)

	e.expectCommit()
	_, err = att.Save(ctx, 0)
	require.NoError(t, err)
	id, _ := att.ID(ctx)

	accessed, err := att.GetFieldByID(ctx, schema.FieldAccessDate, Unformatted)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01 10:00:00", accessed)
	assert.Equal(t, accessed, e.values.values[e.repo.data[id][int(schema.FieldAccessDate)]])

	row := e.repo.attachments[id]
	require.NotNil(t, row)
	require.NotNil(t, row.SourceItemID)
	assert.Equal(t, pid, *row.SourceItemID)
	assert.Equal(t, "application/pdf", row.MIMEType)

	loaded, err := e.newStore(t).Get(ctx, 1, id)
	require.NoError(t, err)
	url, err := loaded.AttachmentDownloadURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "get:"+hash, url)
	src, err := loaded.Source(ctx)
	require.NoError(t, err)
	assert.Equal(t, pid, src)

	_, err = loaded.SetAttachmentLinkMode(ctx, LinkModeLinkedURL)
	require.NoError(t, err)
	_, err = loaded.AttachmentUploadURL(ctx)
	require.ErrorIs(t, err, common.ErrContract)

	_, err = loaded.NumNotes(ctx, false)
	require.NoError(t, err)
	_, err = loaded.NumAttachments(ctx, false)
	require.ErrorIs(t, err, common.ErrContract)
}
