package items

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/cache"
	"github.com/dmitrijs2005/refstore/internal/server/events"
	"github.com/dmitrijs2005/refstore/internal/server/interning"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	repo "github.com/dmitrijs2005/refstore/internal/server/repositories/items"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
	"github.com/dmitrijs2005/refstore/internal/server/search"
	"github.com/stretchr/testify/require"
)

// fakeRepo keeps every table in memory. Pool and transaction handles share it.
type fakeRepo struct {
	items       map[int64]*models.Item
	groups      map[int64]*models.GroupItem
	data        map[int64]map[int]string
	creators    map[int64]map[int]models.ItemCreator
	deleted     map[int64]bool
	notes       map[int64]*models.Note
	attachments map[int64]*models.Attachment
	related     map[int64][]int64
	tags        map[int64]models.Tag
	itemTags    map[int64][]int64

	writes []string
	reads  []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:       map[int64]*models.Item{},
		groups:      map[int64]*models.GroupItem{},
		data:        map[int64]map[int]string{},
		creators:    map[int64]map[int]models.ItemCreator{},
		deleted:     map[int64]bool{},
		notes:       map[int64]*models.Note{},
		attachments: map[int64]*models.Attachment{},
		related:     map[int64][]int64{},
		tags:        map[int64]models.Tag{},
		itemTags:    map[int64][]int64{},
	}
}

func (f *fakeRepo) wrote(op string) { f.writes = append(f.writes, op) }

func (f *fakeRepo) SelectByID(_ context.Context, id int64) (*models.Item, error) {
	f.reads = append(f.reads, "SelectByID")
	row, ok := f.items[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeRepo) SelectByKey(_ context.Context, libraryID int64, key string) (*models.Item, error) {
	for _, row := range f.items {
		if row.LibraryID == libraryID && row.Key == key {
			cp := *row
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeRepo) SelectKey(_ context.Context, libraryID, id int64) (string, error) {
	f.reads = append(f.reads, "SelectKey")
	row, ok := f.items[id]
	if !ok || row.LibraryID != libraryID {
		return "", common.ErrorNotFound
	}
	return row.Key, nil
}

func (f *fakeRepo) Exists(_ context.Context, id int64) (bool, error) {
	_, ok := f.items[id]
	return ok, nil
}

func (f *fakeRepo) InsertPrimary(_ context.Context, item *models.Item) error {
	f.wrote("InsertPrimary")
	cp := *item
	f.items[item.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdatePrimary(_ context.Context, id int64, set []repo.Column) error {
	f.wrote("UpdatePrimary")
	row, ok := f.items[id]
	if !ok {
		return common.ErrorNotFound
	}
	for _, c := range set {
		switch c.Name {
		case "item_type_id":
			row.ItemTypeID = c.Value.(int)
		case "date_added":
			row.DateAdded = c.Value.(time.Time)
		case "date_modified":
			row.DateModified = c.Value.(time.Time)
		case "server_date_modified":
			row.ServerDateModified = c.Value.(time.Time)
		case "server_date_modified_ms":
			row.ServerDateModifiedMS = c.Value.(int)
		default:
			return fmt.Errorf("unexpected column %q", c.Name)
		}
	}
	return nil
}

func (f *fakeRepo) SelectGroupItem(_ context.Context, id int64) (*models.GroupItem, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeRepo) InsertGroupItem(_ context.Context, id, userID int64) error {
	f.wrote("InsertGroupItem")
	f.groups[id] = &models.GroupItem{ItemID: id, CreatedByUserID: &userID, LastModifiedByUserID: &userID}
	return nil
}

func (f *fakeRepo) TouchGroupItem(_ context.Context, id, userID int64) error {
	f.wrote("TouchGroupItem")
	g, ok := f.groups[id]
	if !ok {
		g = &models.GroupItem{ItemID: id}
		f.groups[id] = g
	}
	g.LastModifiedByUserID = &userID
	return nil
}

func (f *fakeRepo) SelectItemData(_ context.Context, id int64) ([]models.ItemData, error) {
	f.reads = append(f.reads, "SelectItemData")
	var rows []models.ItemData
	for field, hash := range f.data[id] {
		rows = append(rows, models.ItemData{FieldID: field, Hash: hash})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].FieldID < rows[j].FieldID })
	return rows, nil
}

func (f *fakeRepo) SelectUsedFieldIDs(_ context.Context, id int64) ([]int, error) {
	f.reads = append(f.reads, "SelectUsedFieldIDs")
	out := make([]int, 0, len(f.data[id]))
	for field := range f.data[id] {
		out = append(out, field)
	}
	sort.Ints(out)
	return out, nil
}

func (f *fakeRepo) UpsertItemData(_ context.Context, id int64, rows []models.ItemData) error {
	f.wrote("UpsertItemData")
	if f.data[id] == nil {
		f.data[id] = map[int]string{}
	}
	for _, r := range rows {
		f.data[id][r.FieldID] = r.Hash
	}
	return nil
}

func (f *fakeRepo) DeleteItemData(_ context.Context, id int64, fieldIDs []int) error {
	f.wrote("DeleteItemData")
	for _, field := range fieldIDs {
		delete(f.data[id], field)
	}
	return nil
}

func (f *fakeRepo) SelectCreators(_ context.Context, id int64) ([]models.ItemCreator, error) {
	var rows []models.ItemCreator
	for _, c := range f.creators[id] {
		rows = append(rows, c)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].OrderIndex < rows[j].OrderIndex })
	return rows, nil
}

func (f *fakeRepo) InsertCreators(_ context.Context, id int64, rows []models.ItemCreator) error {
	f.wrote("InsertCreators")
	if f.creators[id] == nil {
		f.creators[id] = map[int]models.ItemCreator{}
	}
	for _, r := range rows {
		if _, dup := f.creators[id][r.OrderIndex]; dup {
			return fmt.Errorf("duplicate creator position %d", r.OrderIndex)
		}
		f.creators[id][r.OrderIndex] = r
	}
	return nil
}

func (f *fakeRepo) DeleteCreatorAt(_ context.Context, id int64, orderIndex int) error {
	f.wrote("DeleteCreatorAt")
	delete(f.creators[id], orderIndex)
	return nil
}

func (f *fakeRepo) IsDeleted(_ context.Context, id int64) (bool, error) {
	return f.deleted[id], nil
}

func (f *fakeRepo) SetDeleted(_ context.Context, id int64, deleted bool, _ time.Time) error {
	f.wrote("SetDeleted")
	f.deleted[id] = deleted
	return nil
}

func (f *fakeRepo) SelectNote(_ context.Context, id int64) (*models.Note, error) {
	n, ok := f.notes[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *n
	return &cp, nil
}

func (f *fakeRepo) UpsertNote(_ context.Context, note *models.Note) error {
	f.wrote("UpsertNote")
	cp := *note
	f.notes[note.ItemID] = &cp
	return nil
}

func (f *fakeRepo) UpdateNoteSource(_ context.Context, id int64, sourceID *int64) error {
	f.wrote("UpdateNoteSource")
	n, ok := f.notes[id]
	if !ok {
		return common.ErrorNotFound
	}
	n.SourceItemID = sourceID
	return nil
}

func (f *fakeRepo) SelectNoteIDs(_ context.Context, sourceID int64) ([]int64, error) {
	var out []int64
	for id, n := range f.notes {
		if n.SourceItemID != nil && *n.SourceItemID == sourceID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeRepo) CountTrashedNotes(_ context.Context, sourceID int64) (int, error) {
	n := 0
	for id, note := range f.notes {
		if note.SourceItemID != nil && *note.SourceItemID == sourceID && f.deleted[id] {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) SelectAttachment(_ context.Context, id int64) (*models.Attachment, error) {
	a, ok := f.attachments[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) UpsertAttachment(_ context.Context, att *models.Attachment) error {
	f.wrote("UpsertAttachment")
	cp := *att
	f.attachments[att.ItemID] = &cp
	return nil
}

func (f *fakeRepo) UpdateAttachmentSource(_ context.Context, id int64, sourceID *int64) error {
	f.wrote("UpdateAttachmentSource")
	a, ok := f.attachments[id]
	if !ok {
		return common.ErrorNotFound
	}
	a.SourceItemID = sourceID
	return nil
}

func (f *fakeRepo) SelectAttachmentIDs(_ context.Context, sourceID int64) ([]int64, error) {
	var out []int64
	for id, a := range f.attachments {
		if a.SourceItemID != nil && *a.SourceItemID == sourceID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeRepo) CountTrashedAttachments(_ context.Context, sourceID int64) (int, error) {
	n := 0
	for id, a := range f.attachments {
		if a.SourceItemID != nil && *a.SourceItemID == sourceID && f.deleted[id] {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) SelectRelated(_ context.Context, id int64) ([]int64, error) {
	return append([]int64(nil), f.related[id]...), nil
}

func (f *fakeRepo) InsertRelated(_ context.Context, id int64, related []int64) error {
	f.wrote("InsertRelated")
	f.related[id] = append(f.related[id], related...)
	return nil
}

func (f *fakeRepo) DeleteRelated(_ context.Context, id int64, related []int64) error {
	f.wrote("DeleteRelated")
	var kept []int64
	for _, r := range f.related[id] {
		drop := false
		for _, d := range related {
			if r == d {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, r)
		}
	}
	f.related[id] = kept
	return nil
}

func (f *fakeRepo) CountTags(_ context.Context, id int64) (int, error) {
	return len(f.itemTags[id]), nil
}

func (f *fakeRepo) SelectTags(_ context.Context, id int64) ([]models.Tag, error) {
	var out []models.Tag
	for _, tagID := range f.itemTags[id] {
		out = append(out, f.tags[tagID])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (f *fakeRepo) EnsureTag(_ context.Context, libraryID int64, name string, tagType int) (int64, error) {
	f.wrote("EnsureTag")
	for id, t := range f.tags {
		if t.LibraryID == libraryID && t.Name == name && t.Type == tagType {
			return id, nil
		}
	}
	id := int64(len(f.tags) + 1)
	f.tags[id] = models.Tag{ID: id, LibraryID: libraryID, Name: name, Type: tagType}
	return id, nil
}

func (f *fakeRepo) LinkTags(_ context.Context, id int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	f.wrote("LinkTags")
	f.itemTags[id] = append(f.itemTags[id], tagIDs...)
	return nil
}

func (f *fakeRepo) UnlinkTags(_ context.Context, id int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	f.wrote("UnlinkTags")
	var kept []int64
	for _, t := range f.itemTags[id] {
		drop := false
		for _, d := range tagIDs {
			if t == d {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, t)
		}
	}
	f.itemTags[id] = kept
	return nil
}

type fakeRepos struct{ r *fakeRepo }

func (f fakeRepos) Items(dbx.DBTX) repo.Repository { return f.r }

type fakeShards struct {
	db    *sql.DB
	types map[int64]models.LibraryType
}

func (f *fakeShards) ShardDB(context.Context, int64) (*sql.DB, error) { return f.db, nil }

func (f *fakeShards) LibraryType(_ context.Context, libraryID int64) (models.LibraryType, error) {
	if t, ok := f.types[libraryID]; ok {
		return t, nil
	}
	return models.LibraryUser, nil
}

type fakeIDs struct {
	next int64
	keys int
}

func (f *fakeIDs) NextItemID(context.Context) (int64, error) {
	f.next++
	return f.next, nil
}

func (f *fakeIDs) NewKey() (string, error) {
	f.keys++
	return fmt.Sprintf("KEY%05d", f.keys), nil
}

// fakeValues interns in memory and rejects values above maxLen bytes.
type fakeValues struct {
	values map[string]string
	maxLen int
}

func (f *fakeValues) Hash(_ context.Context, _ dbx.DBTX, value string) (string, error) {
	if f.maxLen > 0 && len(value) > f.maxLen {
		return "", fmt.Errorf("value of %d bytes: %w", len(value), common.ErrDataTooLong)
	}
	h := interning.HashOf(value)
	f.values[h] = value
	return h, nil
}

func (f *fakeValues) ResolveMany(_ context.Context, _ dbx.DBTX, hashes []string) (map[string]string, error) {
	out := make(map[string]string, len(hashes))
	for _, h := range hashes {
		v, ok := f.values[h]
		if !ok {
			return nil, fmt.Errorf("value %s: %w", h, common.ErrorNotFound)
		}
		out[h] = v
	}
	return out, nil
}

type fakeCreator struct {
	id        int64
	libraryID int64
	lastName  string
	changed   bool
	saves     int
}

func (c *fakeCreator) ID() int64        { return c.id }
func (c *fakeCreator) LibraryID() int64 { return c.libraryID }
func (c *fakeCreator) LastName() string { return c.lastName }
func (c *fakeCreator) HasChanged() bool { return c.changed }

func (c *fakeCreator) Save(context.Context) error {
	c.saves++
	c.changed = false
	return nil
}

type fakeCreators struct {
	byID map[int64]*fakeCreator
	next int64
}

func (f *fakeCreators) add(libraryID int64, lastName string) *fakeCreator {
	f.next++
	c := &fakeCreator{id: f.next, libraryID: libraryID, lastName: lastName}
	f.byID[c.id] = c
	return c
}

func (f *fakeCreators) Get(_ context.Context, _ int64, id int64) (CreatorRef, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return c, nil
}

type recordSink struct{ events []events.Event }

func (s *recordSink) Emit(_ context.Context, e events.Event) error {
	s.events = append(s.events, e)
	return nil
}

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 123*int(time.Millisecond), time.UTC)

type env struct {
	deps     Deps
	store    *Store
	repo     *fakeRepo
	mock     sqlmock.Sqlmock
	shards   *fakeShards
	values   *fakeValues
	creators *fakeCreators
	queue    *search.MemoryQueue
	sink     *recordSink
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem, err := cache.NewMemory(256)
	require.NoError(t, err)

	e := &env{
		repo:     newFakeRepo(),
		mock:     mock,
		shards:   &fakeShards{db: db, types: map[int64]models.LibraryType{}},
		values:   &fakeValues{values: map[string]string{}},
		creators: &fakeCreators{byID: map[int64]*fakeCreator{}, next: 30},
		queue:    search.NewMemoryQueue(),
		sink:     &recordSink{},
	}
	e.deps = Deps{
		Shards:   e.shards,
		Repos:    fakeRepos{e.repo},
		IDs:      &fakeIDs{next: 99},
		Values:   e.values,
		Creators: e.creators,
		Cache:    mem,
		CacheTTL: time.Minute,
		Search:   e.queue,
		Events:   e.sink,
		Now:      func() time.Time { return testNow },
	}
	e.store = e.newStore(t)
	return e
}

// newStore returns a store with an empty canonical cache over the same data.
func (e *env) newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(e.deps, 64)
	require.NoError(t, err)
	return s
}

func (e *env) expectCommit() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

func (e *env) expectRollback() {
	e.mock.ExpectBegin()
	e.mock.ExpectRollback()
}

const (
	typeBook   schema.ItemTypeID = 2
	typeThesis schema.ItemTypeID = 7
)

func (e *env) newItem(t *testing.T, libraryID int64, typeID schema.ItemTypeID) *Item {
	t.Helper()
	it := e.store.New()
	require.NoError(t, it.SetLibraryID(libraryID))
	if typeID != 0 {
		_, err := it.SetItemTypeID(context.Background(), typeID)
		require.NoError(t, err)
	}
	return it
}

// saved creates and saves an item of typeID with the given fields.
func (e *env) saved(t *testing.T, libraryID int64, typeID schema.ItemTypeID, fields map[string]string) *Item {
	t.Helper()
	ctx := context.Background()
	it := e.newItem(t, libraryID, typeID)
	for name, v := range fields {
		_, err := it.SetField(ctx, name, v)
		require.NoError(t, err)
	}
	e.expectCommit()
	ok, err := it.Save(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	return it
}
