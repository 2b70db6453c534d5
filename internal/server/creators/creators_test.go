package creators

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	repo "github.com/dmitrijs2005/refstore/internal/server/repositories/creators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShards struct{}

func (fakeShards) ShardDB(context.Context, int64) (*sql.DB, error) { return nil, nil }

type fakeRepo struct {
	repo.Repository
	rows    map[int64]*models.Creator
	selects int
	updates int
}

func (f *fakeRepo) SelectByID(_ context.Context, id int64) (*models.Creator, error) {
	f.selects++
	if r, ok := f.rows[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeRepo) Insert(_ context.Context, c *models.Creator) error {
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeRepo) Update(_ context.Context, c *models.Creator) error {
	f.updates++
	if _, ok := f.rows[c.ID]; !ok {
		return common.ErrorNotFound
	}
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

type fakeRepos struct{ r *fakeRepo }

func (f fakeRepos) Creators(dbx.DBTX) repo.Repository { return f.r }

type fakeIDs struct{ next int64 }

func (f *fakeIDs) NextCreatorID(context.Context) (int64, error) {
	f.next++
	return f.next, nil
}

func (f *fakeIDs) NewKey() (string, error) { return "CRTR2345", nil }

func newRegistry(t *testing.T) (*Registry, *fakeRepo) {
	t.Helper()
	fr := &fakeRepo{rows: map[int64]*models.Creator{
		30: {ID: 30, LibraryID: 1, Key: "CRTR3000", LastName: "Lovelace"},
	}}
	r, err := NewRegistry(fakeShards{}, fakeRepos{r: fr}, &fakeIDs{next: 99}, 16)
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) }
	return r, fr
}

func TestGet_CanonicalInstance(t *testing.T) {
	r, fr := newRegistry(t)
	ctx := context.Background()

	a, err := r.Get(ctx, 1, 30)
	require.NoError(t, err)
	b, err := r.Get(ctx, 1, 30)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, "Lovelace", a.LastName())
	assert.Equal(t, 1, fr.selects)
}

func TestGet_WrongLibraryOrMissing(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Get(ctx, 2, 30)
	assert.True(t, errors.Is(err, common.ErrorNotFound))

	_, err = r.Get(ctx, 1, 404)
	assert.True(t, errors.Is(err, common.ErrorNotFound))
}

func TestSave_NewCreatorGetsIdentity(t *testing.T) {
	r, fr := newRegistry(t)
	ctx := context.Background()

	c := r.New(1)
	assert.False(t, c.HasChanged())
	c.SetName("Ada", "Lovelace", 0)
	assert.True(t, c.HasChanged())

	require.NoError(t, c.Save(ctx))
	assert.Equal(t, int64(100), c.ID())
	assert.Equal(t, "CRTR2345", c.Key())
	assert.False(t, c.HasChanged())
	assert.Equal(t, "Lovelace", fr.rows[100].LastName)

	got, err := r.Get(ctx, 1, 100)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestSave_UpdateOnlyWhenChanged(t *testing.T) {
	r, fr := newRegistry(t)
	ctx := context.Background()

	c, err := r.Get(ctx, 1, 30)
	require.NoError(t, err)

	require.NoError(t, c.Save(ctx))
	assert.Equal(t, 0, fr.updates)

	c.SetName("", "Lovelace", 0)
	assert.False(t, c.HasChanged(), "same name is not a change")

	c.SetName("Ada", "King", 0)
	require.NoError(t, c.Save(ctx))
	assert.Equal(t, 1, fr.updates)
	assert.Equal(t, "King", fr.rows[30].LastName)
}
