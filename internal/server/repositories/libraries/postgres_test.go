package libraries

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestSelectLibrary(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT library_id, library_type, shard_id FROM libraries WHERE library_id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"library_id", "library_type", "shard_id"}).AddRow(int64(5), "group", 2))

	l, err := repo.SelectLibrary(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Type != models.LibraryGroup || l.ShardID != 2 {
		t.Fatalf("bad library: %+v", l)
	}
}

func TestSelectShard_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT shard_id, dsn FROM shards`).WithArgs(9).WillReturnError(sql.ErrNoRows)

	if _, err := repo.SelectShard(context.Background(), 9); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestNextVal(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT nextval\(\$1\)`).WithArgs("item_ids").
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(101)))

	id, err := repo.NextVal(context.Background(), ItemIDs)
	if err != nil || id != 101 {
		t.Fatalf("want 101, got %d (%v)", id, err)
	}

	if _, err := repo.NextVal(context.Background(), "users"); err == nil {
		t.Fatal("expected error for unknown sequence")
	}
}

func TestSelectShards(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT shard_id, dsn FROM shards ORDER BY shard_id`).
		WillReturnRows(sqlmock.NewRows([]string{"shard_id", "dsn"}).AddRow(1, "postgres://a").AddRow(2, "postgres://b"))

	got, err := repo.SelectShards(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].DSN != "postgres://b" {
		t.Fatalf("bad shards: %+v", got)
	}
}
