// Package shards resolves a library to the shard database holding its items.
// Placement is read from the master database once per library and the
// shard connection pools are shared by every library on the same shard.
package shards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/models"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/libraries"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// LibraryRepos vends master repositories. repomanager.RepositoryManager satisfies it.
type LibraryRepos interface {
	Libraries(db dbx.DBTX) libraries.Repository
}

// openDB is a seam for testing sql.Open.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

type Resolver struct {
	master *sql.DB
	repos  LibraryRepos

	mu   sync.RWMutex
	libs map[int64]*models.Library
	dbs  map[int]*sql.DB
}

func NewResolver(master *sql.DB, repos LibraryRepos) *Resolver {
	return &Resolver{
		master: master,
		repos:  repos,
		libs:   make(map[int64]*models.Library),
		dbs:    make(map[int]*sql.DB),
	}
}

func (r *Resolver) library(ctx context.Context, libraryID int64) (*models.Library, error) {
	r.mu.RLock()
	l, ok := r.libs[libraryID]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}

	l, err := r.repos.Libraries(r.master).SelectLibrary(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("library %d: %w", libraryID, err)
	}

	r.mu.Lock()
	r.libs[libraryID] = l
	r.mu.Unlock()
	return l, nil
}

// LibraryType reports whether libraryID is a user or a group library.
func (r *Resolver) LibraryType(ctx context.Context, libraryID int64) (models.LibraryType, error) {
	l, err := r.library(ctx, libraryID)
	if err != nil {
		return "", err
	}
	return l.Type, nil
}

// ShardDB returns the connection pool of the shard storing libraryID.
func (r *Resolver) ShardDB(ctx context.Context, libraryID int64) (*sql.DB, error) {
	l, err := r.library(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	db, ok := r.dbs[l.ShardID]
	r.mu.RUnlock()
	if ok {
		return db, nil
	}

	s, err := r.repos.Libraries(r.master).SelectShard(ctx, l.ShardID)
	if err != nil {
		return nil, fmt.Errorf("shard %d: %w", l.ShardID, err)
	}
	return r.pool(s)
}

func (r *Resolver) pool(s *models.Shard) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.dbs[s.ID]; ok {
		return db, nil
	}
	db, err := openDB(s.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	r.dbs[s.ID] = db
	return db, nil
}

// Each calls fn with the pool of every shard registered in the master database.
func (r *Resolver) Each(ctx context.Context, fn func(ctx context.Context, shardID int, db *sql.DB) error) error {
	shards, err := r.repos.Libraries(r.master).SelectShards(ctx)
	if err != nil {
		return err
	}
	for i := range shards {
		db, err := r.pool(&shards[i])
		if err != nil {
			return err
		}
		if err := fn(ctx, shards[i].ID, db); err != nil {
			return fmt.Errorf("shard %d: %w", shards[i].ID, err)
		}
	}
	return nil
}

// Close closes every shard pool opened by the resolver.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
		}
		delete(r.dbs, id)
	}
	return errors.Join(errs...)
}
