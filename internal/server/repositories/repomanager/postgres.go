// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/migrations"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/creators"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/items"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/libraries"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/values"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes the master and shard migration hooks.
type PostgresRepositoryManager struct{}

// Items returns an items.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Items(db dbx.DBTX) items.Repository {
	return items.NewPostgresRepository(db)
}

// Values returns a values.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Values(db dbx.DBTX) values.Repository {
	return values.NewPostgresRepository(db)
}

// Creators returns a creators.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Creators(db dbx.DBTX) creators.Repository {
	return creators.NewPostgresRepository(db)
}

// Libraries returns a libraries.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Libraries(db dbx.DBTX) libraries.Repository {
	return libraries.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func (m *PostgresRepositoryManager) runMigrations(ctx context.Context, db *sql.DB, dir string) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, dir)
}

// RunMasterMigrations brings the master database (libraries, shards, id
// sequences) up to date.
func (m *PostgresRepositoryManager) RunMasterMigrations(ctx context.Context, db *sql.DB) error {
	return m.runMigrations(ctx, db, migrations.MasterDir)
}

// RunShardMigrations brings one shard database up to date.
func (m *PostgresRepositoryManager) RunShardMigrations(ctx context.Context, db *sql.DB) error {
	return m.runMigrations(ctx, db, migrations.ShardDir)
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
