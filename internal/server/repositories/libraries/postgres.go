// Package libraries provides the master-database repository mapping
// libraries to shards and handing out ids.
package libraries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/models"
)

// Sequences known to the master database.
const (
	ItemIDs    = "item_ids"
	CreatorIDs = "creator_ids"
)

// PostgresRepository implements master lookups over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SelectLibrary(ctx context.Context, libraryID int64) (*models.Library, error) {
	var l models.Library
	var typ string
	err := r.db.QueryRowContext(ctx,
		`SELECT library_id, library_type, shard_id FROM libraries WHERE library_id = $1`, libraryID).
		Scan(&l.ID, &typ, &l.ShardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select library: %w", err)
	}
	l.Type = models.LibraryType(typ)
	return &l, nil
}

func (r *PostgresRepository) SelectShard(ctx context.Context, shardID int) (*models.Shard, error) {
	var s models.Shard
	err := r.db.QueryRowContext(ctx, `SELECT shard_id, dsn FROM shards WHERE shard_id = $1`, shardID).Scan(&s.ID, &s.DSN)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select shard: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) SelectShards(ctx context.Context) ([]models.Shard, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT shard_id, dsn FROM shards ORDER BY shard_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select shards: %w", err)
	}
	defer rows.Close()

	var result []models.Shard
	for rows.Next() {
		var s models.Shard
		if err := rows.Scan(&s.ID, &s.DSN); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// NextVal advances one of the known sequences.
func (r *PostgresRepository) NextVal(ctx context.Context, sequence string) (int64, error) {
	if sequence != ItemIDs && sequence != CreatorIDs {
		return 0, fmt.Errorf("unknown sequence %q", sequence)
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, `SELECT nextval($1)`, sequence).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate id: %w", err)
	}
	return id, nil
}
