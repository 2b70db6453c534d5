// Package creators provides the PostgreSQL repository for creator rows.
package creators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/models"
)

// PostgresRepository implements creator storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SelectByID(ctx context.Context, id int64) (*models.Creator, error) {
	query := `
		SELECT creator_id, library_id, key, first_name, last_name, field_mode, date_added, date_modified
		FROM creators WHERE creator_id = $1
	`
	var c models.Creator
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.LibraryID, &c.Key, &c.FirstName, &c.LastName,
		&c.FieldMode, &c.DateAdded, &c.DateModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select creator: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, c *models.Creator) error {
	query := `
		INSERT INTO creators (creator_id, library_id, key, first_name, last_name, field_mode, date_added, date_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.LibraryID, c.Key, c.FirstName, c.LastName, c.FieldMode,
		c.DateAdded, c.DateModified)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update rewrites the name parts of an existing creator.
func (r *PostgresRepository) Update(ctx context.Context, c *models.Creator) error {
	query := `
		UPDATE creators SET first_name = $1, last_name = $2, field_mode = $3, date_modified = $4
		WHERE creator_id = $5
	`
	res, err := r.db.ExecContext(ctx, query, c.FirstName, c.LastName, c.FieldMode, c.DateModified, c.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
