// Package values stores the content-addressed item field values of a shard.
package values

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/refstore/internal/dbx"
)

// PostgresRepository implements value storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores value under hash. An existing row for hash is left alone.
func (r *PostgresRepository) Insert(ctx context.Context, hash, value string) error {
	query := `INSERT INTO item_data_values (hash, value) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, hash, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SelectMany returns the stored values for hashes. Unknown hashes are absent
// from the result.
func (r *PostgresRepository) SelectMany(ctx context.Context, hashes []string) (map[string]string, error) {
	result := make(map[string]string, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	ps := make([]string, len(hashes))
	args := make([]any, len(hashes))
	for i, h := range hashes {
		ps[i] = fmt.Sprintf("$%d", i+1)
		args[i] = h
	}
	query := `SELECT hash, value FROM item_data_values WHERE hash IN (` + strings.Join(ps, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h, v string
		if err := rows.Scan(&h, &v); err != nil {
			return nil, err
		}
		result[h] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
