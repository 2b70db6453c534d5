package libraries

import (
	"context"

	"github.com/dmitrijs2005/refstore/internal/server/models"
)

// Repository reads the master database: library placement and id sequences.
type Repository interface {
	SelectLibrary(ctx context.Context, libraryID int64) (*models.Library, error)
	SelectShard(ctx context.Context, shardID int) (*models.Shard, error)
	SelectShards(ctx context.Context) ([]models.Shard, error)
	NextVal(ctx context.Context, sequence string) (int64, error)
}
