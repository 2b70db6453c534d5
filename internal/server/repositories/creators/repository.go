package creators

import (
	"context"

	"github.com/dmitrijs2005/refstore/internal/server/models"
)

type Repository interface {
	SelectByID(ctx context.Context, id int64) (*models.Creator, error)
	Insert(ctx context.Context, c *models.Creator) error
	Update(ctx context.Context, c *models.Creator) error
}
