package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/refstore/internal/dbx"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/creators"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/items"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/libraries"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/values"
)

type RepositoryManager interface {
	RunMasterMigrations(context.Context, *sql.DB) error
	RunShardMigrations(context.Context, *sql.DB) error
	Items(db dbx.DBTX) items.Repository
	Values(db dbx.DBTX) values.Repository
	Creators(db dbx.DBTX) creators.Repository
	Libraries(db dbx.DBTX) libraries.Repository
}
