// Package migrations embeds the goose migrations for the master database
// and for every shard.
package migrations

import "embed"

//go:embed master/*.sql shard/*.sql
var Migrations embed.FS

// Directories inside Migrations.
const (
	MasterDir = "master"
	ShardDir  = "shard"
)
