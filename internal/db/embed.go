package db

import "embed"

// EmbedMigrations contains the product registry migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
