// Package migrations embeds the history database schema.
package migrations

import "embed"

// FS holds the *.sql migration files, applied with database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
