package migrations

import "embed"

// FS contains embedded SQLite migrations for the bring-up journal.
//
//go:embed *.sql
var FS embed.FS
