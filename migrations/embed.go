// Package migrations carries the Postgres schema of the dispatch store:
// tickets, agents, derivation records, the per-day ticket counter and the
// NOTIFY triggers that feed the in-process index.
package migrations

import "embed"

// FS holds the numbered *.sql files. storage.RunMigrations applies them in
// name order and records each in schema_migrations.
//
//go:embed *.sql
var FS embed.FS
