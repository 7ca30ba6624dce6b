// Package migrations embeds the SQL migration files so the binary can run
// them without a checkout of the repository.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
