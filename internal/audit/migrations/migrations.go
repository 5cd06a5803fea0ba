// Package migrations embeds the audit schema so the migrate command can
// apply it without shipping loose SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists the migrations in apply order.
var Files = []string{
	"001_create_batch_runs.sql",
	"002_create_batch_items.sql",
}
