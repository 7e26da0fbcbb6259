// Package migrations provides the embedded SQL migrations.
package migrations

import "embed"

// Files contains all .sql files from this directory.
//
//go:embed *.sql
var Files embed.FS

// Names lists the migrations in apply order (001, 002, ...).
var Names = []string{
	"001_init.sql",
	"002_push_subscriptions.sql",
}
