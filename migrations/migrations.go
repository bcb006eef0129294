// Package migrations embeds the Postgres schema for the audit event sink.
package migrations

import "embed"

// FS holds the numbered up/down migration files.
//
//go:embed *.sql
var FS embed.FS
