// Package migrations embeds the schema of both store backends.
package migrations

import "embed"

// Postgres holds golang-migrate files under "postgres".
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite holds plain idempotent schema files under "sqlite", applied in name order.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
