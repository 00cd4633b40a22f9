// Package migrations embeds the SQL files that define the messages schema.
package migrations

import "embed"

// FS holds the embedded SQL migration files, applied at startup before the
// server accepts traffic.
//
//go:embed *.sql
var FS embed.FS
