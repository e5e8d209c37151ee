// Package migrations embeds the history store schema into the binary.
package migrations

import "embed"

// FS holds the NNNN_description.sql migration files.
//
//go:embed *.sql
var FS embed.FS
