// Package migrations embeds the kokoro schema so the binary and the
// integration tests apply the same files regardless of working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
