// Package migrations contains the source-store schema used for local and seeded databases.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
