package migrations

import "embed"

// FS contains the store schema migrations.
//
//go:embed *.sql
var FS embed.FS
