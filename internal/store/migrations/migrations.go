// Package migrations embeds the SQL schema migrations for syncbox.db.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
