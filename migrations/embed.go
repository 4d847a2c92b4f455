// Package migrations embeds the SQL schema for the backend tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
