// Package migrations embeds the SQL schema and seed files shipped with
// the binaries.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
