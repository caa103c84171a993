// Package migrations embeds the inventory service schema files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
