// Package migrations embeds the order service schema files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
