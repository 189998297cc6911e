// Package migrations embeds the client ledger's goose SQL migrations.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
