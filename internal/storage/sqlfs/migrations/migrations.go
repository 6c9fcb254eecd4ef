// Package migrations embeds the goose migrations for the sqlfs schema, one
// directory per SQL dialect.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS
