// Package db embeds the SQL migrations so a deployed binary can bring the
// schema up to date without shipping the files separately.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
