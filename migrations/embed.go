// Package migrations содержит SQL-миграции схемы auth-service (goose).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
