// Package migrations embeds the PostgreSQL schema and seed files.
package migrations

import "embed"

// SQL holds *.up.sql and *.down.sql files applied in lexical order.
//
//go:embed sql/*.sql
var SQL embed.FS

// Seeds holds optional demo data.
//
//go:embed seeds/*.sql
var Seeds embed.FS
