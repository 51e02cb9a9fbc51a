package migrations

import "embed"

//go:embed streams/*.sql
var StreamsFS embed.FS

//go:embed views/*.sql
var ViewsFS embed.FS
