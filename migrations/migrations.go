// Package migrations embeds the schema migrations for every supported
// backend. Directory layout: <backend>/<version>_<name>.{up,down}.sql.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql mysql/*.sql
var FS embed.FS
