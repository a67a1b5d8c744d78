// Package all wires every built-in storage backend into the storage
// registry. Import it for side effects:
//
//	import _ "surge/internal/storage/all"
//
// Kinds made available: "postgres", "mssql", "mysql", "sqlite", "oracle"
// and "sql" (any database/sql driver linked into the binary).
package all

import (
	_ "surge/internal/storage/mssql"
	_ "surge/internal/storage/mysql"
	_ "surge/internal/storage/postgres"
	_ "surge/internal/storage/sqldb"
	_ "surge/internal/storage/sqlite"
)
