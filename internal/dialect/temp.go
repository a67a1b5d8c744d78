package dialect

import (
	"strings"
)

// TempTableName derives a session-local staging table name for table.
// SQL Server temp tables carry the "#" prefix.
func (d Dialect) TempTableName(table, suffix string) string {
	base := table
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}
	name := "tmp_" + base
	if suffix != "" {
		name += "_" + suffix
	}
	if d == SQLServer {
		return "#" + name
	}
	return name
}

// CreateTempTableSQL returns DDL creating tmp with the shape of cols from
// table and no rows.
func (d Dialect) CreateTempTableSQL(tmp, table string, cols []string) string {
	list := strings.Join(cols, ", ")
	switch d {
	case SQLServer:
		return "SELECT TOP 0 " + list + " INTO " + tmp + " FROM " + table
	case Oracle:
		return "CREATE GLOBAL TEMPORARY TABLE " + tmp +
			" ON COMMIT PRESERVE ROWS AS SELECT " + list + " FROM " + table + " WHERE 1=0"
	case MySQL:
		return "CREATE TEMPORARY TABLE " + tmp + " AS SELECT " + list + " FROM " + table + " WHERE 1=0"
	default:
		return "CREATE TEMP TABLE " + tmp + " AS SELECT " + list + " FROM " + table + " WHERE 1=0"
	}
}

// DropTempTableSQL returns the statements that remove tmp. Oracle global
// temporary tables must be emptied before they can be dropped.
func (d Dialect) DropTempTableSQL(tmp string) []string {
	switch d {
	case Oracle:
		return []string{"TRUNCATE TABLE " + tmp, "DROP TABLE " + tmp}
	case MySQL:
		return []string{"DROP TEMPORARY TABLE IF EXISTS " + tmp}
	default:
		return []string{"DROP TABLE IF EXISTS " + tmp}
	}
}
