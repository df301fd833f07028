package gateway

import "fmt"

// Dialect selects the SQL engine behind the gateway. All engines are reached
// through database/sql; the dialect only decides the driver name and the
// catalog queries used by the introspector.
type Dialect string

const (
	DialectPostgres   Dialect = "postgres"
	DialectDuckDB     Dialect = "duckdb"
	DialectClickHouse Dialect = "clickhouse"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectPostgres, DialectDuckDB, DialectClickHouse:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("unknown dialect %q (supported: postgres, duckdb, clickhouse)", s)
	}
}

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectDuckDB:
		return "duckdb"
	case DialectClickHouse:
		return "clickhouse"
	}
	return string(d)
}

// tablesQuery lists the tables owned by the connected schema together with
// their comments, sorted by name. Only user-schema tables are candidates; the
// exclusion predicate is applied on top of this by the introspector.
func (d Dialect) tablesQuery() string {
	switch d {
	case DialectPostgres:
		return `
			SELECT c.relname, COALESCE(obj_description(c.oid, 'pg_class'), '')
			FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = current_schema() AND c.relkind = 'r'
			ORDER BY c.relname`
	case DialectDuckDB:
		return `
			SELECT table_name, COALESCE(comment, '')
			FROM duckdb_tables()
			WHERE schema_name = 'main'
			ORDER BY table_name`
	case DialectClickHouse:
		return `
			SELECT name, comment
			FROM system.tables
			WHERE database = currentDatabase()
			ORDER BY name`
	}
	return ""
}

// columnsQuery lists every column of the candidate tables in declaration
// order: table, column, data type, nullable flag, comment.
func (d Dialect) columnsQuery() string {
	switch d {
	case DialectPostgres:
		return `
			SELECT c.table_name, c.column_name, c.data_type, c.is_nullable,
			       COALESCE(col_description(pgc.oid, c.ordinal_position::int), '')
			FROM information_schema.columns c
			JOIN pg_namespace n ON n.nspname = c.table_schema
			JOIN pg_class pgc ON pgc.relname = c.table_name AND pgc.relnamespace = n.oid
			WHERE c.table_schema = current_schema()
			ORDER BY c.table_name, c.ordinal_position`
	case DialectDuckDB:
		return `
			SELECT table_name, column_name, data_type, is_nullable, COALESCE(comment, '')
			FROM duckdb_columns()
			WHERE schema_name = 'main'
			ORDER BY table_name, column_index`
	case DialectClickHouse:
		return `
			SELECT table, name, type, if(startsWith(type, 'Nullable'), 'YES', 'NO'), comment
			FROM system.columns
			WHERE database = currentDatabase()
			ORDER BY table, position`
	}
	return ""
}
