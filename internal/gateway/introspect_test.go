package gateway

import (
	"context"
	"log/slog"
	"os"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestDB(t *testing.T) DB {
	t.Helper()
	db, err := Open(t.Context(), DBConfig{
		Logger:  testLogger(t),
		Dialect: DialectDuckDB,
		DSN:     "",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func execSQL(t *testing.T, db DB, statements ...string) {
	t.Helper()
	conn, err := db.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()
	for _, stmt := range statements {
		_, err := conn.ExecContext(t.Context(), stmt)
		require.NoError(t, err, "statement: %s", stmt)
	}
}

func TestIntrospector_Excluded(t *testing.T) {
	t.Parallel()

	in, err := NewIntrospector(IntrospectorConfig{
		Logger: testLogger(t),
		DB:     openTestDB(t),
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		excluded bool
	}{
		{name: "EMPLOYEES", excluded: false},
		{name: "ORDERS", excluded: false},
		{name: "SYS_FOO", excluded: true},
		{name: "sys_foo", excluded: true},
		{name: "CLOUD_INGEST_LOG$", excluded: true},
		{name: "APEX_WORKSPACE", excluded: true},
		{name: "ords_metadata", excluded: true},
		{name: "DR$INDEX", excluded: true},
		{name: "SYSTEM_CONFIG", excluded: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.excluded, in.Excluded(tt.name))
		})
	}
}

func TestIntrospector_CustomDenylist(t *testing.T) {
	t.Parallel()

	in, err := NewIntrospector(IntrospectorConfig{
		Logger:   testLogger(t),
		DB:       openTestDB(t),
		Denylist: []string{"TMP_"},
	})
	require.NoError(t, err)

	require.True(t, in.Excluded("tmp_scratch"))
	require.False(t, in.Excluded("SYS_FOO"), "default denylist is replaced, not extended")
	require.True(t, in.Excluded("AUDIT$LOG"), "dollar names stay excluded regardless of denylist")
}

func TestIntrospector_DescribeSchema(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	execSQL(t, db,
		`CREATE TABLE ORDERS (id INTEGER NOT NULL, total DECIMAL(10,2))`,
		`CREATE TABLE EMPLOYEES (id INTEGER NOT NULL, name VARCHAR, hired_on DATE)`,
		`CREATE TABLE SYS_FOO (id INTEGER)`,
		`CREATE TABLE "CLOUD_INGEST_LOG$" (id INTEGER)`,
		`COMMENT ON TABLE EMPLOYEES IS 'People on payroll'`,
		`COMMENT ON COLUMN EMPLOYEES.name IS 'Full legal name'`,
	)

	in, err := NewIntrospector(IntrospectorConfig{
		Logger: testLogger(t),
		DB:     db,
	})
	require.NoError(t, err)

	tables, err := in.DescribeSchema(t.Context())
	require.NoError(t, err)

	require.Len(t, tables, 2)
	require.Equal(t, "EMPLOYEES", tables[0].Name)
	require.Equal(t, "ORDERS", tables[1].Name)
	require.Equal(t, "People on payroll", tables[0].Comment)

	employees := tables[0]
	require.Len(t, employees.Columns, 3)
	require.Equal(t, "id", employees.Columns[0].Name)
	require.False(t, employees.Columns[0].Nullable)
	require.Equal(t, "name", employees.Columns[1].Name)
	require.True(t, employees.Columns[1].Nullable)
	require.Equal(t, "Full legal name", employees.Columns[1].Comment)
	require.Equal(t, "hired_on", employees.Columns[2].Name)
}

func TestIntrospector_DescribeSchema_EmptyDatabase(t *testing.T) {
	t.Parallel()

	in, err := NewIntrospector(IntrospectorConfig{
		Logger: testLogger(t),
		DB:     openTestDB(t),
	})
	require.NoError(t, err)

	tables, err := in.DescribeSchema(t.Context())
	require.NoError(t, err)
	require.Empty(t, tables)
}

func TestIntrospector_DescribeSchema_DBFailure(t *testing.T) {
	t.Parallel()

	in, err := NewIntrospector(IntrospectorConfig{
		Logger: testLogger(t),
		DB:     &failingDB{dialect: DialectDuckDB},
	})
	require.NoError(t, err)

	tables, err := in.DescribeSchema(t.Context())
	require.Error(t, err)
	require.Nil(t, tables, "no partial listing on failure")

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindGateway, kind)
}

// failingDB refuses every connection.
type failingDB struct {
	dialect Dialect
}

func (f *failingDB) Dialect() Dialect {
	return f.dialect
}

func (f *failingDB) Conn(ctx context.Context) (Connection, error) {
	return nil, newGatewayError("failed to acquire connection: connection refused", nil)
}

func (f *failingDB) Close() error {
	return nil
}
