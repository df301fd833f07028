package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultDenylist covers common system and tooling table naming conventions.
// It can be overridden through configuration without code changes.
var DefaultDenylist = []string{
	"SYS_",
	"DBTOOLS$",
	"ORDS_",
	"APEX_",
	"DR$",
	"MLOG$",
	"RUPD$",
}

const defaultIntrospectTimeout = 30 * time.Second

// Table describes one user table: name, optional comment and its columns in
// declaration order. Produced fresh on every introspection call.
type Table struct {
	Name    string   `json:"name"`
	Comment string   `json:"comment,omitempty"`
	Columns []Column `json:"columns"`
}

type Column struct {
	Name     string `json:"name"`
	DataType string `json:"type"`
	Nullable bool   `json:"nullable"`
	Comment  string `json:"comment,omitempty"`
}

type IntrospectorConfig struct {
	Logger *slog.Logger
	DB     DB

	// Denylist holds name prefixes that mark a table as system-owned. Empty
	// means DefaultDenylist.
	Denylist []string
	Timeout  time.Duration
}

func (cfg *IntrospectorConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.Denylist == nil {
		cfg.Denylist = DefaultDenylist
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultIntrospectTimeout
	}
	return nil
}

// Introspector enumerates the user tables visible to the connected schema,
// hiding system-owned objects from the model.
type Introspector struct {
	log      *slog.Logger
	cfg      IntrospectorConfig
	denylist []string
}

func NewIntrospector(cfg IntrospectorConfig) (*Introspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate introspector config: %w", err)
	}
	denylist := make([]string, len(cfg.Denylist))
	for i, p := range cfg.Denylist {
		denylist[i] = strings.ToUpper(p)
	}
	return &Introspector{
		log:      cfg.Logger,
		cfg:      cfg,
		denylist: denylist,
	}, nil
}

// Excluded reports whether a table name marks a system or tooling table. The
// predicate is pure: name contains a literal '$', or starts with one of the
// configured prefixes (case-insensitive).
func (in *Introspector) Excluded(name string) bool {
	if strings.Contains(name, "$") {
		return true
	}
	upper := strings.ToUpper(name)
	for _, prefix := range in.denylist {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

// DescribeSchema returns every non-excluded user table sorted by name, with
// columns and comments. Connectivity or permission failures abort the whole
// call; a partial listing is never returned.
func (in *Introspector) DescribeSchema(ctx context.Context) ([]Table, error) {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.Timeout)
	defer cancel()

	conn, err := in.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	dialect := in.cfg.DB.Dialect()

	// Tables first, in sorted order. The catalog query already sorts by
	// name; exclusion is applied per table on top.
	tableRows, err := conn.QueryContext(ctx, dialect.tablesQuery())
	if err != nil {
		return nil, newGatewayError(fmt.Sprintf("failed to list tables: %v", err), err)
	}
	defer tableRows.Close()

	var order []string
	tables := make(map[string]*Table)
	for tableRows.Next() {
		var name, comment string
		if err := tableRows.Scan(&name, &comment); err != nil {
			return nil, newGatewayError(fmt.Sprintf("failed to scan table row: %v", err), err)
		}
		if in.Excluded(name) {
			continue
		}
		order = append(order, name)
		tables[name] = &Table{Name: name, Comment: comment}
	}
	if err := tableRows.Err(); err != nil {
		return nil, newGatewayError(fmt.Sprintf("error iterating tables: %v", err), err)
	}

	columnRows, err := conn.QueryContext(ctx, dialect.columnsQuery())
	if err != nil {
		return nil, newGatewayError(fmt.Sprintf("failed to list columns: %v", err), err)
	}
	defer columnRows.Close()

	for columnRows.Next() {
		var tableName, columnName, dataType, comment string
		var nullable any
		if err := columnRows.Scan(&tableName, &columnName, &dataType, &nullable, &comment); err != nil {
			return nil, newGatewayError(fmt.Sprintf("failed to scan column row: %v", err), err)
		}
		table, ok := tables[tableName]
		if !ok {
			continue
		}
		table.Columns = append(table.Columns, Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: isNullable(nullable),
			Comment:  comment,
		})
	}
	if err := columnRows.Err(); err != nil {
		return nil, newGatewayError(fmt.Sprintf("error iterating columns: %v", err), err)
	}

	out := make([]Table, 0, len(order))
	for _, name := range order {
		out = append(out, *tables[name])
	}

	in.log.Debug("gateway: described schema", "dialect", dialect, "tables", len(out))
	return out, nil
}

// isNullable normalizes the nullable flag across catalogs: postgres and
// clickhouse report YES/NO text, duckdb reports a boolean.
func isNullable(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(val, "YES") || val == "1" || strings.EqualFold(val, "true")
	case []byte:
		return isNullable(string(val))
	default:
		return false
	}
}
