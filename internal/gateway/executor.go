package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const defaultStatementTimeout = 60 * time.Second

// Row maps column name to a transport-safe scalar.
type Row map[string]any

// QueryResult carries one statement's outcome. Statements producing a result
// set fill Columns/Rows/Count; other statements report RowsAffected with a
// human-readable message. Row order follows the engine's natural order.
type QueryResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	Count        int      `json:"count"`
	RowsAffected int64    `json:"rows_affected,omitempty"`
	Message      string   `json:"message,omitempty"`
}

type ExecutorConfig struct {
	Logger *slog.Logger
	DB     DB

	// StatementTimeout bounds each database call; a timeout surfaces as a
	// query error the model can react to.
	StatementTimeout time.Duration
}

func (cfg *ExecutorConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.StatementTimeout == 0 {
		cfg.StatementTimeout = defaultStatementTimeout
	}
	return nil
}

// Executor runs single SQL statements on scoped connections. Reads and writes
// are executed alike; writes commit before the call returns. There is no
// implicit row limit; bounding result sets is the caller's job.
type Executor struct {
	log *slog.Logger
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate executor config: %w", err)
	}
	return &Executor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Execute runs exactly one statement. Engine failures come back as query
// errors with a non-empty code and message, never a crash.
func (e *Executor) Execute(ctx context.Context, sqlText string) (QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StatementTimeout)
	defer cancel()

	conn, err := e.cfg.DB.Conn(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	defer conn.Close()

	e.log.Debug("gateway: executing statement", "sql", sqlText)

	if !returnsRows(sqlText) {
		res, err := conn.ExecContext(ctx, sqlText)
		if err != nil {
			return QueryResult{}, classifyQueryError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return QueryResult{
			RowsAffected: affected,
			Message:      fmt.Sprintf("Statement executed successfully. %d row(s) affected.", affected),
		}, nil
	}

	rows, err := conn.QueryContext(ctx, sqlText)
	if err != nil {
		return QueryResult{}, classifyQueryError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return QueryResult{}, classifyQueryError(err)
	}

	var resultRows []Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return QueryResult{}, classifyQueryError(err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			safe, err := ToTransport(values[i])
			if err != nil {
				return QueryResult{}, fmt.Errorf("column %q: %w", col, err)
			}
			row[col] = safe
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, classifyQueryError(err)
	}

	return QueryResult{
		Columns: columns,
		Rows:    resultRows,
		Count:   len(resultRows),
	}, nil
}

// returnsRows reports whether the statement produces a result set. The model
// sends both reads and writes through the same tool; writes go through Exec
// so the engine can report the affected row count.
func returnsRows(sqlText string) bool {
	fields := strings.Fields(strings.TrimSpace(sqlText))
	if len(fields) == 0 {
		return true
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "VALUES", "SHOW", "DESCRIBE", "EXPLAIN", "TABLE", "PRAGMA":
		return true
	default:
		return false
	}
}
