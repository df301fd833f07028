package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/querylens/querylens/internal/gateway"
)

const ExecuteSQLToolName = "execute_sql"

// NewExecuteSQLTool runs one SQL statement through the executor. Reads return
// columns and rows; writes commit and report the affected row count.
func NewExecuteSQLTool(log *slog.Logger, executor *gateway.Executor) (Tool, error) {
	res, err := jsonschema.For[gateway.QueryResult](nil)
	if err != nil {
		return Tool{}, fmt.Errorf("failed to create execute-sql output schema: %w", err)
	}

	return Tool{
		Definition: Definition{
			Name: ExecuteSQLToolName,
			Description: `Execute a single SQL statement against the connected database. SELECT-style statements return columns, rows and a row count; DML statements are committed and report the number of affected rows. Exactly one statement per call.`,
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"sql": {
						Type:        "string",
						Description: "The SQL statement to execute.",
					},
					"database_name": {
						Type:        "string",
						Description: "Optional database selector; the single configured database is always used.",
					},
				},
				Required: []string{"sql"},
			},
			OutputSchema: res,
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			sqlText, _ := args["sql"].(string)
			log.Debug("tools: handling execute-sql", "sql", sqlText)
			result, err := executor.Execute(ctx, sqlText)
			if err != nil {
				return nil, fmt.Errorf("failed to execute statement: %w", err)
			}
			return result, nil
		},
	}, nil
}
