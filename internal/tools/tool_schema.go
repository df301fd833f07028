package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/querylens/querylens/internal/gateway"
)

const DescribeSchemaToolName = "describe_schema"

type DescribeSchemaOutput struct {
	Tables []gateway.Table `json:"tables"`
}

// NewDescribeSchemaTool lists every visible user table with columns and
// comments. The optional database_name argument is reserved for multi-database
// routing and currently ignored.
func NewDescribeSchemaTool(log *slog.Logger, introspector *gateway.Introspector) (Tool, error) {
	res, err := jsonschema.For[DescribeSchemaOutput](nil)
	if err != nil {
		return Tool{}, fmt.Errorf("failed to create describe-schema output schema: %w", err)
	}

	return Tool{
		Definition: Definition{
			Name: DescribeSchemaToolName,
			Description: `Describe the tables and columns of the connected database. Returns every user table with its columns, data types, nullability and comments. Call this before writing SQL with "execute_sql".`,
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"database_name": {
						Type:        "string",
						Description: "Optional database selector; the single configured database is always used.",
					},
				},
			},
			OutputSchema: res,
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			log.Debug("tools: handling describe-schema")
			tables, err := introspector.DescribeSchema(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to describe schema: %w", err)
			}
			return DescribeSchemaOutput{Tables: tables}, nil
		},
	}, nil
}
