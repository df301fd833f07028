package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies gateway failures so callers can react without parsing
// driver-specific messages.
type Kind string

const (
	// KindGateway covers connectivity and permission failures reaching the
	// database. Fatal to the current call, never retried automatically.
	KindGateway Kind = "gateway"
	// KindQuery covers statements the engine rejected or failed to execute.
	// Reported back into the conversation so the model may revise its SQL.
	KindQuery Kind = "query"
	// KindMarshal covers result values with no transport mapping. The
	// originating call fails rather than emitting partial data.
	KindMarshal Kind = "marshal"
)

// Error is the structured error surfaced at the gateway boundary. Code holds
// the engine's error class when one is available (e.g. a SQLSTATE).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newGatewayError(msg string, cause error) *Error {
	return &Error{Kind: KindGateway, Message: msg, cause: cause}
}

func newMarshalError(msg string) *Error {
	return &Error{Kind: KindMarshal, Message: msg}
}

// KindOf reports the gateway kind of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// classifyQueryError turns an engine failure into a KindQuery error with a
// stable code where the driver exposes one. Timeouts get the "timeout" code so
// the model can tell a slow query from a broken one.
func classifyQueryError(err error) *Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Kind: KindQuery, Code: pgErr.Code, Message: pgErr.Message, cause: err}
	}
	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return &Error{Kind: KindQuery, Code: fmt.Sprintf("%d", chErr.Code), Message: chErr.Message, cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindQuery, Code: "timeout", Message: "statement exceeded its deadline", cause: err}
	}
	return &Error{Kind: KindQuery, Code: "error", Message: err.Error(), cause: err}
}
