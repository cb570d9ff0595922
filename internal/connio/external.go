package connio

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/sqlgateway/flightgw/internal/apperrors"
	"github.com/sqlgateway/flightgw/internal/arrowconv"
)

const externalBatchSize = 1000

// ExecuteExternal implements the External Executor of spec.md §4.7: given
// a connection string and fully rendered SQL, dispatch by scheme, execute,
// build the Arrow schema from the driver's column type descriptors, and
// stream all rows in batches of 1,000, closing the connection once the
// stream is exhausted. No rows are sampled to infer column types; a column
// whose driver type is not recognized is streamed as a string.
func ExecuteExternal(ctx context.Context, dsn, sqlText string) (*arrow.Schema, <-chan arrowconv.Chunk, error) {
	db, scheme, err := Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if scheme == SchemeUnknown {
		_ = db.Close()
		return nil, nil, apperrors.New(apperrors.InvalidConnection, "unsupported scheme for dsn")
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		_ = db.Close()
		return nil, nil, apperrors.Wrap(apperrors.ExternalExecution, normalizeDriverError(err), "executing external statement")
	}

	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		_ = db.Close()
		return nil, nil, apperrors.Wrap(apperrors.ExternalExecution, err, "reading result columns")
	}

	if len(cols) == 0 {
		// Non-query statement: empty stream with empty schema (spec.md
		// §4.7 "zero-column result").
		_ = rows.Close()
		_ = db.Close()
		empty := arrow.NewSchema(nil, nil)
		ch := make(chan arrowconv.Chunk)
		close(ch)
		return empty, ch, nil
	}

	schema, err := arrowconv.SchemaFromLiveRows(rows)
	if err != nil {
		_ = rows.Close()
		_ = db.Close()
		return nil, nil, apperrors.Wrap(apperrors.ExternalExecution, err, "inferring schema")
	}

	inner, err := arrowconv.StreamRows(ctx, rows, schema, externalBatchSize)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	out := make(chan arrowconv.Chunk)
	go func() {
		defer close(out)
		defer db.Close()
		for chunk := range inner {
			out <- chunk
		}
	}()

	return schema, out, nil
}

// normalizeDriverError decodes driver-specific raw byte payloads (e.g. the
// pymssql-style (code, bytes) tuples the original implementation had to
// unpack) to UTF-8 best-effort; in Go, database/sql drivers already return
// native error types, so this mostly passes through while ensuring the
// message is UTF-8-safe text.
func normalizeDriverError(err error) error {
	if err == nil {
		return nil
	}
	return &utf8Error{msg: apperrors.Clean(err.Error()), cause: err}
}

type utf8Error struct {
	msg   string
	cause error
}

func (e *utf8Error) Error() string { return e.msg }
func (e *utf8Error) Unwrap() error { return e.cause }
