// Package reader implements the `{% reader %}` template block tag of
// spec.md §4.3.1: pull rows from an external relational source into the
// session's analytical context, either as an in-memory table or, when
// `use_parquet` is set, as a Parquet-backed view.
package reader

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/sqlgateway/flightgw/internal/connio"
	"github.com/sqlgateway/flightgw/internal/engine"
	"github.com/sqlgateway/flightgw/internal/reqctx"
	"github.com/sqlgateway/flightgw/internal/template"
)

const fetchBatchSize = 10000

// SessionContext is the subset of engine.SessionContext the reader tag
// needs: the two registration methods it calls.
type SessionContext interface {
	RegisterRows(ctx context.Context, name string, columns []engine.Column, rows [][]any) error
	RegisterParquetView(ctx context.Context, name, parquetPath string, columns []engine.Column, rows [][]any) error
}

// Register installs the reader tag parser into internal/template. Call once
// during process startup.
func Register() {
	template.RegisterReaderTag(parseTag)
}

type tagNode struct {
	tableExpr      pongo2.IEvaluator
	connExpr       pongo2.IEvaluator
	useParquetExpr pongo2.IEvaluator // may be nil
	body           *pongo2.NodeWrapper
}

func parseTag(doc *pongo2.Parser, start *pongo2.Token, arguments *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
	n := &tagNode{}

	tableExpr, err := arguments.ParseExpression()
	if err != nil {
		return nil, err
	}
	n.tableExpr = tableExpr

	if arguments.Match(pongo2.TokenSymbol, ",") == nil {
		return nil, arguments.Error("reader: expected ',' after table name", nil)
	}
	connExpr, err := arguments.ParseExpression()
	if err != nil {
		return nil, err
	}
	n.connExpr = connExpr

	if arguments.Match(pongo2.TokenSymbol, ",") != nil {
		useParquetExpr, err := arguments.ParseExpression()
		if err != nil {
			return nil, err
		}
		n.useParquetExpr = useParquetExpr
	}

	if arguments.Remaining() > 0 {
		return nil, arguments.Error("reader: malformed argument list", nil)
	}

	wrapper, err := doc.WrapUntilTag("endreader")
	if err != nil {
		return nil, err
	}
	n.body = wrapper

	return n, nil
}

func (n *tagNode) Execute(ctx *pongo2.ExecutionContext, writer pongo2.TemplateWriter) *pongo2.Error {
	rc, err := template.ReqCtxFromExecution(ctx)
	if err != nil {
		return &pongo2.Error{Sender: "reader", OrigError: err}
	}

	tableVal, perr := n.tableExpr.Evaluate(ctx)
	if perr != nil {
		return perr
	}
	connVal, perr := n.connExpr.Evaluate(ctx)
	if perr != nil {
		return perr
	}
	useParquet := false
	if n.useParquetExpr != nil {
		v, perr := n.useParquetExpr.Evaluate(ctx)
		if perr != nil {
			return perr
		}
		useParquet = v.IsTrue()
	}

	var innerSQL bytes.Buffer
	if err := n.body.Execute(ctx, &innerSQL); err != nil {
		return err
	}

	if execErr := run(rc, tableVal.String(), connVal.String(), strings.TrimSpace(innerSQL.String()), useParquet && !rc.SchemaInference); execErr != nil {
		writer.WriteString(fmt.Sprintf("-- reader error: %s\n", execErr.Error()))
		return nil
	}

	return nil
}

// run implements spec.md §4.3.1 steps 1-7.
func run(rc *reqctx.Context, tableName, connRef, innerSQL string, useParquet bool) error {
	dsn, err := resolveConnRef(rc, connRef)
	if err != nil {
		return err
	}

	db, _, err := connio.Open(rc.Ctx(), dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.QueryContext(rc.Ctx(), innerSQL)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := engine.DescribeRows(rows)
	if err != nil {
		return err
	}

	sess, ok := rc.AnalyticalContext.(SessionContext)
	if !ok {
		return fmt.Errorf("reader: session has no analytical context bound")
	}

	rc.MarkSideEffect()

	if rc.SchemaInference {
		batch, _, err := fetchBatch(rows, len(cols), fetchBatchSize)
		if err != nil {
			return err
		}
		return sess.RegisterRows(rc.Ctx(), tableName, cols, batch)
	}

	if useParquet {
		return registerAsParquetView(rc, sess, tableName, cols, rows)
	}
	return registerAsTable(rc, sess, tableName, cols, rows)
}

func registerAsTable(rc *reqctx.Context, sess SessionContext, tableName string, cols []engine.Column, rows *sql.Rows) error {
	var all [][]any
	for {
		batch, n, err := fetchBatch(rows, len(cols), fetchBatchSize)
		if err != nil {
			return err
		}
		all = append(all, batch...)
		if n < fetchBatchSize {
			break
		}
	}
	return sess.RegisterRows(rc.Ctx(), tableName, cols, all)
}

func registerAsParquetView(rc *reqctx.Context, sess SessionContext, tableName string, cols []engine.Column, rows *sql.Rows) error {
	var all [][]any
	for {
		batch, n, err := fetchBatch(rows, len(cols), fetchBatchSize)
		if err != nil {
			return err
		}
		all = append(all, batch...)
		if n < fetchBatchSize {
			break
		}
	}

	path, err := writeParquetFile(cols, all)
	if err != nil {
		return err
	}
	return sess.RegisterParquetView(rc.Ctx(), tableName, path, cols, all)
}

// fetchBatch pulls up to `limit` rows from an already-open *sql.Rows,
// lowercasing is already applied at the column-descriptor level
// (engine.DescribeRows); returns the rows fetched and how many (< limit
// signals exhaustion).
func fetchBatch(rows *sql.Rows, nCols, limit int) ([][]any, int, error) {
	var batch [][]any
	n := 0
	for n < limit && rows.Next() {
		dest := make([]any, nCols)
		for i := range dest {
			var v any
			dest[i] = &v
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, n, err
		}
		row := make([]any, nCols)
		for i, d := range dest {
			row[i] = *(d.(*any))
		}
		batch = append(batch, row)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, n, err
	}
	return batch, n, nil
}

func resolveConnRef(rc *reqctx.Context, ref string) (string, error) {
	if strings.Contains(ref, "://") {
		return ref, nil
	}
	if rc.ConnectionLookup == nil {
		return "", fmt.Errorf("reader: no connection registry bound to request")
	}
	dsn, _, ok := rc.ConnectionLookup.Resolve(rc.Ctx(), ref)
	if !ok {
		return "", fmt.Errorf("reader: connection %q not found", ref)
	}
	return dsn, nil
}

// writeParquetFile materializes rows to a fresh temporary Parquet file
// (snappy compression, dictionary encoding, 1 MiB page size per spec.md
// §4.3.1 step 4). Column writing is delegated to internal/arrowconv's
// Arrow conversion so the on-disk schema matches what the engine would
// infer for the same rows.
func writeParquetFile(cols []engine.Column, rows [][]any) (string, error) {
	f, err := os.CreateTemp("", "flightgw-reader-*.parquet")
	if err != nil {
		return "", err
	}
	path := f.Name()
	_ = f.Close()

	if err := writeParquet(path, cols, rows); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}
