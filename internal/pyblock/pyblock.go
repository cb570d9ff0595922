// Package pyblock implements the `{% python %}` template block tag of
// spec.md §4.3.2: an in-process, sandboxed script executed against the
// session's analytical context. The embeddable language is go.starlark.net
// rather than CPython — Starlark is a Python dialect with no unbounded
// recursion/import surface, a closer idiomatic-Go fit for an in-process
// script sandbox than shelling out to a real interpreter.
package pyblock

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flosch/pongo2/v6"
	"go.starlark.net/starlark"

	"github.com/sqlgateway/flightgw/internal/apperrors"
	"github.com/sqlgateway/flightgw/internal/arrowconv"
	"github.com/sqlgateway/flightgw/internal/engine"
	"github.com/sqlgateway/flightgw/internal/reqctx"
	"github.com/sqlgateway/flightgw/internal/template"
)

// SessionContext is the subset of engine.SessionContext the python block
// needs: running ad hoc SQL against ctx.query(...) and registering the
// script's return value under out_name.
type SessionContext interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	RegisterRows(ctx context.Context, name string, columns []engine.Column, rows [][]any) error
}

// DownloadsDir is where byte-stream return values are published (spec.md
// §4.3.2 "a publishable downloads area"); configured by the binary's
// wiring code (cmd/).
var DownloadsDir = "./downloads"

// Register installs the python tag parser into internal/template.
func Register() {
	template.RegisterPythonTag(parseTag)
}

type tagNode struct {
	outNameExpr pongo2.IEvaluator
	body        *pongo2.NodeWrapper
}

func parseTag(doc *pongo2.Parser, start *pongo2.Token, arguments *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
	n := &tagNode{}

	// Accept an optional `name=` prefix before the out_name expression.
	if tok := arguments.PeekType(pongo2.TokenIdentifier); tok != nil && tok.Val == "name" {
		arguments.Consume()
		if arguments.Match(pongo2.TokenSymbol, "=") == nil {
			return nil, arguments.Error("python: expected '=' after 'name'", nil)
		}
	}

	outExpr, err := arguments.ParseExpression()
	if err != nil {
		return nil, err
	}
	n.outNameExpr = outExpr

	if arguments.Remaining() > 0 {
		return nil, arguments.Error("python: malformed argument list", nil)
	}

	wrapper, err := doc.WrapUntilTag("endpython")
	if err != nil {
		return nil, err
	}
	n.body = wrapper

	return n, nil
}

func (n *tagNode) Execute(ctx *pongo2.ExecutionContext, writer pongo2.TemplateWriter) *pongo2.Error {
	rc, rcErr := template.ReqCtxFromExecution(ctx)
	if rcErr != nil {
		return &pongo2.Error{Sender: "python", OrigError: rcErr}
	}

	outVal, perr := n.outNameExpr.Evaluate(ctx)
	if perr != nil {
		return perr
	}
	outName := outVal.String()

	var script bytes.Buffer
	if err := n.body.Execute(ctx, &script); err != nil {
		return err
	}

	downloadPath, err := run(rc, outName, script.String())
	if err != nil {
		return &pongo2.Error{Sender: "python", OrigError: err}
	}
	if downloadPath != "" {
		writer.WriteString(fmt.Sprintf("-- [DOWNLOAD_FILE]:%s\n", downloadPath))
	}
	return nil
}

// blockFuncName is the generated wrapper function the script body is
// indented into, so that a top-level `return` (spec.md §4.3.2's scenario 4,
// `_examples/original_source/backend/query_engine/py_extensions.py:349-363`)
// compiles: Starlark, unlike the original's wrapped-function convention,
// rejects `return` outside a function.
const blockFuncName = "_block"

// wrapScript indents the user's script body one level under a generated
// `def _block():` and calls it, capturing its return value into the
// top-level `__result__` binding that run reads back out of ExecFile's
// globals.
func wrapScript(script string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "def %s():\n\tpass\n", blockFuncName)
	for _, line := range strings.Split(script, "\n") {
		b.WriteString("\t")
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "__result__ = %s()\n", blockFuncName)
	return b.String()
}

// run implements spec.md §4.3.2: execute the script, dispatch on its
// return value. Returns the saved download path when the script returned a
// byte stream, so Execute can emit the `-- [DOWNLOAD_FILE]:` marker.
func run(rc *reqctx.Context, outName, script string) (string, error) {
	sess, ok := rc.AnalyticalContext.(SessionContext)
	if !ok {
		return "", apperrors.New(apperrors.PythonScriptError, "python: session has no analytical context bound")
	}

	thread := &starlark.Thread{
		Name: "python-block",
		Print: func(_ *starlark.Thread, msg string) {
			rc.Printf("stdout", msg)
			fmt.Println(msg)
		},
	}

	globals := starlark.StringDict{
		"ctx": &ctxValue{rc: rc, sess: sess},
	}

	out, err := starlark.ExecFile(thread, outName+".py", wrapScript(script), globals)
	if err != nil {
		return "", apperrors.Wrap(apperrors.PythonScriptError, err, "executing python block %q", outName)
	}

	result, ok := out["__result__"]
	if !ok || result == starlark.None {
		return "", nil
	}

	rc.MarkSideEffect()
	return dispatchResult(rc, sess, outName, result)
}

func dispatchResult(rc *reqctx.Context, sess SessionContext, outName string, result starlark.Value) (string, error) {
	switch v := result.(type) {
	case starlark.Bytes:
		return saveDownload(outName, []byte(v))
	case *starlark.List:
		records, err := recordsFromStarlarkList(v)
		if err != nil {
			return "", apperrors.Wrap(apperrors.PythonScriptError, err, "converting return value of %q", outName)
		}
		columns, rows := arrowconv.InferColumnsFromRecords(records)
		return "", sess.RegisterRows(rc.Ctx(), outName, columns, rows)
	default:
		return "", apperrors.New(apperrors.PythonScriptError, "python block %q returned unsupported type %s", outName, result.Type())
	}
}

// saveDownload persists a byte stream under a fresh unique directory
// (spec.md §4.3.2), returning the path Execute emits as a
// `-- [DOWNLOAD_FILE]:/path` marker so the client UI can render a link.
func saveDownload(outName string, data []byte) (string, error) {
	dir, err := os.MkdirTemp(DownloadsDir, "dl-*")
	if err != nil {
		return "", err
	}
	name := outName
	if name == "" || name == "out_name" {
		name = "download.bin"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func recordsFromStarlarkList(list *starlark.List) ([]arrowconv.Record, error) {
	records := make([]arrowconv.Record, 0, list.Len())
	iter := list.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		dict, ok := item.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("expected a list of dicts, got element of type %s", item.Type())
		}
		// dict.Items() preserves the Starlark dict's insertion order, which
		// is the first-seen field order §4.3.3 requires across the dataset.
		rec := arrowconv.Record{Values: map[string]any{}}
		for _, kv := range dict.Items() {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				continue
			}
			rec.Fields = append(rec.Fields, key)
			rec.Values[key] = fromStarlarkValue(kv[1])
		}
		records = append(records, rec)
	}
	return records, nil
}

func fromStarlarkValue(v starlark.Value) any {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.Int:
		i, _ := x.Int64()
		return i
	case starlark.Float:
		return float64(x)
	case starlark.String:
		return string(x)
	default:
		return x.String()
	}
}
