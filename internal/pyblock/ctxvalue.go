package pyblock

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/sqlgateway/flightgw/internal/reqctx"
)

// ctxValue is the Starlark-visible `ctx` binding (spec.md §4.3.2): a thin
// wrapper exposing the session's analytical context as a single
// `ctx.query(sql)` builtin returning a list of dicts.
type ctxValue struct {
	rc   *reqctx.Context
	sess SessionContext
}

func (c *ctxValue) String() string        { return "<ctx>" }
func (c *ctxValue) Type() string          { return "ctx" }
func (c *ctxValue) Freeze()                {}
func (c *ctxValue) Truth() starlark.Bool   { return starlark.True }
func (c *ctxValue) Hash() (uint32, error) { return 0, fmt.Errorf("ctx is not hashable") }

func (c *ctxValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "query":
		return starlark.NewBuiltin("query", c.query), nil
	case "session_id":
		return starlark.String(c.rc.SessionID), nil
	default:
		return nil, nil
	}
}

func (c *ctxValue) AttrNames() []string { return []string{"query", "session_id"} }

func (c *ctxValue) query(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var sqlText string
	if err := starlark.UnpackArgs("query", args, kwargs, "sql", &sqlText); err != nil {
		return nil, err
	}

	rows, err := c.sess.QueryContext(c.rc.Ctx(), sqlText)
	if err != nil {
		return nil, fmt.Errorf("ctx.query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := starlark.NewList(nil)
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			var v any
			dest[i] = &v
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		dict := starlark.NewDict(len(cols))
		for i, name := range cols {
			val := *(dest[i].(*any))
			if err := dict.SetKey(starlark.String(name), toStarlarkValue(val)); err != nil {
				return nil, err
			}
		}
		if err := out.Append(dict); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func toStarlarkValue(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case int64:
		return starlark.MakeInt64(x)
	case int:
		return starlark.MakeInt(x)
	case float64:
		return starlark.Float(x)
	case string:
		return starlark.String(x)
	case []byte:
		return starlark.String(string(x))
	default:
		return starlark.String(fmt.Sprintf("%v", x))
	}
}
