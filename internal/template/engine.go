// Package template wires a Jinja-compatible renderer (flosch/pongo2) with
// the SQL-fragment filter suite and the `reader`/`python` block tags of
// spec.md §4.3. It owns criterion binding (wrapping each criteria entry in
// a value.Wrapper) and exposes the current request's reqctx.Context to
// block tags through the template's execution context.
package template

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/flosch/pongo2/v6"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/sqlgateway/flightgw/internal/apperrors"
	"github.com/sqlgateway/flightgw/internal/reqctx"
	"github.com/sqlgateway/flightgw/internal/templatemeta"
	"github.com/sqlgateway/flightgw/internal/value"
)

// reqCtxKey is the reserved pongo2.Context key block tags read the current
// request's reqctx.Context from.
const reqCtxKey = "__reqctx__"

// Engine renders QueryCommand templates into SQL.
type Engine struct {
	loader *templatemeta.Loader
	log    zerolog.Logger

	set       *pongo2.TemplateSet
	inlineLRU *lru.Cache[string, *pongo2.Template]
}

var registerOnce sync.Once

// New constructs a template Engine backed by loader for named templates.
func New(loader *templatemeta.Loader, log zerolog.Logger) *Engine {
	registerOnce.Do(registerGlobalFiltersAndTags)

	cache, _ := lru.New[string, *pongo2.Template](256)
	return &Engine{
		loader:    loader,
		log:       log.With().Str("component", "template").Logger(),
		set:       pongo2.NewSet("flightgw", pongo2.MustNewLocalFileSystemLoader("")),
		inlineLRU: cache,
	}
}

// Render renders a QueryCommand into SQL, binding criteria and threading
// the given reqctx.Context through to block tags (spec.md §4.3/§4.6).
func (e *Engine) Render(rc *reqctx.Context, cmd *value.QueryCommand) (string, error) {
	if cmd.AlreadyRendered {
		return cmd.Query, nil
	}

	text, err := e.resolveText(cmd)
	if err != nil {
		return "", err
	}

	tmpl, err := e.parse(text)
	if err != nil {
		return "", apperrors.Wrap(apperrors.TemplateRenderError, err, "parsing template")
	}

	ctx := e.buildContext(rc, cmd.Criteria)

	var buf bytes.Buffer
	if err := tmpl.ExecuteWriter(ctx, &buf); err != nil {
		return "", apperrors.Wrap(apperrors.TemplateRenderError, err, "rendering template")
	}

	return buf.String(), nil
}

func (e *Engine) resolveText(cmd *value.QueryCommand) (string, error) {
	if cmd.Template != "" {
		meta, err := e.loader.Load(cmd.Template)
		if err != nil {
			return "", err
		}
		return meta.SQL, nil
	}
	return cmd.Query, nil
}

func (e *Engine) parse(text string) (*pongo2.Template, error) {
	if cached, ok := e.inlineLRU.Get(text); ok {
		return cached, nil
	}
	tmpl, err := e.set.FromString(text)
	if err != nil {
		return nil, err
	}
	e.inlineLRU.Add(text, tmpl)
	return tmpl, nil
}

func (e *Engine) buildContext(rc *reqctx.Context, criteria map[string]any) pongo2.Context {
	ctx := pongo2.Context{
		"now":   value.Today(),
		"TRUE":  true,
		"True":  true,
		"true":  true,
		"FALSE": false,
		"False": false,
		"false": false,
		"zip":   zipBuiltin,
		reqCtxKey: rc,
	}
	for name, raw := range criteria {
		ctx[name] = value.Wrap(name, raw, value.Preprocess)
	}
	return ctx
}

// zipBuiltin mirrors Python's zip() for template authors composing
// parallel lists (spec.md §4.3 globals: "a zip builder").
func zipBuiltin(lists ...[]any) [][]any {
	if len(lists) == 0 {
		return nil
	}
	n := len(lists[0])
	for _, l := range lists {
		if len(l) < n {
			n = len(l)
		}
	}
	out := make([][]any, n)
	for i := 0; i < n; i++ {
		row := make([]any, len(lists))
		for j, l := range lists {
			row[j] = l[i]
		}
		out[i] = row
	}
	return out
}

// ReqCtxFromExecution extracts the reqctx.Context stashed by buildContext,
// for use by internal/reader and internal/pyblock's tag implementations.
func ReqCtxFromExecution(ctx *pongo2.ExecutionContext) (*reqctx.Context, error) {
	v, ok := ctx.Public[reqCtxKey]
	if !ok {
		return nil, fmt.Errorf("no request context bound to template execution")
	}
	rc, ok := v.(*reqctx.Context)
	if !ok {
		return nil, fmt.Errorf("request context has unexpected type %T", v)
	}
	return rc, nil
}
