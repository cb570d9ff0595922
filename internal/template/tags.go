package template

import (
	"github.com/flosch/pongo2/v6"
)

// TagParser matches pongo2's tag-parser signature; internal/reader and
// internal/pyblock each expose one of these without this package importing
// either (they depend on template for ReqCtxFromExecution, so the
// dependency must run the other way).
type TagParser func(doc *pongo2.Parser, start *pongo2.Token, arguments *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error)

var (
	readerTagParser TagParser
	pythonTagParser TagParser
)

// RegisterReaderTag installs internal/reader's `{% reader %}` implementation.
// Must be called (typically from the binary's wiring code, e.g. cmd/) before
// any template referencing `reader` is parsed.
func RegisterReaderTag(p TagParser) { readerTagParser = p }

// RegisterPythonTag installs internal/pyblock's `{% python %}` implementation.
func RegisterPythonTag(p TagParser) { pythonTagParser = p }

func parseReaderTag(doc *pongo2.Parser, start *pongo2.Token, arguments *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
	if readerTagParser == nil {
		return nil, arguments.Error("reader tag used but internal/reader was never registered", start)
	}
	return readerTagParser(doc, start, arguments)
}

func parsePythonTag(doc *pongo2.Parser, start *pongo2.Token, arguments *pongo2.Parser) (pongo2.INodeTag, *pongo2.Error) {
	if pythonTagParser == nil {
		return nil, arguments.Error("python tag used but internal/pyblock was never registered", start)
	}
	return pythonTagParser(doc, start, arguments)
}
