// Package reqctx implements the per-request mutable state described in
// spec.md §5: an explicit RequestContext struct threaded through the
// template engine's extension API, replacing thread/task-local globals.
// It is constructed fresh on every get_flight_info/do_get invocation (the
// do_action handlers do not use one) and must never be reused across
// requests.
package reqctx

import (
	"context"
	"sync"
)

// LogItem is one entry in the log multiplexing stream (spec.md §4.6/§9):
// StreamType is one of "stdout", "stderr", "system"; the zero-value item
// signals end of stream (the sentinel).
type LogItem struct {
	StreamType string
	Content    string
}

// Context bundles everything a render+execute cycle needs, and nothing
// more: the session's analytical context, the connection lookup, the
// session id, and the two render-time flags from spec.md §4.6.
type Context struct {
	mu sync.Mutex

	baseCtx          context.Context
	SessionID        string
	SchemaInference  bool
	hasSideEffects   bool
	ConnectionLookup ConnectionLookup

	// AnalyticalContext is an opaque handle into internal/engine; typed as
	// `any` so reqctx does not import engine. Block tags assert it to their
	// own SessionContext interfaces.
	AnalyticalContext any

	logQueue chan LogItem
	logOnce  sync.Once
}

// ConnectionLookup resolves a named/system connection reference used by
// `reader` blocks (spec.md §4.3.1 step 1); implemented by internal/connreg.
type ConnectionLookup interface {
	Resolve(ctx context.Context, ref string) (dsn string, scheme string, ok bool)
}

// New constructs a fresh RequestContext for one render+execute cycle.
func New(ctx context.Context, sessionID string, schemaInference bool, lookup ConnectionLookup, analytical any) *Context {
	return &Context{
		baseCtx:           ctx,
		SessionID:         sessionID,
		SchemaInference:   schemaInference,
		ConnectionLookup:  lookup,
		AnalyticalContext: analytical,
	}
}

// Ctx returns the context.Context the request was created with, for block
// tags (internal/reader, internal/pyblock) that need to issue
// context-aware calls (database queries, connection dialing) mid-render.
func (c *Context) Ctx() context.Context {
	if c.baseCtx == nil {
		return context.Background()
	}
	return c.baseCtx
}

// MarkSideEffect sets has_side_effects = true; called by the reader/python
// block tags whenever they mutate the session's table namespace.
func (c *Context) MarkSideEffect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasSideEffects = true
}

// HasSideEffects reports whether rendering mutated the session namespace.
func (c *Context) HasSideEffects() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasSideEffects
}

// LogQueue lazily creates and returns the bounded MPSC channel used for
// log-stream multiplexing (spec.md §9): the render task is the producer,
// the do_get streaming task is the consumer, FIFO order, sentinel-terminated.
func (c *Context) LogQueue() chan LogItem {
	c.logOnce.Do(func() {
		c.logQueue = make(chan LogItem, 64)
	})
	return c.logQueue
}

// Printf enqueues a line onto the log queue from a `python` block's
// overridden `print`, mirroring to local stdout is the caller's concern
// (internal/pyblock), not this package's.
func (c *Context) Printf(streamType, content string) {
	select {
	case c.LogQueue() <- LogItem{StreamType: streamType, Content: content}:
	default:
		// Queue saturated: drop rather than block the render task
		// indefinitely; a saturated log queue means the consumer already
		// stopped reading (e.g. client cancellation).
	}
}

// CloseLogQueue enqueues the sentinel signalling render completion.
func (c *Context) CloseLogQueue() {
	c.LogQueue() <- LogItem{} // zero value sentinel: StreamType == "" && Content == ""
}

// IsSentinel reports whether item is the end-of-stream sentinel.
func (i LogItem) IsSentinel() bool { return i.StreamType == "" && i.Content == "" }
