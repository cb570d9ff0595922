// Package pipeline implements the Query Pipeline of spec.md §4.6:
// get_flight_info's schema-or-placeholder resolution and do_get's
// render-then-stream dispatch between log-streaming and grid mode. It is
// transport-agnostic; internal/flightserver adapts it to Arrow Flight.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/sqlgateway/flightgw/internal/apperrors"
	"github.com/sqlgateway/flightgw/internal/arrowconv"
	"github.com/sqlgateway/flightgw/internal/connio"
	"github.com/sqlgateway/flightgw/internal/connreg"
	"github.com/sqlgateway/flightgw/internal/engine"
	"github.com/sqlgateway/flightgw/internal/reqctx"
	"github.com/sqlgateway/flightgw/internal/session"
	"github.com/sqlgateway/flightgw/internal/template"
	"github.com/sqlgateway/flightgw/internal/value"
)

// Pipeline wires together everything a render+execute request cycle needs.
type Pipeline struct {
	Sessions    *session.Manager
	Templates   *template.Engine
	Connections *connreg.Registry
	Log         zerolog.Logger
}

// FlightInfo is the transport-agnostic result of GetFlightInfo.
type FlightInfo struct {
	Schema *arrow.Schema
	Ticket []byte // JSON-encoded QueryCommand
}

var ddlPrefix = regexp.MustCompile(`(?i)^\s*(CREATE|INSERT|UPDATE|DELETE|DROP)\b`)
var commentLine = regexp.MustCompile(`(?m)^\s*--.*$`)

func isEmptyOrCommentOnly(sql string) bool {
	stripped := commentLine.ReplaceAllString(sql, "")
	return strings.TrimSpace(stripped) == ""
}

// GetFlightInfo implements spec.md §4.6 steps 1-7.
func (p *Pipeline) GetFlightInfo(ctx context.Context, descriptorCmd []byte) (*FlightInfo, error) {
	cmd, err := value.ParseCommand(descriptorCmd)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "parsing descriptor command")
	}
	log := p.Log.With().Str("session_id", cmd.SessionID).Logger()
	log.Debug().Str("template", cmd.Template).Msg("get_flight_info")

	sess, err := p.Sessions.GetOrCreate(cmd.SessionID)
	if err != nil {
		return nil, err
	}

	// Step 2: external-connection bypass.
	if cmd.HasExternalConnection() {
		if _, _, ok := p.Connections.Resolve(ctx, cmd.ConnectionID); ok {
			ticket, err := cmd.Marshal()
			if err != nil {
				return nil, err
			}
			return &FlightInfo{Schema: arrow.NewSchema(nil, nil), Ticket: ticket}, nil
		}
	}

	sess.Lock()
	defer sess.Unlock()

	analytical := sess.Context.(*engine.SessionContext)
	rc := reqctx.New(ctx, cmd.SessionID, true, p.Connections, analytical)
	rc.SchemaInference = true

	rendered, renderErr := p.Templates.Render(rc, cmd)
	if renderErr != nil {
		log.Warn().Err(renderErr).Msg("template render failed during schema inference")
	}

	// Step 4: side effects force a re-render in do_get, so the ticket
	// echoes the original command; otherwise the ticket carries the
	// already-rendered SQL.
	ticketCmd := *cmd
	if !rc.HasSideEffects() && renderErr == nil && strings.TrimSpace(rendered) != "" {
		ticketCmd = value.QueryCommand{Query: rendered, SessionID: cmd.SessionID, AlreadyRendered: true}
	}
	ticket, err := ticketCmd.Marshal()
	if err != nil {
		return nil, err
	}

	if renderErr != nil || isEmptyOrCommentOnly(rendered) {
		return &FlightInfo{Schema: arrowconv.PlaceholderResultSchema(), Ticket: ticket}, nil
	}
	if ddlPrefix.MatchString(rendered) {
		return &FlightInfo{Schema: arrowconv.PlaceholderResultSchema(), Ticket: ticket}, nil
	}

	cols, err := analytical.ProbeSchema(ctx, rendered)
	if err != nil {
		return &FlightInfo{Schema: arrowconv.PlaceholderResultSchema(), Ticket: ticket}, nil
	}
	return &FlightInfo{Schema: arrowconv.SchemaFromColumns(cols), Ticket: ticket}, nil
}

// StreamResult is the transport-agnostic result of DoGet.
type StreamResult struct {
	Schema  *arrow.Schema
	Records <-chan arrowconv.Chunk
}

// DoGet implements spec.md §4.6 do_get.
func (p *Pipeline) DoGet(ctx context.Context, ticket []byte, headerSessionID string) (*StreamResult, error) {
	cmd, err := value.ParseCommand(ticket)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidCommand, err, "parsing ticket")
	}
	if cmd.SessionID == "" || cmd.SessionID == "default" {
		if headerSessionID != "" {
			cmd.SessionID = headerSessionID
		} else {
			cmd.SessionID = "default"
		}
	}

	sess, err := p.Sessions.GetOrCreate(cmd.SessionID)
	if err != nil {
		return nil, err
	}
	analytical := sess.Context.(*engine.SessionContext)

	if cmd.HasExternalConnection() {
		return p.doGetExternal(ctx, sess, analytical, cmd)
	}

	sess.Lock()
	rc := reqctx.New(ctx, cmd.SessionID, false, p.Connections, analytical)

	renderDone := make(chan error, 1)
	var wg conc.WaitGroup
	wg.Go(func() {
		defer sess.Unlock()
		rendered, err := p.Templates.Render(rc, cmd)
		if err == nil {
			cmd.Query = rendered
		}
		rc.CloseLogQueue()
		renderDone <- err
	})
	// A render panic (e.g. a misbehaving filter) would otherwise leave
	// renderDone's reader blocked forever; conc re-raises it at Wait(),
	// which this watcher recovers and turns into a render error.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.Log.Error().Interface("panic", r).Str("session_id", cmd.SessionID).Msg("template render panicked")
				select {
				case renderDone <- apperrors.New(apperrors.TemplateRenderError, "template render panicked: %v", r):
				default:
				}
				rc.CloseLogQueue()
			}
		}()
		wg.Wait()
	}()

	first := <-rc.LogQueue()
	if !first.IsSentinel() {
		return p.logStreamingMode(ctx, rc, first, renderDone, analytical, cmd)
	}
	renderErr := <-renderDone
	return p.gridMode(ctx, renderErr, analytical, cmd)
}

func (p *Pipeline) gridMode(ctx context.Context, renderErr error, analytical *engine.SessionContext, cmd *value.QueryCommand) (*StreamResult, error) {
	if renderErr != nil {
		return nil, apperrors.Wrap(apperrors.TemplateRenderError, renderErr, "rendering query")
	}

	if strings.TrimSpace(cmd.Query) == "" {
		return singleResultRow("(no output)"), nil
	}

	if cmd.HasExternalConnection() {
		dsn, _, ok := p.Connections.Resolve(ctx, cmd.ConnectionID)
		if !ok {
			return nil, apperrors.New(apperrors.InvalidConnection, "connection %q not found", cmd.ConnectionID)
		}
		schema, chunks, err := connio.ExecuteExternal(ctx, dsn, cmd.Query)
		if err != nil {
			return nil, err
		}
		return &StreamResult{Schema: schema, Records: chunks}, nil
	}

	rows, err := analytical.QueryContext(ctx, cmd.Query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.EngineExecutionError, err, "executing rendered sql")
	}
	schema, err := arrowconv.SchemaFromLiveRows(rows)
	if err != nil {
		_ = rows.Close()
		return nil, apperrors.Wrap(apperrors.EngineExecutionError, err, "inferring result schema")
	}
	chunks, err := arrowconv.StreamRows(ctx, rows, schema, 0)
	if err != nil {
		return nil, err
	}
	return &StreamResult{Schema: schema, Records: chunks}, nil
}

// doGetExternal sends cmd.Query to the external connection as literal SQL:
// no template rendering happens on this path, so reader/python blocks never
// run and the session's analytical context is not touched.
func (p *Pipeline) doGetExternal(ctx context.Context, sess *session.Session, analytical *engine.SessionContext, cmd *value.QueryCommand) (*StreamResult, error) {
	dsn, _, ok := p.Connections.Resolve(ctx, cmd.ConnectionID)
	if !ok {
		return nil, apperrors.New(apperrors.InvalidConnection, "connection %q not found", cmd.ConnectionID)
	}
	schema, chunks, err := connio.ExecuteExternal(ctx, dsn, cmd.Query)
	if err != nil {
		return nil, err
	}
	return &StreamResult{Schema: schema, Records: chunks}, nil
}

// logStreamingMode implements spec.md §4.6 do_get's log-streaming branch:
// forward every dequeued log item as a one-row batch until the sentinel,
// then either surface the render error or execute+summarize the rendered
// SQL as a final `system` row.
func (p *Pipeline) logStreamingMode(ctx context.Context, rc *reqctx.Context, first reqctx.LogItem, renderDone chan error, analytical *engine.SessionContext, cmd *value.QueryCommand) (*StreamResult, error) {
	schema := arrowconv.LogStreamSchema()
	out := make(chan arrowconv.Chunk, 1)

	go func() {
		defer close(out)
		emit := func(item reqctx.LogItem) {
			rec := arrowconv.RecordFromRows(schema, [][]any{{item.StreamType, item.Content}})
			out <- arrowconv.Chunk{Record: rec}
		}
		emit(first)

		for item := range rc.LogQueue() {
			if item.IsSentinel() {
				break
			}
			emit(item)
		}

		renderErr := <-renderDone
		if renderErr != nil {
			emit(reqctx.LogItem{StreamType: "stderr", Content: apperrors.Clean(renderErr.Error())})
			return
		}
		if strings.TrimSpace(cmd.Query) == "" {
			return
		}
		summary := summarizeExecution(ctx, analytical, cmd.Query)
		emit(reqctx.LogItem{StreamType: "system", Content: summary})
	}()

	return &StreamResult{Schema: schema, Records: out}, nil
}

// summarizeExecution implements do_get's grid-mode-skipped summary
// (spec.md §4.6 step 4, log-streaming branch): row count, plus a textual
// preview of the rows when there are fewer than 50.
func summarizeExecution(ctx context.Context, analytical *engine.SessionContext, sqlText string) string {
	rows, err := analytical.QueryContext(ctx, sqlText)
	if err != nil {
		return "error: " + apperrors.Clean(err.Error())
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "error: " + apperrors.Clean(err.Error())
	}

	count := 0
	var preview []string
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			var v any
			dest[i] = &v
		}
		if err := rows.Scan(dest...); err != nil {
			return "error: " + apperrors.Clean(err.Error())
		}
		if count < 50 {
			parts := make([]string, len(dest))
			for i, d := range dest {
				parts[i] = toPreviewString(*(d.(*any)))
			}
			preview = append(preview, strings.Join(parts, ", "))
		}
		count++
	}

	summary := fmt.Sprintf("%d row(s)", count)
	if count < 50 && len(preview) > 0 {
		summary += "\n" + strings.Join(preview, "\n")
	}
	return summary
}

func toPreviewString(v any) string {
	if v == nil {
		return "NULL"
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func singleResultRow(text string) *StreamResult {
	schema := arrowconv.PlaceholderResultSchema()
	rec := arrowconv.RecordFromRows(schema, [][]any{{text}})
	out := make(chan arrowconv.Chunk, 1)
	out <- arrowconv.Chunk{Record: rec}
	close(out)
	return &StreamResult{Schema: schema, Records: out}
}
