// Package action implements the Flight do_action side channel of spec.md
// §4.8: schema introspection, table lifecycle operations on a session's
// analytical context, and connection-registry CRUD.
package action

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sqlgateway/flightgw/internal/apperrors"
	"github.com/sqlgateway/flightgw/internal/connreg"
	"github.com/sqlgateway/flightgw/internal/engine"
	"github.com/sqlgateway/flightgw/internal/session"
)

// Handler executes do_action requests (spec.md §4.8).
type Handler struct {
	Sessions    *session.Manager
	Connections *connreg.Registry
}

// Column is the schema-introspection column shape of the get_schema
// response body.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primaryKey"`
	FK         any    `json:"fk"`
}

type tableSchema struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Columns   []Column `json:"columns"`
	RowCount  *int64   `json:"rowCount,omitempty"`
}

type schemaResponse struct {
	Name   string        `json:"name"`
	Tables []tableSchema `json:"tables"`
}

// GetSchema implements get_schema: list tables/columns in the session's
// analytical context, with a best-effort row-count enrichment
// (SPEC_FULL.md §6.6).
func (h *Handler) GetSchema(ctx context.Context, sessionID string) ([]byte, error) {
	sess, err := h.Sessions.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	analytical := sess.Context.(*engine.SessionContext)

	resp := schemaResponse{Name: sessionID}
	for _, name := range analytical.TableNames() {
		cols, err := describeTable(ctx, analytical, name)
		if err != nil {
			continue
		}
		isView, _ := analytical.TableKind(name)
		kind := "table"
		if isView {
			kind = "view"
		}
		ts := tableSchema{Name: name, Type: kind, Columns: cols}
		if count, ok := rowCountWithTimeout(ctx, analytical, name); ok {
			ts.RowCount = &count
		}
		resp.Tables = append(resp.Tables, ts)
	}
	return json.Marshal(resp)
}

func describeTable(ctx context.Context, analytical *engine.SessionContext, name string) ([]Column, error) {
	rows, err := analytical.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT 0`, quoteIdent(name)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	descs, err := engine.DescribeRows(rows)
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(descs))
	for i, d := range descs {
		cols[i] = Column{Name: d.Name, Type: d.DBType, PrimaryKey: false, FK: nil}
	}
	return cols, nil
}

const rowCountTimeout = 2 * time.Second

func rowCountWithTimeout(ctx context.Context, analytical *engine.SessionContext, name string) (int64, bool) {
	cctx, cancel := context.WithTimeout(ctx, rowCountTimeout)
	defer cancel()
	rows, err := analytical.QueryContext(cctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(name)))
	if err != nil {
		return 0, false
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, false
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, false
	}
	return n, true
}

// RefreshTableResult is the refresh_table response body.
type RefreshTableResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RefreshTable probes `SELECT 1 FROM <t> LIMIT 1` (spec.md §4.8).
func (h *Handler) RefreshTable(ctx context.Context, sessionID, tableName string) RefreshTableResult {
	sess, err := h.Sessions.GetOrCreate(sessionID)
	if err != nil {
		return RefreshTableResult{Success: false, Message: err.Error()}
	}
	sess.Lock()
	defer sess.Unlock()
	analytical := sess.Context.(*engine.SessionContext)

	rows, err := analytical.QueryContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, quoteIdent(tableName)))
	if err != nil {
		return RefreshTableResult{Success: false, Message: apperrors.Clean(err.Error())}
	}
	defer rows.Close()
	return RefreshTableResult{Success: true}
}

// RefreshAll iterates the session's registered tables, refreshing each
// (SPEC_FULL.md §6.5's additive enrichment over spec.md's "no-op for now").
// A failed per-table probe does not change the result, which is always
// {success: true} once the session is resolved.
func (h *Handler) RefreshAll(ctx context.Context, sessionID string) RefreshTableResult {
	sess, err := h.Sessions.GetOrCreate(sessionID)
	if err != nil {
		return RefreshTableResult{Success: false, Message: err.Error()}
	}
	analytical := sess.Context.(*engine.SessionContext)
	for _, name := range analytical.TableNames() {
		_ = h.RefreshTable(ctx, sessionID, name)
	}
	return RefreshTableResult{Success: true}
}

// DropTable implements drop_table; the binding is dropped whether it is a
// view or a table, whatever table_type says (spec.md §4.8).
func (h *Handler) DropTable(ctx context.Context, sessionID, tableName, tableType string) error {
	sess, err := h.Sessions.GetOrCreate(sessionID)
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	analytical := sess.Context.(*engine.SessionContext)

	// table_type is accepted for wire compatibility but DropTableOrView
	// looks up the object's actual kind in sqlite_master and issues the
	// matching DROP VIEW or DROP TABLE itself.
	_ = tableType
	return analytical.DropTableOrView(ctx, tableName)
}

// ListConnections implements list_connections.
func (h *Handler) ListConnections() []byte {
	list := h.Connections.List()
	out, _ := json.Marshal(list)
	return out
}

// SaveConnectionRequest is the save_connection request body.
type SaveConnectionRequest struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	ConnectionString string `json:"connection_string"`
}

// SaveConnection implements save_connection.
func (h *Handler) SaveConnection(ctx context.Context, req SaveConnectionRequest) (*connreg.Connection, error) {
	return h.Connections.Save(ctx, req.Name, req.Type, req.ConnectionString)
}

// DeleteConnection implements delete_connection.
func (h *Handler) DeleteConnection(ctx context.Context, id string) error {
	return h.Connections.Delete(ctx, id)
}

// CreateSession implements create_session: generate
// `Session_HHMMSS_<3 uppercase letters>`, rejecting collisions, and
// eagerly instantiates the analytical context (spec.md §4.8).
func (h *Handler) CreateSession() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		id := generateSessionID()
		if h.Sessions.Exists(id) {
			continue
		}
		if _, err := h.Sessions.GetOrCreate(id); err != nil {
			return "", err
		}
		return id, nil
	}
	return "", apperrors.New(apperrors.InvalidCommand, "could not allocate a unique session id")
}

func generateSessionID() string {
	now := time.Now()
	return fmt.Sprintf("Session_%s_%s", now.Format("150405"), randomLetters(3))
}

func randomLetters(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
