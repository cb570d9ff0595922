// Package engine adapts the embedded, in-process analytical engine that
// spec.md §1 explicitly treats as an external collaborator ("assume it
// accepts SQL, returns a streaming reader, and supports registering a
// named Arrow table"). The concrete adapter here is backed by
// modernc.org/sqlite (pure Go, no cgo), the same driver the teacher uses
// both for its SQL-backed storage.Store and for sql.send's "sqlite" target
// (pkg/storage/sql/sql.go, pkg/builtins/sqlsend.go).
//
// Each session owns one private in-memory sqlite database, addressed via
// a shared-cache `file:session_<id>_<n>?mode=memory&cache=shared` DSN named
// after the session id and a per-Engine counter, so
// that table registration performed by one request is visible to a later
// request in the same session, while remaining fully invisible to other
// sessions (spec.md §3 invariant: disjoint per-session table namespace).
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Column is a driver-agnostic column descriptor used both for schema
// inference and for registering a table from externally-sourced rows.
type Column struct {
	Name     string // always lowercased before use, per spec.md §3/§9
	DBType   string // SQL type name as reported by the source driver
	Nullable bool
}

// Engine is the top-level factory for per-session analytical contexts.
type Engine struct {
	mu      sync.Mutex
	counter uint64
}

// New constructs an Engine. There is no global shared state beyond an
// internal counter used to guarantee unique shared-cache DSNs.
func New() *Engine { return &Engine{} }

// NewSessionContext opens a fresh, empty analytical context for sessionID.
func (e *Engine) NewSessionContext(sessionID string) (*SessionContext, error) {
	e.mu.Lock()
	e.counter++
	n := e.counter
	e.mu.Unlock()

	dsn := fmt.Sprintf("file:session_%s_%d?mode=memory&cache=shared", sanitize(sessionID), n)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening session analytical context: %w", err)
	}
	// A shared-cache in-memory sqlite db is destroyed once its last
	// connection closes; pin exactly one open connection for the lifetime
	// of the session so registered tables persist across requests.
	db.SetMaxOpenConns(1)

	return &SessionContext{sessionID: sessionID, db: db, tables: map[string]tableKind{}}, nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

type tableKind int

const (
	kindTable tableKind = iota
	kindView
)

// SessionContext is the per-session private analytical namespace (spec.md
// §3 "Registered Table", §4.5 "analytical context"). It satisfies
// internal/session.AnalyticalContext.
type SessionContext struct {
	sessionID string
	db        *sql.DB

	mu     sync.Mutex
	tables map[string]tableKind

	tmpMu     sync.Mutex
	tempFiles []string // temporary Parquet file paths owned by this session (spec.md §3/§5)
}

// Close releases the underlying connection and any temporary Parquet
// files created by `reader` blocks for this session (spec.md §3 lifecycle,
// §9 "track Parquet paths per session; delete on session eviction").
func (s *SessionContext) Close() error {
	s.cleanupTempFiles()
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for callers (internal/reader,
// internal/pyblock, internal/pipeline, internal/action) that need direct
// access, e.g. to run DDL/DML or open a transaction.
func (s *SessionContext) DB() *sql.DB { return s.db }

// TrackTempFile records a temporary Parquet file path owned by this
// session so it can be cleaned up on Close.
func (s *SessionContext) TrackTempFile(path string) {
	s.tmpMu.Lock()
	defer s.tmpMu.Unlock()
	s.tempFiles = append(s.tempFiles, path)
}

func (s *SessionContext) cleanupTempFiles() {
	s.tmpMu.Lock()
	files := s.tempFiles
	s.tempFiles = nil
	s.tmpMu.Unlock()
	for _, f := range files {
		_ = os.Remove(f)
	}
}

// ExecContext runs a non-query statement (CREATE/INSERT/UPDATE/DELETE/DROP).
func (s *SessionContext) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query and returns the raw *sql.Rows; internal/arrowconv
// converts these into Arrow record batches.
func (s *SessionContext) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// ProbeSchema asks the engine for the shape of a query without materializing
// rows, via `<sql> LIMIT 0` (spec.md §4.6 step 7).
func (s *SessionContext) ProbeSchema(ctx context.Context, query string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM ("+query+") AS probe_ LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return DescribeRows(rows)
}

// DescribeRows derives column descriptors from an already-executing
// *sql.Rows, for callers (internal/arrowconv) that build the Arrow schema
// directly from a live query instead of a separate LIMIT 0 probe.
func DescribeRows(rows *sql.Rows) ([]Column, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(names))
	for i, n := range names {
		nullable, _ := types[i].Nullable()
		cols[i] = Column{Name: strings.ToLower(n), DBType: types[i].DatabaseTypeName(), Nullable: nullable}
	}
	return cols, nil
}

// DropTableOrView drops an existing table/view of the given name before a
// `reader`/`python` block re-registers it (spec.md §3 invariant: "table
// names within a session are unique; registration of an existing name
// first drops the previous binding, table or view"). The drop statement is
// chosen from sqlite_master's actual physical kind rather than our own
// MarkTable/MarkView bookkeeping: RegisterParquetView records a binding as
// a view even though it is physically backed by a real table (no native
// Parquet virtual-table support), and trusting the recorded kind there
// would issue a no-op DROP VIEW against a real table, leaving the
// subsequent CREATE TABLE to collide with it.
func (s *SessionContext) DropTableOrView(ctx context.Context, name string) error {
	name = strings.ToLower(name)
	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()

	kind, err := s.physicalKind(ctx, name)
	if err != nil {
		return err
	}
	switch kind {
	case "view":
		_, err := s.db.ExecContext(ctx, "DROP VIEW IF EXISTS "+quoteIdent(name))
		return err
	case "table":
		_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name))
		return err
	default:
		return nil
	}
}

// physicalKind reports sqlite_master's actual object type for name ("table",
// "view", or "" if no such object exists).
func (s *SessionContext) physicalKind(ctx context.Context, name string) (string, error) {
	var typ string
	err := s.db.QueryRowContext(ctx, "SELECT type FROM sqlite_master WHERE name = ?", name).Scan(&typ)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return typ, nil
}

// MarkTable/MarkView record bookkeeping after a successful CREATE; it feeds
// TableNames and TableKind. DropTableOrView does not consult it.
func (s *SessionContext) MarkTable(name string) {
	s.mu.Lock()
	s.tables[strings.ToLower(name)] = kindTable
	s.mu.Unlock()
}

func (s *SessionContext) MarkView(name string) {
	s.mu.Lock()
	s.tables[strings.ToLower(name)] = kindView
	s.mu.Unlock()
}

// TableKind reports whether name is currently a table, a view, or unknown.
func (s *SessionContext) TableKind(name string) (isView bool, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.tables[strings.ToLower(name)]
	return k == kindView, ok
}

// TableNames returns all currently registered table/view names, used by
// internal/action's refresh_all enrichment (SPEC_FULL.md §6.5).
func (s *SessionContext) TableNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	return names
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
