// Package connreg implements the Connection Registry of spec.md §4.4: a
// small SQLite-backed metadata store (`_meta_connections`) plus the
// in-memory lookup maps `reader` blocks consult.
package connreg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/sqlgateway/flightgw/internal/apperrors"
)

// Connection is the spec.md §3 Connection record.
type Connection struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	ConnectionString string `json:"connection_string"`
	CreatedAt        string `json:"created_at"`
}

const systemPrefix = "sys_"
const createTableDDL = `CREATE TABLE IF NOT EXISTS _meta_connections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	type TEXT NOT NULL,
	connection_string TEXT NOT NULL,
	created_at TEXT DEFAULT CURRENT_TIMESTAMP
)`

// Registry owns the metadata SQLite file and the refreshed in-memory maps.
type Registry struct {
	db *sql.DB

	mu            sync.RWMutex
	byID          map[string]*Connection // keyed by stringified id
	byNameLowered map[string]*Connection // keyed by lowercased name
}

// Open opens (creating if necessary) the metadata database at path.
func Open(ctx context.Context, path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata db: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating _meta_connections: %w", err)
	}
	r := &Registry{db: db, byID: map[string]*Connection{}, byNameLowered: map[string]*Connection{}}
	if err := r.Refresh(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// SeedSystemConnections upserts the caller-supplied seed map with type
// "system" (spec.md §4.4 "At startup the server merges a caller-supplied
// map of seed connections (with INSERT OR IGNORE, type system)").
func (r *Registry) SeedSystemConnections(ctx context.Context, seeds map[string]string) error {
	for name, connStr := range seeds {
		q, args, err := sq.Insert("_meta_connections").
			Columns("name", "type", "connection_string").
			Values(name, "system", connStr).
			ToSql()
		if err != nil {
			return err
		}
		// Emulate INSERT OR IGNORE via sqlite's extension syntax.
		q = strings.Replace(q, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("seeding connection %q: %w", name, err)
		}
	}
	return r.Refresh(ctx)
}

// Refresh reloads the in-memory byID/byNameLowered maps from the table
// (spec.md §4.4).
func (r *Registry) Refresh(ctx context.Context) error {
	q, args, err := sq.Select("id", "name", "type", "connection_string", "created_at").
		From("_meta_connections").ToSql()
	if err != nil {
		return err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := map[string]*Connection{}
	byName := map[string]*Connection{}
	for rows.Next() {
		var id int64
		c := &Connection{}
		if err := rows.Scan(&id, &c.Name, &c.Type, &c.ConnectionString, &c.CreatedAt); err != nil {
			return err
		}
		c.ID = fmt.Sprintf("%d", id)
		byID[c.ID] = c
		byName[strings.ToLower(c.Name)] = c
	}
	if err := rows.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.byID, r.byNameLowered = byID, byName
	r.mu.Unlock()
	return nil
}

// Resolve implements reqctx.ConnectionLookup: case-insensitive lookup by
// name (spec.md §4.3.1 step 1).
func (r *Registry) Resolve(_ context.Context, ref string) (dsn string, scheme string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, found := r.byNameLowered[strings.ToLower(ref)]; found {
		return c.ConnectionString, c.Type, true
	}
	if c, found := r.byID[ref]; found {
		return c.ConnectionString, c.Type, true
	}
	return "", "", false
}

// List returns all registry rows, sorted ascending by numeric id
// (SPEC_FULL.md §6.1, matching the original implementation's
// deterministic list_connections ordering).
func (r *Registry) List() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sortByNumericID(out)
	return out
}

// Save inserts a new connection; a unique-name violation surfaces as
// apperrors.DuplicateConnection (spec.md §4.8 save_connection).
func (r *Registry) Save(ctx context.Context, name, connType, connStr string) (*Connection, error) {
	q, args, err := sq.Insert("_meta_connections").
		Columns("name", "type", "connection_string").
		Values(name, connType, connStr).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Wrap(apperrors.DuplicateConnection, err, "connection name %q already exists", name)
		}
		return nil, err
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byNameLowered[strings.ToLower(name)], nil
}

// Delete removes a connection by id, rejecting `sys_`-prefixed ids (spec.md
// §3 invariant, §4.8 delete_connection, §7 ProtectedConnection).
func (r *Registry) Delete(ctx context.Context, id string) error {
	if strings.HasPrefix(id, systemPrefix) {
		return apperrors.New(apperrors.ProtectedConnection, "connection %q is protected from deletion", id)
	}
	q, args, err := sq.Delete("_meta_connections").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	return r.Refresh(ctx)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sortByNumericID(conns []*Connection) {
	// Small N (connection counts are human-scale); simple insertion sort
	// keeps this dependency-free and avoids importing sort for one call site
	// that also needs a custom numeric (not lexicographic) comparison.
	for i := 1; i < len(conns); i++ {
		for j := i; j > 0 && idLess(conns[j], conns[j-1]); j-- {
			conns[j], conns[j-1] = conns[j-1], conns[j]
		}
	}
}

func idLess(a, b *Connection) bool {
	var ai, bi int64
	fmt.Sscanf(a.ID, "%d", &ai)
	fmt.Sscanf(b.ID, "%d", &bi)
	return ai < bi
}
