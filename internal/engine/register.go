package engine

import (
	"context"
	"fmt"
	"strings"
)

// sqlTypeFor maps a coarse logical type (as produced by internal/arrowconv's
// inference, or passed straight through from an external driver's
// DatabaseTypeName) to a sqlite column type affinity.
func sqlTypeFor(logical string) string {
	switch strings.ToUpper(logical) {
	case "BOOL", "BOOLEAN":
		return "BOOLEAN"
	case "INT", "INT64", "INTEGER", "BIGINT", "SMALLINT":
		return "INTEGER"
	case "FLOAT", "FLOAT64", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return "REAL"
	case "DATE", "DATE32":
		return "DATE"
	case "TIMESTAMP", "DATETIME":
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// RegisterRows creates (replacing any existing binding) a table named
// `name` from `columns`/`rows`, batching INSERTs in groups of 10,000 rows
// per spec.md §4.3.1 step 3. Column names are lowercased, per the spec's
// mandated casing (spec.md §3, §9 open question resolved in SPEC_FULL.md
// §8.1). An empty-schema stub is registered when rows is empty and columns
// is also empty (spec.md §4.3.1 step 6).
func (s *SessionContext) RegisterRows(ctx context.Context, name string, columns []Column, rows [][]any) error {
	name = strings.ToLower(name)
	if err := s.DropTableOrView(ctx, name); err != nil {
		return fmt.Errorf("dropping existing binding for %q: %w", name, err)
	}

	if len(columns) == 0 {
		// Empty-schema stub: a single placeholder column so the table
		// exists and can be queried (returns zero rows either way).
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (_empty_ TEXT)`, quoteIdent(name))); err != nil {
			return err
		}
		s.MarkTable(name)
		return nil
	}

	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE ")
	ddl.WriteString(quoteIdent(name))
	ddl.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			ddl.WriteString(", ")
		}
		ddl.WriteString(quoteIdent(strings.ToLower(c.Name)))
		ddl.WriteString(" ")
		ddl.WriteString(sqlTypeFor(c.DBType))
	}
	ddl.WriteString(")")

	if _, err := s.db.ExecContext(ctx, ddl.String()); err != nil {
		return err
	}
	s.MarkTable(name)

	if len(rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(placeholders, ", "))

	const batchSize = 10000
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting row %d into %q: %w", i, name, err)
		}
		if (i+1)%batchSize == 0 {
			if err := tx.Commit(); err != nil {
				return err
			}
			tx, err = s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			stmt.Close()
			stmt, err = tx.PrepareContext(ctx, insertSQL)
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// RegisterParquetView registers `name` as a view materializing the rows
// already staged at parquetPath. The embedded-engine adapter used here
// (modernc.org/sqlite) has no native Parquet virtual-table support, so the
// "view" is realized as an ordinary table loaded once from the rows that
// were written to Parquet; the Parquet file itself remains on disk as the
// downloadable/cacheable artifact spec.md §4.3.1 describes, tracked via
// TrackTempFile for session-scoped cleanup. This is a deliberate adapter
// simplification: the embedded engine's own Parquet-scan planning is out
// of scope per spec.md §1.
func (s *SessionContext) RegisterParquetView(ctx context.Context, name, parquetPath string, columns []Column, rows [][]any) error {
	if err := s.RegisterRows(ctx, name, columns, rows); err != nil {
		return err
	}
	s.MarkView(name)
	s.TrackTempFile(parquetPath)
	return nil
}
