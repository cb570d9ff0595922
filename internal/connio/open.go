package connio

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"  // database/sql-compatible Postgres driver
	_ "github.com/microsoft/go-mssqldb" // database/sql-compatible MSSQL driver
	_ "modernc.org/sqlite"              // database/sql-compatible SQLite driver

	"github.com/sqlgateway/flightgw/internal/apperrors"
)

// defaultMSSQLConnectTimeout matches spec.md §5's "default 10s connect
// timeout for MSSQL".
const defaultMSSQLConnectTimeout = 10 * time.Second

// Open establishes a database/sql connection for an external source
// reference, dispatching by scheme (spec.md §4.3.1 step 2 / §4.7).
func Open(ctx context.Context, dsn string) (*sql.DB, Scheme, error) {
	driverName, dataSourceName, scheme, err := driverDSN(dsn)
	if err != nil {
		return nil, scheme, apperrors.Wrap(apperrors.InvalidConnection, err, "unsupported connection")
	}

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, scheme, apperrors.Wrap(apperrors.InvalidConnection, err, "opening connection")
	}

	if scheme == SchemeMSSQL {
		connectCtx, cancel := context.WithTimeout(ctx, defaultMSSQLConnectTimeout)
		defer cancel()
		if err := db.PingContext(connectCtx); err != nil {
			_ = db.Close()
			return nil, scheme, apperrors.Wrap(apperrors.ReaderSourceError, err, "connecting to mssql source")
		}
	}

	return db, scheme, nil
}
