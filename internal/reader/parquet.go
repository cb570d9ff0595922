package reader

import (
	"os"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/sqlgateway/flightgw/internal/arrowconv"
	"github.com/sqlgateway/flightgw/internal/engine"
)

// writeParquet materializes rows to a new Parquet file at path, snappy
// compressed with dictionary encoding and a 1 MiB data page size (spec.md
// §4.3.1 step 4).
func writeParquet(path string, cols []engine.Column, rows [][]any) error {
	schema := arrowconv.SchemaFromColumns(cols)
	rec := arrowconv.RecordFromRows(schema, rows)
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
		parquet.WithDataPageSize(1<<20),
	)
	writer, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return err
	}
	defer writer.Close()

	if err := writer.WriteBuffered(rec); err != nil {
		return err
	}
	return nil
}
