package vecfile

import (
	"io"

	"github.com/gomlx/go-fasttext/internal/files"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// ParquetRow is the schema of parquet exports: one row per token.
type ParquetRow struct {
	Token  string    `parquet:"token"`
	Vector []float32 `parquet:"vector"`
}

// WriteParquet exports table to a parquet file at path, one ParquetRow per token in table order.
func WriteParquet(path string, table *Table) error {
	if err := table.Validate(); err != nil {
		return err
	}
	rows := make([]ParquetRow, table.Len())
	for i, token := range table.Tokens {
		rows[i] = ParquetRow{Token: token, Vector: table.Row(i)}
	}
	err := files.WriteAtomic(path, func(w io.Writer) error {
		return parquet.Write(w, rows)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write parquet file %q", path)
	}
	return nil
}

// ReadParquet reads a table exported with WriteParquet. All vectors must have the same length.
func ReadParquet(path string) (*Table, error) {
	rows, err := parquet.ReadFile[ParquetRow](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parquet file %q", path)
	}
	table := &Table{Tokens: make([]string, len(rows))}
	if len(rows) > 0 {
		table.Dim = len(rows[0].Vector)
	}
	table.Data = make([]float32, 0, len(rows)*table.Dim)
	for i, row := range rows {
		if len(row.Vector) != table.Dim {
			return nil, errors.Errorf("parquet file %q: row %d (token %q) has %d values, expected %d",
				path, i, row.Token, len(row.Vector), table.Dim)
		}
		table.Tokens[i] = row.Token
		table.Data = append(table.Data, row.Vector...)
	}
	return table, nil
}
