// Package vecfile reads and writes word vectors in the FastText ".vec" text format:
//
//	<count> <dim>
//	<token> <v_1> <v_2> ... <v_dim>
//	...
//
// The first line is a header that readers always skip without validating it. Every other line holds one token,
// followed by dim whitespace separated float32 values. Tokens can't contain whitespace.
//
// Files may be plain (memory-mapped while parsing), gzip (".gz") or zstd (".zst") compressed.
package vecfile

import (
	"github.com/pkg/errors"
)

// Table holds tokens and their vectors in file order.
type Table struct {
	// Tokens in file order.
	Tokens []string

	// Dim is the number of values per vector.
	Dim int

	// Data holds the vectors concatenated: vector i is Data[i*Dim:(i+1)*Dim].
	Data []float32
}

// Len returns the number of tokens in the table.
func (t *Table) Len() int {
	return len(t.Tokens)
}

// Row returns the vector of the i-th token. It shares storage with the table.
func (t *Table) Row(i int) []float32 {
	return t.Data[i*t.Dim : (i+1)*t.Dim]
}

// Validate checks that the Data matches Tokens and Dim.
func (t *Table) Validate() error {
	if t.Dim < 0 {
		return errors.Errorf("invalid dimension %d", t.Dim)
	}
	if len(t.Data) != len(t.Tokens)*t.Dim {
		return errors.Errorf("table has %d values, expected %d tokens x %d dims = %d",
			len(t.Data), len(t.Tokens), t.Dim, len(t.Tokens)*t.Dim)
	}
	return nil
}
