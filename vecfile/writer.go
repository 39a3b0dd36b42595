package vecfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/gomlx/go-fasttext/internal/files"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LegacyHeaderWidth is the width of the fixed header line written with WriteOptions.PaddedHeader.
const LegacyHeaderWidth = 30

// WriteOptions configures Write and WriteFile.
type WriteOptions struct {
	// PaddedHeader pads the header line with spaces to LegacyHeaderWidth characters, reproducing files written by
	// tools that reserve a fixed-width placeholder for the header and overwrite it once the body is written.
	// Writing fails if the header doesn't fit.
	PaddedHeader bool
}

// Header returns the header line (without line terminator) for a table with count tokens of dimension dim.
func Header(count, dim int) string {
	return fmt.Sprintf("%d %d", count, dim)
}

// Write table to w in the text vector format: the header followed by one line per token.
// Values are written with the shortest representation that parses back to the same float32.
func Write(w io.Writer, table *Table, opts WriteOptions) error {
	if err := table.Validate(); err != nil {
		return err
	}
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	header := Header(table.Len(), table.Dim)
	if opts.PaddedHeader {
		if len(header) > LegacyHeaderWidth {
			return errors.Errorf("header %q doesn't fit the %d characters fixed-width header", header, LegacyHeaderWidth)
		}
		header += strings.Repeat(" ", LegacyHeaderWidth-len(header))
	}
	if _, err := bw.WriteString(header + "\n"); err != nil {
		return errors.Wrap(err, "failed to write header")
	}

	buf := make([]byte, 0, 4096)
	for i, token := range table.Tokens {
		if token == "" || strings.IndexFunc(token, unicode.IsSpace) >= 0 {
			return errors.Errorf("token #%d %q can't be written: tokens must be non-empty and have no whitespace", i, token)
		}
		buf = append(buf[:0], token...)
		for _, v := range table.Row(i) {
			buf = append(buf, ' ')
			buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrapf(err, "failed to write vector for token %q", token)
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush vectors")
	}
	return nil
}

// WriteFile writes table to path atomically: the file is either fully written or left untouched.
func WriteFile(path string, table *Table, opts WriteOptions) error {
	err := files.WriteAtomic(path, func(w io.Writer) error {
		return Write(w, table, opts)
	})
	if err != nil {
		return errors.WithMessagef(err, "while writing vectors to %q", path)
	}
	klog.V(1).Infof("wrote %d vectors of dimension %d to %q", table.Len(), table.Dim, path)
	return nil
}
