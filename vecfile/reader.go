package vecfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"unicode"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrParse is matched (with errors.Is) by every *ParseError.
var ErrParse = errors.New("malformed vector file")

// ParseError reports a malformed line. A single malformed line aborts the whole parse.
type ParseError struct {
	// Line number in the file, 1-based and counting the header line.
	Line int

	// Token of the line, if it could be extracted.
	Token string

	// Err describes the problem.
	Err error
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("vecfile: line %d (token %q): %v", e.Line, e.Token, e.Err)
	}
	return fmt.Sprintf("vecfile: line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) true for any *ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ParseOptions configures Parse and ParseFile.
type ParseOptions struct {
	// Dim is the expected number of values per token. If 0, it's taken from the first data line.
	Dim int

	// Workers parsing lines in parallel. Defaults to runtime.GOMAXPROCS(0).
	Workers int

	// BatchSize is the number of lines handed to a worker at a time. Defaults to 1024.
	BatchSize int
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1024
	}
	return o
}

// ParseFile opens path and parses it with Parse. Compression is selected by the file extension:
// ".gz" for gzip, ".zst" for zstd, anything else is read as plain text through a memory map.
func ParseFile(path string, opts ParseOptions) (*Table, error) {
	r, closeFn, err := openVectorFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeFn(); err != nil {
			klog.Warningf("failed closing %q: %v", path, err)
		}
	}()
	table, err := Parse(r, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing %q", path)
	}
	klog.V(1).Infof("parsed %d vectors of dimension %d from %q", table.Len(), table.Dim, path)
	return table, nil
}

func openVectorFile(path string) (io.Reader, func() error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".zst":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open %q", path)
		}
		if strings.EqualFold(filepath.Ext(path), ".gz") {
			gz, err := gzip.NewReader(bufio.NewReader(f))
			if err != nil {
				_ = f.Close()
				return nil, nil, errors.Wrapf(err, "failed to read gzip header of %q", path)
			}
			return gz, func() error {
				_ = gz.Close()
				return f.Close()
			}, nil
		}
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, errors.Wrapf(err, "failed to create zstd reader for %q", path)
		}
		return zr, func() error {
			zr.Close()
			return f.Close()
		}, nil

	default:
		m, err := mmap.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to mmap %q", path)
		}
		return io.NewSectionReader(m, 0, int64(m.Len())), m.Close, nil
	}
}

type lineBatch struct {
	firstLine int // File line number of lines[0].
	lines     []string

	tokens []string
	data   []float32
	err    *ParseError
}

// Parse reads a vector file from r. The first line is skipped, whatever its content.
//
// Lines are parsed in parallel batches, but tokens are returned in file order. On a malformed line it returns a
// *ParseError for the first malformed line in the file.
func Parse(r io.Reader, opts ParseOptions) (*Table, error) {
	opts = opts.withDefaults()
	br := bufio.NewReaderSize(r, 1<<20)

	// Skip header.
	if _, err := readLine(br); err != nil {
		if err == io.EOF {
			return &Table{Dim: opts.Dim}, nil
		}
		return nil, errors.Wrap(err, "failed to read header line")
	}

	dim := opts.Dim
	var batches []*lineBatch
	g, gCtx := errgroup.WithContext(context.Background())
	g.SetLimit(opts.Workers)
	lineNum := 1
	current := &lineBatch{firstLine: lineNum + 1}
	dispatch := func() {
		batch := current
		batches = append(batches, batch)
		g.Go(func() error {
			batch.parse(dim)
			if batch.err != nil {
				return batch.err
			}
			return nil
		})
		current = &lineBatch{firstLine: lineNum + 1}
	}

	var readErr error
	for gCtx.Err() == nil {
		line, err := readLine(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = errors.Wrapf(err, "failed to read line %d", lineNum+1)
			break
		}
		lineNum++
		if dim == 0 {
			dim = max(len(strings.FieldsFunc(line, unicode.IsSpace))-1, 0)
			if dim == 0 {
				readErr = &ParseError{Line: lineNum, Err: errors.New("can't infer dimension: no vector values in first line")}
				break
			}
		}
		current.lines = append(current.lines, line)
		if len(current.lines) >= opts.BatchSize {
			dispatch()
		}
	}
	if len(current.lines) > 0 && readErr == nil && gCtx.Err() == nil {
		dispatch()
	}
	_ = g.Wait()

	// Batches were dispatched in order and all of them ran to completion, so the first error in
	// batch order is the first malformed line of the file.
	table := &Table{Dim: dim}
	var total int
	for _, batch := range batches {
		if batch.err != nil {
			return nil, batch.err
		}
		total += len(batch.tokens)
	}
	if readErr != nil {
		return nil, readErr
	}
	table.Tokens = make([]string, 0, total)
	table.Data = make([]float32, 0, total*dim)
	for _, batch := range batches {
		table.Tokens = append(table.Tokens, batch.tokens...)
		table.Data = append(table.Data, batch.data...)
	}
	return table, nil
}

// readLine returns the next line without its line terminator. It returns io.EOF only if there is no more data.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *lineBatch) parse(dim int) {
	b.tokens = make([]string, 0, len(b.lines))
	b.data = make([]float32, 0, len(b.lines)*dim)
	for i, line := range b.lines {
		token, values, err := parseLine(line, dim, b.data)
		if err != nil {
			b.err = &ParseError{Line: b.firstLine + i, Token: token, Err: err}
			return
		}
		b.tokens = append(b.tokens, token)
		b.data = values
	}
	b.lines = nil
}

// parseLine splits line on its first whitespace run into the token and the vector, and appends the dim parsed
// values to dst.
func parseLine(line string, dim int, dst []float32) (token string, values []float32, err error) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	if line == "" {
		return "", dst, errors.New("empty line")
	}
	sep := strings.IndexFunc(line, unicode.IsSpace)
	if sep < 0 {
		return line, dst, errors.New("missing vector values")
	}
	token = line[:sep]
	fields := strings.FieldsFunc(line[sep:], unicode.IsSpace)
	if len(fields) != dim {
		return token, dst, errors.Errorf("expected %d values, got %d", dim, len(fields))
	}
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return token, dst, errors.Errorf("value #%d %q is not a valid float32", i, field)
		}
		dst = append(dst, float32(v))
	}
	return token, dst, nil
}
