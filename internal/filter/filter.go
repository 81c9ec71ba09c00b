// Package filter loads the identifiers that select which directory entries
// are exported.
//
// The input is a semicolon-delimited file whose first row is a header. The
// column named "login" holds one identifier per following row.
package filter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// Delimiter separates fields in the filter file.
	Delimiter = ';'

	// LoginColumn is the header of the identifier column (case-sensitive).
	LoginColumn = "login"
)

const utf8BOM = "\uFEFF"

var (
	// ErrMalformed is wrapped by every error describing a bad filter file.
	ErrMalformed = errors.New("malformed filter file")

	// ErrMissingHeader means the file has no header row at all.
	ErrMissingHeader = fmt.Errorf("%w: no header row", ErrMalformed)

	// ErrMissingColumn means the header row has no login column.
	ErrMissingColumn = fmt.Errorf("%w: header has no %q column", ErrMalformed, LoginColumn)

	// ErrDuplicateColumn means the header row names the login column more than once.
	ErrDuplicateColumn = fmt.Errorf("%w: header has more than one %q column", ErrMalformed, LoginColumn)

	// ErrShortRow means a data row ends before the login column.
	ErrShortRow = fmt.Errorf("%w: row shorter than %q column", ErrMalformed, LoginColumn)
)

// Load reads the filter file at path and returns its identifiers in row order.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filter file: %w", err)
	}
	defer f.Close()

	ids, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return ids, nil
}

// Read parses a filter file from r. The first row is always the header. A
// header with no data rows yields an empty, non-nil slice. A blank line after
// the header is a row without a login field and fails with a *RowError.
func Read(r io.Reader) ([]string, error) {
	counter := &lineCounter{r: r}
	reader := csv.NewReader(counter)
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", asMalformed(err))
	}

	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	index, err := columnIndex(header, LoginColumn)
	if err != nil {
		return nil, err
	}

	ids := []string{}
	prevEnd := recordEnd(reader, header)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", asMalformed(err))
		}

		// encoding/csv drops empty lines; a gap in line numbers is one.
		line, _ := reader.FieldPos(0)
		if line > prevEnd+1 {
			return nil, &RowError{Line: prevEnd + 1, Index: index}
		}

		if index >= len(row) {
			return nil, &RowError{Line: line, Index: index, Fields: len(row)}
		}

		ids = append(ids, row[index])
		prevEnd = recordEnd(reader, row)
	}

	if counter.lines() > prevEnd {
		return nil, &RowError{Line: prevEnd + 1, Index: index}
	}

	return ids, nil
}

// recordEnd returns the line on which the record just read ends. Quoted fields
// may span lines; their newlines are kept in the field value.
func recordEnd(reader *csv.Reader, record []string) int {
	last := len(record) - 1
	line, _ := reader.FieldPos(last)
	return line + strings.Count(record[last], "\n")
}

// lineCounter counts the lines passing through it.
type lineCounter struct {
	r        io.Reader
	newlines int
	last     byte
	read     bool
}

func (c *lineCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.newlines += bytes.Count(p[:n], []byte{'\n'})
		c.last = p[n-1]
		c.read = true
	}
	return n, err
}

// lines returns the number of lines read, counting an unterminated last line.
func (c *lineCounter) lines() int {
	if c.read && c.last != '\n' {
		return c.newlines + 1
	}
	return c.newlines
}

// asMalformed marks CSV syntax errors as ErrMalformed. Other errors come from
// the underlying reader and are returned unchanged.
func asMalformed(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return err
}

// columnIndex locates name in header, which must contain it exactly once.
func columnIndex(header []string, name string) (int, error) {
	index := -1
	for i, field := range header {
		if field != name {
			continue
		}
		if index >= 0 {
			return -1, ErrDuplicateColumn
		}
		index = i
	}

	if index < 0 {
		return -1, ErrMissingColumn
	}

	return index, nil
}

// RowError describes a data row that is too short to hold an identifier.
type RowError struct {
	Line   int // 1-based line number in the file
	Index  int // 0-based index of the login column
	Fields int // number of fields in the row
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s: %d fields, %q is field %d", e.Line, ErrShortRow.Error(), e.Fields, LoginColumn, e.Index+1)
}

func (e *RowError) Unwrap() error {
	return ErrShortRow
}
