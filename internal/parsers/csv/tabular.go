// Package csv imports delimited tables and spreadsheets whose columns are
// described by a Schema. Rows are validated against the schema and handed
// one at a time to a RowHandler.
package csv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// Column is one position of a schema. Ignored columns are matched in the
// header but their cells are not exposed to handlers; an ignored column
// with an empty name accepts any header text.
type Column struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Ignored bool   `yaml:"ignored" mapstructure:"ignored"`
}

// Schema is the ordered column layout of a table.
type Schema struct {
	Columns []Column
	// Sentinel is a literal trailing row tolerated as non-data. It may only
	// appear as the last non-blank row.
	Sentinel []string
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Row is one data row, addressed by column name.
type Row struct {
	Line   int
	values map[string]string
}

// NewRow builds a row from name/value pairs.
func NewRow(line int, values map[string]string) Row {
	return Row{Line: line, values: values}
}

// Get returns the trimmed cell of the named column, or "" when the column
// is ignored or unknown.
func (r Row) Get(name string) string {
	return strings.TrimSpace(r.values[name])
}

// Money parses the named cell as an amount in minor units of currency.
func (r Row) Money(name string, currency value.Currency) (int64, error) {
	n, err := value.ParseMoneyIn(r.Get(name), currency)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", name, importerr.WithLine(err, r.Line))
	}
	return n, nil
}

// Date parses the named cell with layout.
func (r Row) Date(name, layout string) (time.Time, error) {
	t, err := value.ParseDate(r.Get(name), layout)
	if err != nil {
		return time.Time{}, fmt.Errorf("column %q: %w", name, importerr.WithLine(err, r.Line))
	}
	return t, nil
}

// RowHandler consumes the rows of one table. Finish is called once after the
// last row when the whole table was read without error.
type RowHandler interface {
	HandleRow(ctx context.Context, row Row) error
	Finish(ctx context.Context) error
}

// Source yields the raw cells of a table, header first. Next returns io.EOF
// after the last row.
type Source interface {
	Next() (cells []string, line int, err error)
}

// Import validates the header of src against schema and feeds every data row
// to h. A header mismatch is reported before any row reaches the handler.
// It returns the number of data rows handled.
func Import(ctx context.Context, src Source, schema Schema, h RowHandler) (int, error) {
	header, line, err := src.Next()
	if errors.Is(err, io.EOF) {
		return 0, importerr.Structural(0, "table is empty, expected header %s", quoteAll(schema.Names()))
	}
	if err != nil {
		return 0, err
	}
	if err := checkHeader(header, schema, line); err != nil {
		return 0, err
	}

	var (
		rows         int
		sentinelLine int
	)
	for {
		cells, line, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, err
		}
		if blank(cells) {
			continue
		}
		if sentinelLine > 0 {
			return rows, importerr.Structural(line, "data after the end-of-file marker on line %d", sentinelLine)
		}
		if isSentinel(cells, schema.Sentinel) {
			sentinelLine = line
			continue
		}
		if len(cells) != len(schema.Columns) {
			return rows, importerr.Structural(line, "row has %d columns, expected %d", len(cells), len(schema.Columns))
		}
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		values := make(map[string]string, len(cells))
		for i, c := range schema.Columns {
			if !c.Ignored {
				values[c.Name] = cells[i]
			}
		}
		if err := h.HandleRow(ctx, Row{Line: line, values: values}); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, h.Finish(ctx)
}

func checkHeader(header []string, schema Schema, line int) error {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if len(header) != len(schema.Columns) {
		return importerr.Structural(line, "header has %d columns, expected %d: %s",
			len(header), len(schema.Columns), quoteAll(schema.Names()))
	}
	for i, c := range schema.Columns {
		if c.Ignored && c.Name == "" {
			continue
		}
		if header[i] != c.Name {
			return importerr.Structural(line, "header column %d is %q, expected %q", i+1, header[i], c.Name)
		}
	}
	return nil
}

func isSentinel(cells, sentinel []string) bool {
	if len(sentinel) == 0 {
		return false
	}
	cells = trimTrailingBlank(cells)
	if len(cells) != len(sentinel) {
		return false
	}
	for i := range cells {
		if strings.TrimSpace(cells[i]) != sentinel[i] {
			return false
		}
	}
	return true
}

func trimTrailingBlank(cells []string) []string {
	n := len(cells)
	for n > 0 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	return cells[:n]
}

func blank(cells []string) bool {
	return len(trimTrailingBlank(cells)) == 0
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(q, ",")
}
