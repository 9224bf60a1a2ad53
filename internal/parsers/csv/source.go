package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
)

// delimited reads rows with encoding/csv.
type delimited struct {
	r *csv.Reader
}

// NewDelimited returns a Source over delimited text. comma defaults to ','.
// charset names the input encoding; empty means UTF-8.
func NewDelimited(r io.Reader, comma rune, charset string) (Source, error) {
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
		}
		r = transform.NewReader(r, enc.NewDecoder())
	}
	cr := csv.NewReader(r)
	if comma != 0 {
		cr.Comma = comma
	}
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return &delimited{r: cr}, nil
}

func (d *delimited) Next() ([]string, int, error) {
	rec, err := d.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, pe.Line, importerr.Format("", "%v", pe.Err).AtLine(pe.Line)
		}
		return nil, 0, err
	}
	line, _ := d.r.FieldPos(0)
	return rec, line, nil
}

// sheet serves rows that were read up front from a spreadsheet. Rows are
// padded to the widest row because spreadsheet readers drop trailing empty
// cells.
type sheet struct {
	rows [][]string
	pos  int
}

func newSheet(rows [][]string) *sheet {
	width := 0
	for _, r := range rows {
		if w := len(trimTrailingBlank(r)); w > width {
			width = w
		}
	}
	padded := make([][]string, len(rows))
	for i, r := range rows {
		r = trimTrailingBlank(r)
		p := make([]string, width)
		copy(p, r)
		padded[i] = p
	}
	return &sheet{rows: padded}
}

func (s *sheet) Next() ([]string, int, error) {
	if s.pos >= len(s.rows) {
		return nil, 0, io.EOF
	}
	s.pos++
	return s.rows[s.pos-1], s.pos, nil
}

// NewXLSX returns a Source over one sheet of an .xlsx workbook. An empty
// sheet name selects the first sheet.
func NewXLSX(r io.Reader, sheetName string) (Source, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheetName == "" {
		names := f.GetSheetList()
		if len(names) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheetName = names[0]
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of sheet %q: %w", sheetName, err)
	}
	return newSheet(rows), nil
}

// NewXLS returns a Source over a legacy .xls workbook. Cells of every sheet
// are read in order, which suits the single-sheet exports banks produce.
func NewXLS(r io.ReadSeeker, charset string) (Source, error) {
	if charset == "" {
		charset = "cp1252"
	}
	wb, err := xls.OpenReader(r, charset)
	if err != nil {
		return nil, fmt.Errorf("error creating workbook: %w", err)
	}
	return newSheet(wb.ReadAllCells(maxXLSRows)), nil
}

const maxXLSRows = 100000

// Open picks a Source by file extension.
func Open(path string, r io.ReadSeeker, comma rune, charset string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return NewXLSX(r, "")
	case ".xls":
		return NewXLS(r, charset)
	}
	return NewDelimited(r, comma, charset)
}
