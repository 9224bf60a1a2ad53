// Package qif decodes Quicken Interchange Format files.
//
// A QIF file is a sequence of sections introduced by "!" header lines. Each
// section holds records of one-character-tagged lines terminated by "^".
package qif

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// Options control how field values are interpreted.
type Options struct {
	// DateLayout is the Go layout for dates once normalized to
	// slash-separated form with a four digit year, e.g. "1/2/2006".
	DateLayout string
	// Charset of the input, any WHATWG label.
	Charset string
	// Currency gives the number of minor-unit digits for amounts.
	Currency value.Currency
}

// DefaultOptions match US Quicken exports.
func DefaultOptions() Options {
	return Options{
		DateLayout: "1/2/2006",
		Charset:    "windows-1252",
		Currency:   value.Currency{Code: "USD", Fraction: 2},
	}
}

// Parser parses QIF files
type Parser struct {
	opts Options
}

var _ parser.Parser = (*Parser)(nil)

// NewParser creates a QIF parser. Zero option fields take their defaults.
func NewParser(opts Options) *Parser {
	def := DefaultOptions()
	if opts.DateLayout == "" {
		opts.DateLayout = def.DateLayout
	}
	if opts.Charset == "" {
		opts.Charset = def.Charset
	}
	if opts.Currency.Code == "" {
		opts.Currency = def.Currency
	}
	return &Parser{opts: opts}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "qif"
}

// CanParse checks the extension and the leading header line.
func (p *Parser) CanParse(path string, header []byte) bool {
	if strings.EqualFold(filepath.Ext(path), ".qif") {
		return true
	}
	h := bytes.TrimSpace(bytes.TrimPrefix(header, []byte("\xef\xbb\xbf")))
	for _, prefix := range []string{"!Type:", "!Account", "!Option:"} {
		if bytes.HasPrefix(h, []byte(prefix)) {
			return true
		}
	}
	return false
}

// Parse decodes the whole file. Any unrecognized tag or section aborts the
// parse with a FormatError naming the line.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.Statement, error) {
	lines, err := parser.ReadLines(r, p.opts.Charset)
	if err != nil {
		return nil, fmt.Errorf("failed to read QIF%s: %w", parser.FileSuffix(meta), err)
	}
	d := newDecoder(ctx, p.opts, lines)
	if err := d.decode(); err != nil {
		return nil, fmt.Errorf("failed to parse QIF%s: %w", parser.FileSuffix(meta), err)
	}
	return d.stmt, nil
}

type sectionKind int

const (
	sectionBank sectionKind = iota
	sectionInvestment
	sectionMemorized
	sectionCategory
	sectionClass
	sectionSecurity
	sectionPrices
)

// sectionTypes maps "!Type:" names to the section they introduce.
var sectionTypes = map[string]sectionKind{
	"bank":      sectionBank,
	"cash":      sectionBank,
	"ccard":     sectionBank,
	"oth a":     sectionBank,
	"oth l":     sectionBank,
	"invoice":   sectionBank,
	"invst":     sectionInvestment,
	"memorized": sectionMemorized,
	"cat":       sectionCategory,
	"class":     sectionClass,
	"security":  sectionSecurity,
	"prices":    sectionPrices,
}

func (k sectionKind) holdsTransactions() bool {
	return k == sectionBank || k == sectionInvestment
}

// cursor is a peekable position over the input lines.
type cursor struct {
	lines []parser.Line
	pos   int
}

func (c *cursor) peek() (parser.Line, bool) {
	if c.pos >= len(c.lines) {
		return parser.Line{}, false
	}
	return c.lines[c.pos], true
}

func (c *cursor) next() (parser.Line, bool) {
	l, ok := c.peek()
	if ok {
		c.pos++
	}
	return l, ok
}

// skipBlank advances past empty lines.
func (c *cursor) skipBlank() {
	for {
		l, ok := c.peek()
		if !ok || strings.TrimSpace(l.Text) != "" {
			return
		}
		c.pos++
	}
}

func isHeader(l parser.Line) bool {
	return strings.HasPrefix(l.Text, "!")
}

// sectionOf returns the section named by a "!Type:" header line.
func sectionOf(l parser.Line) (sectionKind, bool, error) {
	name, ok := strings.CutPrefix(strings.TrimSpace(l.Text), "!Type:")
	if !ok {
		return 0, false, nil
	}
	kind, known := sectionTypes[strings.ToLower(strings.TrimSpace(name))]
	if !known {
		return 0, true, importerr.Format(l.Text, "unknown section type").AtLine(l.Num)
	}
	return kind, true, nil
}

// readRecord collects the field lines of one record up to its "^"
// terminator. Blank lines inside a record are dropped. ok is false when the
// section has no further record.
func (c *cursor) readRecord() (rec []parser.Line, ok bool, err error) {
	c.skipBlank()
	if l, more := c.peek(); !more || isHeader(l) {
		return nil, false, nil
	}
	for {
		l, more := c.peek()
		if !more {
			return nil, false, importerr.Format(rec[0].Text, "record is not terminated by ^").AtLine(rec[0].Num)
		}
		if isHeader(l) {
			start := l.Num
			if len(rec) > 0 {
				start = rec[0].Num
			}
			return nil, false, importerr.Format(l.Text, "record starting at line %d is not terminated by ^", start).AtLine(l.Num)
		}
		c.pos++
		if strings.HasPrefix(l.Text, "^") {
			return rec, true, nil
		}
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		rec = append(rec, l)
	}
}
