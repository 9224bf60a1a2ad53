// Package ofx decodes OFX and QFX statement files.
//
// Bank and credit card statements are read by a recursive descent over the
// tag stream, which tolerates the unclosed leaf elements of OFX 1.x SGML and
// ignores any aggregate it does not know. Investment statements are handed
// to ofxgo.
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

// Options configure the OFX parser.
type Options struct {
	// Charset used when the file header does not declare one.
	Charset string
	// DefaultCurrency applies when a statement has no CURDEF.
	DefaultCurrency string
	// Currencies resolves CURDEF codes to their minor-unit width.
	Currencies value.CurrencyResolver
	Logger     *log.Logger
}

// Parser parses OFX/QFX files
type Parser struct {
	opts Options
}

var _ parser.Parser = (*Parser)(nil)

// NewParser creates an OFX parser. Zero option fields take their defaults.
func NewParser(opts Options) *Parser {
	if opts.Charset == "" {
		opts.Charset = "utf-8"
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.Currencies == nil {
		opts.Currencies = value.ISOCurrencies{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Parser{opts: opts}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "ofx"
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}

	// v1 SGML and v2 XML markers
	headerUpper := strings.ToUpper(string(header))
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Parse decodes every statement in the file.
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.Statement, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content%s: %w", parser.FileSuffix(meta), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if bytes.Contains(bytes.ToUpper(content), []byte("<INVSTMTMSGSRSV1>")) {
		stmt, err := p.parseInvestment(content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse OFX investment statement%s: %w", parser.FileSuffix(meta), err)
		}
		return stmt, nil
	}

	lines, err := parser.DecodeLines(content, detectCharset(content, p.opts.Charset))
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content%s: %w", parser.FileSuffix(meta), err)
	}
	d := &descent{ctx: ctx, opts: p.opts, cur: &cursor{elems: tokenize(lines)}, stmt: &parser.Statement{}}
	if err := d.document(); err != nil {
		return nil, fmt.Errorf("failed to parse OFX file%s: %w", parser.FileSuffix(meta), err)
	}
	if len(d.stmt.Accounts) == 0 {
		return nil, fmt.Errorf("failed to parse OFX file%s: %w", parser.FileSuffix(meta),
			importerr.Format("", "no bank (BANKMSGSRSV1), credit card (CREDITCARDMSGSRSV1) or investment (INVSTMTMSGSRSV1) statement found"))
	}
	return d.stmt, nil
}

// detectCharset reads the encoding declared in the OFX header.
func detectCharset(content []byte, fallback string) string {
	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}
	h := strings.ToUpper(string(head))
	switch {
	case strings.Contains(h, "ENCODING:UTF-8"), strings.Contains(h, `ENCODING="UTF-8"`):
		return "utf-8"
	case strings.Contains(h, "CHARSET:1252"):
		return "windows-1252"
	case strings.Contains(h, "CHARSET:8859-1"), strings.Contains(h, "CHARSET:ISO-8859-1"):
		return "iso-8859-1"
	}
	return fallback
}
