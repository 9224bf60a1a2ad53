package importer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rumor-ml/commons.systems/finimport/internal/scanner"
)

// Dump parses a file without touching the ledger and returns what the
// pipeline would see: a *parser.Statement for statement files, the decoded
// []aggregator.Item for tables.
func (im *Importer) Dump(ctx context.Context, req Request) (any, error) {
	switch scanner.KindOf(req.Path) {
	case scanner.KindTabular:
		items, err := im.readTable(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", req.Path, err)
		}
		return items, nil
	case scanner.KindStatement:
		_, _, stmt, err := im.parseStatement(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", req.Path, err)
		}
		return stmt, nil
	}
	return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(req.Path))
}
