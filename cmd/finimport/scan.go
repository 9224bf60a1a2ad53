package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/scanner"
	"github.com/rumor-ml/commons.systems/finimport/internal/transform"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
)

type institutionFiles struct {
	name  string
	files []scanner.ScanResult
}

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan DIR",
		Short: "List importable files and the metadata derived from their paths",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(args[0])
		},
	}
}

func (a *app) runScan(dir string) error {
	files, err := scanner.New(dir).Scan()
	if err != nil {
		return fmt.Errorf("failed to scan directory %s: %w", dir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no importable files found in %s\n\nSupported extensions: .qif .ofx .qfx .csv .tsv .xlsx .xls", dir)
	}

	groups := groupByInstitution(files)
	slugs := make([]string, 0, len(groups))
	for slug := range groups {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	ui.Header("Scan")
	ui.Success(fmt.Sprintf("Found %d files across %d institutions", len(files), len(groups)))
	for _, slug := range slugs {
		g := groups[slug]
		ui.BlueText(fmt.Sprintf("\n%s [%s]", g.name, slug))
		for _, f := range g.files {
			rel, err := filepath.Rel(dir, f.Path)
			if err != nil {
				rel = f.Path
			}
			ui.KeyValue(rel, describe(f))
		}
	}
	return nil
}

// groupByInstitution keys files by institution slug so that directories
// spelled differently ("pnc_bank", "PNC Bank") land together.
func groupByInstitution(files []scanner.ScanResult) map[string]*institutionFiles {
	groups := make(map[string]*institutionFiles)
	for _, f := range files {
		name := f.Metadata.Institution()
		slug, err := transform.SlugifyInstitution(name)
		if err != nil {
			name, slug = "<unknown>", "unknown"
		}
		g, ok := groups[slug]
		if !ok {
			g = &institutionFiles{name: name}
			groups[slug] = g
		}
		g.files = append(g.files, f)
	}
	return groups
}

func describe(f scanner.ScanResult) string {
	account := f.Metadata.AccountNumber()
	if account == "" {
		account = "-"
	}
	s := fmt.Sprintf("%s, account %s", f.Kind, account)
	if p := f.Metadata.Period(); p != "" {
		s += ", period " + p
	}
	return s
}
