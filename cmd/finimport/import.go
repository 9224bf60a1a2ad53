package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/importer"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/finimport/internal/output"
	"github.com/rumor-ml/commons.systems/finimport/internal/scanner"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
)

type importFlags struct {
	profile    string
	account    string
	dryRun     bool
	root       string
	reportFile string
	merge      bool
}

// target is one file to import together with the directory its metadata is
// derived from.
type target struct {
	path string
	root string
}

func newImportCmd(a *app) *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import FILE|DIR...",
		Short: "Import statement files and order feeds",
		Long: `Import each file in its own ledger session. A directory argument imports
every statement file below it, using the {institution}/{account}/[{period}/]
layout to find accounts. Tabular files (CSV, TSV, XLSX, XLS) need --profile.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd, args, f)
		},
	}

	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "import profile for tabular files")
	cmd.Flags().StringVarP(&f.account, "account", "a", "", "account name or number (card digits for order feeds)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "validate and discard instead of committing")
	cmd.Flags().StringVar(&f.root, "root", "", "statement directory that file paths are relative to")
	cmd.Flags().StringVar(&f.reportFile, "report", "", "write a JSON run report to this file")
	cmd.Flags().BoolVar(&f.merge, "merge", false, "append the run to an existing report file")
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, args []string, f importFlags) error {
	ctx := cmd.Context()

	targets, err := expandTargets(args, f)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no importable files found in %s", strings.Join(args, ", "))
	}

	store, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()

	importers := make(map[string]*importer.Importer)
	run := &output.Run{StartedAt: time.Now(), Ledger: a.cfg.Ledger, DryRun: f.dryRun}

	if f.dryRun {
		ui.Header("Import (dry run)")
	} else {
		ui.Header("Import")
	}

	failed := 0
	for i, t := range targets {
		ui.Step(i+1, len(targets), t.path)

		im, err := a.importerFor(store, importers, t.root)
		if err != nil {
			return err
		}
		rep, err := im.ImportFile(ctx, importer.Request{
			Path:        t.path,
			Profile:     f.profile,
			AccountHint: f.account,
			DryRun:      f.dryRun,
		})
		run.Files = append(run.Files, rep)
		if err != nil {
			ui.Error(err.Error())
			failed++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		printReport(rep)
	}

	if f.reportFile != "" {
		opts := output.WriteOptions{MergeMode: f.merge, FilePath: f.reportFile}
		if err := output.WriteRunToFile(run, opts); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		ui.Success(fmt.Sprintf("Report written to %s", f.reportFile))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to import", failed, len(targets))
	}
	return nil
}

func (a *app) importerFor(store *ledger.Store, cache map[string]*importer.Importer, root string) (*importer.Importer, error) {
	if im, ok := cache[root]; ok {
		return im, nil
	}
	im, err := importer.New(store, a.cfg, importer.Options{Root: root, Logger: a.logger})
	if err != nil {
		return nil, err
	}
	cache[root] = im
	return im, nil
}

// expandTargets turns the arguments into files. Tabular files found by
// walking a directory are skipped unless a profile was given.
func expandTargets(args []string, f importFlags) ([]target, error) {
	var targets []target
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			targets = append(targets, target{path: arg, root: f.root})
			continue
		}

		files, err := scanner.New(arg).Scan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan directory %s: %w", arg, err)
		}
		for _, file := range files {
			if file.Kind == scanner.KindTabular && f.profile == "" {
				ui.Warning(fmt.Sprintf("skipping %s (tabular file, no --profile)", file.Path))
				continue
			}
			targets = append(targets, target{path: file.Path, root: arg})
		}
	}
	return targets, nil
}

func printReport(rep *importer.Report) {
	if scanner.KindOf(rep.File) == scanner.KindTabular {
		ui.Success(fmt.Sprintf("%s: %d rows, %d groups built, %d rejected", rep.Format, rep.Rows, rep.GroupsBuilt, rep.GroupsRejected))
		for _, r := range rep.Rejected {
			ui.Warning(r)
		}
		if rep.RowsDropped > 0 {
			ui.Warning(fmt.Sprintf("%d rows dropped with their rejected groups", rep.RowsDropped))
		}
	} else {
		ui.Success(fmt.Sprintf("%s: %d posted, %d merged, %d already imported", rep.Format, rep.Posted, rep.Merged, rep.Skipped))
		if rep.Fingerprinted > 0 {
			ui.Info(fmt.Sprintf("%d entries without a bank id matched by content", rep.Fingerprinted))
		}
		if rep.Memorized > 0 {
			ui.Info(fmt.Sprintf("%d memorized transactions ignored", rep.Memorized))
		}
	}
	if len(rep.AccountsCreated) > 0 {
		ui.Info("New accounts: " + strings.Join(rep.AccountsCreated, ", "))
	}
	for _, w := range rep.Warnings {
		ui.Warning(w)
	}

	switch {
	case rep.DryRun:
		ui.Info(fmt.Sprintf("Dry run: %d transactions would be written, %d deleted", rep.TransactionsWritten, rep.TransactionsDeleted))
	case !rep.Changed():
		ui.Info("Nothing new to commit")
	default:
		ui.Success(fmt.Sprintf("Committed %d transactions (%d deleted)", rep.TransactionsWritten, rep.TransactionsDeleted))
	}
}
