package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/config"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger/sqlitestore"
	"github.com/rumor-ml/commons.systems/finimport/internal/logging"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
)

const version = "0.1.0"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "finimport",
		Short: "Import bank statements and order feeds into a double-entry ledger",
		Long: `finimport reads QIF, OFX/QFX and CSV/XLSX files and posts balanced
transactions into a ledger. Each file is imported in one session: either
everything in it is committed or nothing is.`,
		Example: `  # Import a bank statement
  finimport import ~/statements/pnc/1234/2025-09.qfx

  # Import an items report and the matching orders report
  finimport import --profile items items.csv
  finimport import --profile orders orders.csv

  # Check what would happen without writing
  finimport import --dry-run --verbose export.qif`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ui.Out = cmd.OutOrStdout()
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ./finimport.yaml or ~/.config/finimport/finimport.yaml)")
	flags.String("ledger", "", "ledger database file")
	flags.BoolP("verbose", "v", false, "log every record decision")
	flags.String("currency", "", "default ISO currency code")
	flags.String("rules", "", "category rules file (default: built-in rules)")

	root.AddCommand(
		newImportCmd(a),
		newScanCmd(a),
		newAccountsCmd(a),
		newDumpCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Build(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Verbose)
	return nil
}

// openLedger opens the SQLite ledger, creating its directory on first use.
func (a *app) openLedger(ctx context.Context) (*ledger.Store, func(), error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Ledger), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := sqlitestore.Open(ctx, a.cfg.Ledger, a.logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("failed to close ledger", "path", a.cfg.Ledger, "error", err)
		}
	}
	return ledger.NewStore(db), closeFn, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "finimport version %s\n", version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		ui.Out = os.Stderr
		ui.Error(err.Error())
		stop()
		os.Exit(1)
	}
}
