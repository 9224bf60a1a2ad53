package main

import (
	"fmt"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/importer"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
)

func newDumpCmd(a *app) *cobra.Command {
	var (
		profile string
		root    string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Parse a file and print the decoded records without importing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// parsing never touches the ledger
			store := ledger.NewStore(ledger.NewMemory())
			im, err := importer.New(store, a.cfg, importer.Options{Root: root, Logger: a.logger})
			if err != nil {
				return err
			}

			records, err := im.Dump(cmd.Context(), importer.Request{Path: args[0], Profile: profile})
			if err != nil {
				return err
			}

			printer := pp.New()
			printer.SetOutput(cmd.OutOrStdout())
			printer.SetColoringEnabled(!noColor)
			if _, err := printer.Println(records); err != nil {
				return fmt.Errorf("failed to print records: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "import profile for tabular files")
	cmd.Flags().StringVar(&root, "root", "", "statement directory that the file path is relative to")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}
