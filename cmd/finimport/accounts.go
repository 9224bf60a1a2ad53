package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
	"github.com/rumor-ml/commons.systems/finimport/internal/value"
)

func newAccountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List and create ledger accounts",
	}
	cmd.AddCommand(newAccountsListCmd(a), newAccountsAddCmd(a))
	return cmd
}

func newAccountsListCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeLedger, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLedger()

			s, err := store.Begin(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Discard()

			printAccounts(cmd.OutOrStdout(), s, domain.AccountKind(strings.ToLower(kind)))
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list accounts of this kind")
	return cmd
}

func printAccounts(w io.Writer, s *ledger.Session, kind domain.AccountKind) {
	accounts := s.Accounts()
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Kind != accounts[j].Kind {
			return accounts[i].Kind < accounts[j].Kind
		}
		return accounts[i].Name < accounts[j].Name
	})

	fmt.Fprintf(w, "%-32s %-10s %-14s %-4s %14s\n", "NAME", "KIND", "NUMBER", "CUR", "BALANCE")
	for _, acct := range accounts {
		if kind != "" && acct.Kind != kind {
			continue
		}
		var balance int64
		for _, e := range s.Entries(acct.ID) {
			balance += e.Amount
		}
		fmt.Fprintf(w, "%-32s %-10s %-14s %-4s %14s\n",
			acct.Name, acct.Kind, acct.Number, acct.Currency, value.FormatMinor(balance, acct.Currency))
	}
}

func newAccountsAddCmd(a *app) *cobra.Command {
	var acct ledger.Account
	var kind string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Example: `  finimport accounts add --name "Visa" --number 4111111111111234 --kind credit
  finimport accounts add --name "Savings" --currency EUR
  finimport accounts add --name "Groceries" --kind category`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct.Kind = domain.AccountKind(strings.ToLower(kind))
			if !domain.ValidateAccountKind(acct.Kind) {
				return fmt.Errorf("invalid account kind %q", kind)
			}
			// accounts are opened in the run currency, set with --currency
			c, err := value.ISOCurrencies{}.Currency(a.cfg.Currency)
			if err != nil {
				return err
			}
			acct.Currency = c.Code

			ctx := cmd.Context()
			store, closeLedger, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeLedger()

			s, err := store.Begin(ctx)
			if err != nil {
				return err
			}
			created, err := s.CreateAccount(acct)
			if err != nil {
				s.Discard()
				return err
			}
			if err := s.Commit(ctx); err != nil {
				return fmt.Errorf("failed to save account: %w", err)
			}
			ui.Success(fmt.Sprintf("Created %s account %q (%s)", created.Kind, created.Name, created.Currency))
			return nil
		},
	}

	cmd.Flags().StringVar(&acct.Name, "name", "", "account name")
	cmd.Flags().StringVar(&acct.Number, "number", "", "account or card number")
	cmd.Flags().StringVar(&kind, "kind", string(domain.AccountKindBank), "bank, credit, cash, investment, asset, liability or category")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
