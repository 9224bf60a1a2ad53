package transform

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
)

// MapAccountKind converts the account type written in a statement file
// (QIF !Account T line, OFX ACCTTYPE) to a ledger account kind. An empty
// type is a bank account.
func MapAccountKind(rawType string) (domain.AccountKind, error) {
	switch strings.ToLower(strings.TrimSpace(rawType)) {
	case "", "bank", "checking", "checking account", "savings", "savings account", "moneymrkt":
		return domain.AccountKindBank, nil
	case "ccard", "credit", "credit card", "creditcard", "creditline":
		return domain.AccountKindCredit, nil
	case "cash":
		return domain.AccountKindCash, nil
	case "invst", "port", "401(k)/403(b)", "mutual", "investment", "brokerage":
		return domain.AccountKindInvestment, nil
	case "oth a":
		return domain.AccountKindAsset, nil
	case "oth l":
		return domain.AccountKindLiability, nil
	default:
		return "", fmt.Errorf("unknown account type: %s", rawType)
	}
}
