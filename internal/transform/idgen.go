package transform

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

func stripMarks(s string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	return out, err
}

// SlugifyInstitution converts an institution name to the slug scan output
// groups files by.
// Examples: "American Express" → "american-express", "PNC Bank" → "pnc-bank"
func SlugifyInstitution(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("institution name cannot be empty")
	}

	normalized, err := stripMarks(name)
	if err != nil {
		return "", fmt.Errorf("failed to normalize institution name %q: %w", name, err)
	}
	if normalized == "" {
		return "", fmt.Errorf("institution name %q contains only non-displayable unicode characters", name)
	}

	slug := nonAlnum.ReplaceAllString(strings.ToLower(normalized), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", fmt.Errorf("institution name %q contains no alphanumeric characters", name)
	}
	return slug, nil
}

// NormalizeText folds payee and memo text for comparison: accents are
// removed, case is lowered and runs of whitespace collapse to one space.
// "  Café   DU Monde " → "cafe du monde"
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	folded, err := stripMarks(s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(folded), " "))
}

// ExtractLast4 returns the last 4 characters of the account number.
// If the account number has fewer than 4 characters, returns the full number.
// Examples: "12345" → "2345", "123" → "123", "" → ""
func ExtractLast4(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return accountNumber[len(accountNumber)-4:]
}

// AccountName builds the short name of a ledger account created for a
// statement that only carries a number.
// Example: AccountName("American Express", "372000002011") → "American Express 2011"
func AccountName(institution, accountNumber string) string {
	last4 := ExtractLast4(strings.TrimSpace(accountNumber))
	institution = strings.TrimSpace(institution)
	switch {
	case institution == "":
		return "Account " + last4
	case last4 == "":
		return institution
	}
	return institution + " " + last4
}
