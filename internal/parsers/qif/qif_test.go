package qif

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/importerr"
	"github.com/rumor-ml/commons.systems/finimport/internal/parser"
)

func parse(t *testing.T, input string) (*parser.Statement, error) {
	t.Helper()
	meta, err := parser.NewMetadata("/stmts/test.qif", time.Now())
	require.NoError(t, err)
	return NewParser(Options{}).Parse(context.Background(), strings.NewReader(input), meta)
}

func toLines(texts ...string) []parser.Line {
	lines := make([]parser.Line, len(texts))
	for i, s := range texts {
		lines[i] = parser.Line{Num: i + 1, Text: s}
	}
	return lines
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestName(t *testing.T) {
	if got := NewParser(Options{}).Name(); got != "qif" {
		t.Errorf("Name() = %q, want %q", got, "qif")
	}
}

func TestCanParse(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header string
		want   bool
	}{
		{"qif extension", "export.QIF", "", true},
		{"type header", "export.txt", "!Type:Bank\nD1/2/2020", true},
		{"account header with bom", "export.txt", "\xef\xbb\xbf!Account\nNChecking", true},
		{"option header", "export.dat", "!Option:AutoSwitch\n", true},
		{"ofx content", "export.txt", "OFXHEADER:100", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewParser(Options{}).CanParse(tt.path, []byte(tt.header)); got != tt.want {
				t.Errorf("CanParse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_SplitAccumulation(t *testing.T) {
	stmt, err := parse(t, "!Type:Bank\nD1/5/2020\nS:Cat1\n$10.00\nS:Cat2\n$-10.00\n^\n")
	require.NoError(t, err)
	require.Len(t, stmt.Accounts, 1)
	require.Len(t, stmt.Accounts[0].Entries, 1)

	e := stmt.Accounts[0].Entries[0]
	want := []domain.Split{
		{Category: "Cat1", Amount: 1000},
		{Category: "Cat2", Amount: -1000},
	}
	assert.Equal(t, want, e.Splits)
	assert.Equal(t, int64(0), e.Amount, "without a T line the amount is the split total")
}

func TestParse_SplitsWithoutDate(t *testing.T) {
	// only memorized templates may omit D
	_, err := parse(t, "!Type:Bank\nS:Cat1\n$10.00\nS:Cat2\n$-10.00\n^\n")
	var fe *importerr.FormatError
	require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
	assert.Equal(t, 2, fe.Line)

	stmt, err := parse(t, "!Type:Memorized\nKP\nPRent\nS:Cat1\n$10.00\nS:Cat2\n$-10.00\n^\n")
	require.NoError(t, err)
	require.Len(t, stmt.Memorized, 1)
	assert.Len(t, stmt.Memorized[0].Splits, 2)
}

func TestDecodeTransaction_SplitFlushOnRepeat(t *testing.T) {
	d := newDecoder(context.Background(), DefaultOptions(), nil)
	e, err := d.decodeTransaction(toLines(
		"D6/15/2009",
		"T-30.00",
		"SGroceries",
		"Efruit",
		"$-20.00",
		// second split starts without an S line: $ repeats
		"$-5.00",
		"Enapkins",
		"SHousehold",
		"$-5.00",
	), false)
	require.NoError(t, err)
	want := []domain.Split{
		{Category: "Groceries", Memo: "fruit", Amount: -2000},
		{Amount: -500, Memo: "napkins"},
		{Category: "Household", Amount: -500},
	}
	assert.Equal(t, want, e.Splits)
}

func TestParse_BankSection(t *testing.T) {
	input := strings.Join([]string{
		"!Type:Bank",
		"D6/15/2009",
		"T-1,234.56",
		"CX",
		"N1001",
		"PACME Hardware",
		"MNails",
		"LHome:Repairs/Renovation",
		"^",
		"D 1/ 2' 9",
		"U20.00",
		"PRefund",
		"^",
		"",
	}, "\n")

	stmt, err := parse(t, input)
	require.NoError(t, err)
	require.Len(t, stmt.Accounts, 1)
	acct := stmt.Accounts[0]
	assert.Nil(t, acct.Account, "a bare !Type section names no account")
	require.Len(t, acct.Entries, 2)

	first := acct.Entries[0]
	assert.Equal(t, int64(-123456), first.Amount)
	assert.True(t, first.Date.Equal(date(2009, 6, 15)))
	assert.True(t, first.ClearedDate.Equal(first.Date))
	assert.Equal(t, "1001", first.CheckNumber)
	assert.Equal(t, "ACME Hardware", first.Payee)
	assert.Equal(t, "Nails", first.Memo)
	assert.Equal(t, "Home:Repairs", first.Category)

	second := acct.Entries[1]
	assert.Equal(t, int64(2000), second.Amount)
	assert.True(t, second.Date.Equal(date(2009, 1, 2)))
	assert.False(t, second.IsCleared())
}

func TestParse_AccountBlocksWithInlineSections(t *testing.T) {
	input := strings.Join([]string{
		"!Option:AutoSwitch",
		"!Account",
		"NChecking",
		"TBank",
		"^",
		"NBrokerage",
		"TInvst",
		"^",
		"!Clear:AutoSwitch",
		"!Account",
		"NChecking",
		"TBank",
		"DMain account",
		"$1000.00",
		"^",
		"!Type:Bank",
		"D01/05/2020",
		"T-50.00",
		"L[Brokerage]",
		"^",
		"!Account",
		"NBrokerage",
		"TInvst",
		"^",
		"!Type:Invst",
		"D01/05/2020",
		"NBuy",
		"YACME",
		"I12.5",
		"Q4",
		"T50.00",
		"O0.50",
		"^",
		"D01/06/2020",
		"NShrsIn",
		"YACME",
		"Q1",
		"^",
	}, "\n")

	stmt, err := parse(t, input)
	require.NoError(t, err)
	require.Len(t, stmt.Accounts, 2, "accounts listed twice are merged")

	chk := stmt.Accounts[0]
	require.NotNil(t, chk.Account)
	assert.Equal(t, "Checking", chk.Account.Name())
	assert.Equal(t, "Bank", chk.Account.AccountType())
	require.Len(t, chk.Entries, 1)
	assert.Equal(t, "[Brokerage]", chk.Entries[0].Category)

	brk := stmt.Accounts[1]
	assert.True(t, brk.Investment)
	require.Len(t, brk.Entries, 2)
	buy := brk.Entries[0]
	assert.Equal(t, int64(-5000), buy.Amount, "a buy takes cash out of the account")
	require.NotNil(t, buy.Ext.Investment)
	assert.Equal(t, "ACME", buy.Ext.Investment.Security)
	assert.True(t, buy.Ext.Investment.Price.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, buy.Ext.Investment.Quantity.Equal(decimal.NewFromInt(4)))
	assert.True(t, buy.Ext.Investment.Commission.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, int64(0), brk.Entries[1].Amount)
}

func TestParse_MemorizedAndCategories(t *testing.T) {
	input := strings.Join([]string{
		"!Type:Cat",
		"NGroceries",
		"DFood",
		"E",
		"^",
		"NSalary",
		"I",
		"T",
		"^",
		"!Type:Memorized",
		"KP",
		"T-800.00",
		"PLandlord",
		"1 1/ 1'20",
		"2 0",
		"^",
		"!Type:Class",
		"NHome",
		"^",
		"!Type:Security",
		"NAcme Corp",
		"SACME",
		"TStock",
		"GGrowth",
		"^",
		"!Type:Prices",
		`"ACME",12.50," 1/ 2'20"`,
		"^",
	}, "\n")

	stmt, err := parse(t, input)
	require.NoError(t, err)
	assert.Empty(t, stmt.Accounts)
	assert.Equal(t, []parser.Category{
		{Name: "Groceries", Description: "Food"},
		{Name: "Salary", Income: true},
	}, stmt.Categories)
	require.Len(t, stmt.Memorized, 1)
	assert.Equal(t, "Landlord", stmt.Memorized[0].Payee)
	assert.Equal(t, int64(-80000), stmt.Memorized[0].Amount)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantLine   int
		structural bool
	}{
		{
			name:     "unknown tag",
			input:    "!Type:Bank\nD1/1/2020\nT1.00\nZoops\n^\n",
			wantLine: 4,
		},
		{
			name:     "unknown section",
			input:    "!Type:Mystery\n",
			wantLine: 1,
		},
		{
			name:     "bad amount",
			input:    "!Type:Bank\nD1/1/2020\nTabc\n^\n",
			wantLine: 3,
		},
		{
			name:     "bad date",
			input:    "!Type:Bank\nD2020-31-31\nT1\n^\n",
			wantLine: 2,
		},
		{
			name:     "missing date",
			input:    "!Type:Bank\nT1.00\n^\n",
			wantLine: 2,
		},
		{
			name:     "unterminated record",
			input:    "!Type:Bank\nD1/1/2020\nT1.00\n",
			wantLine: 2,
		},
		{
			name:     "memorized kind outside memorized section",
			input:    "!Type:Bank\nD1/1/2020\nKP\n^\n",
			wantLine: 3,
		},
		{
			name:     "unknown tag in security list",
			input:    "!Type:Security\nNAcme Corp\nSACME\nTStock\nQ10\n^\n",
			wantLine: 5,
		},
		{
			name:     "tagged line in price list",
			input:    "!Type:Prices\nNAcme\n^\n",
			wantLine: 2,
		},
		{
			name:     "data before any header",
			input:    "D1/1/2020\n",
			wantLine: 1,
		},
		{
			name:       "splits do not add up",
			input:      "!Type:Bank\nD1/1/2020\nT-10.00\nSA\n$-4.00\nSB\n$-4.00\n^\n",
			wantLine:   2,
			structural: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "from /stmts/test.qif")
			if tt.structural {
				var se *importerr.StructuralError
				require.True(t, errors.As(err, &se), "want StructuralError, got %v", err)
				assert.Equal(t, tt.wantLine, se.Line)
				return
			}
			var fe *importerr.FormatError
			require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
			assert.Equal(t, tt.wantLine, fe.Line)
		})
	}
}

func TestParse_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewParser(Options{}).Parse(ctx, strings.NewReader("!Type:Bank\nD1/1/2020\nT1\n^\n"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"6/15/2009", "6/15/2009"},
		{"6/15'09", "6/15/2009"},
		{" 6/ 5' 9", "6/5/2009"},
		{"12/31/99", "12/31/1999"},
		{"1/1/05", "1/1/2005"},
		{"06-15-2009", "06/15/2009"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := normalizeDate(tt.in); got != tt.want {
				t.Errorf("normalizeDate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCashEffect(t *testing.T) {
	tests := []struct {
		action string
		amount int64
		want   int64
	}{
		{"Buy", 100, -100},
		{"BuyX", -100, -100},
		{"Sell", 100, 100},
		{"Div", 25, 25},
		{"ReinvDiv", 25, 0},
		{"ShrsOut", 10, 0},
		{"Cash", -40, -40},
		{"XOut", 40, -40},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			if got := cashEffect(tt.action, tt.amount); got != tt.want {
				t.Errorf("cashEffect(%q, %d) = %d, want %d", tt.action, tt.amount, got, tt.want)
			}
		})
	}
}

func TestParse_Windows1252Payee(t *testing.T) {
	stmt, err := parse(t, "!Type:Cash\nD1/1/2020\nT-3.50\nPCaf\xe9 Bleu\n^\n")
	require.NoError(t, err)
	assert.Equal(t, "Café Bleu", stmt.Accounts[0].Entries[0].Payee)
}
