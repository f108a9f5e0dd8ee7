package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"fintrack/internal/model"
	"fintrack/internal/state"
)

func testSnapshot() *state.Snapshot {
	rate := decimal.NewFromInt(12500)
	paid := time.Date(2024, 4, 3, 10, 0, 0, 0, time.UTC)
	snap := state.Empty()
	snap.Accounts = []model.Account{
		{ID: "a1", Name: "Наличные", Type: model.AccountCash, Currency: model.CurrencyUZS, Balance: decimal.NewFromInt(75000)},
		{ID: "a2", Name: "Visa", Type: model.AccountCard, Currency: model.CurrencyUSD, Balance: decimal.NewFromInt(50)},
	}
	snap.Transactions = []model.Transaction{
		{ID: "t2", Type: model.TxTransfer, Amount: decimal.NewFromInt(10), Currency: model.CurrencyUSD, AccountID: "a2", ToAccountID: "a1", ExchangeRate: &rate, Category: model.TransferCategory, Date: "2024-05-11"},
		{ID: "t1", Type: model.TxExpense, Amount: decimal.NewFromInt(25000), Currency: model.CurrencyUZS, AccountID: "a1", Category: "Еда", Date: "2024-05-10", Tags: []string{"обед", "работа"}},
		{ID: "t0", Type: model.TxIncome, Amount: decimal.NewFromInt(1), Currency: model.CurrencyUZS, AccountID: "gone", Category: "Зарплата", Date: "2024-05-01"},
	}
	snap.Debts = []model.Debt{{ID: "d1", Type: model.DebtIOwe, PersonName: "Алишер", Amount: decimal.NewFromInt(300), Currency: model.CurrencyUZS}}
	snap.Subscriptions = []model.Subscription{{ID: "s1", Name: "Netflix", Amount: decimal.NewFromInt(10), Currency: model.CurrencyUSD, Period: model.PeriodMonthly, Category: "Развлечения", PaymentDay: 3, LastPaid: &paid}}
	return snap
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, testSnapshot()); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	want := []string{TransactionsSheet, "accounts", "debts", "subscriptions"}
	got := f.GetSheetList()
	if len(got) != len(want) {
		t.Fatalf("sheets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sheet[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	tests := []struct {
		sheet, cell, want string
	}{
		{TransactionsSheet, "A1", "id"},
		{TransactionsSheet, "A2", "t2"},
		{TransactionsSheet, "F2", "Visa"},
		{TransactionsSheet, "G2", "Наличные"},
		{TransactionsSheet, "H2", "12500"},
		{TransactionsSheet, "D3", "25000"},
		{TransactionsSheet, "K3", "обед, работа"},
		{TransactionsSheet, "F4", "gone"},
		{"accounts", "B3", "Visa"},
		{"debts", "C2", "Алишер"},
		{"subscriptions", "H2", "2024-04-03"},
	}
	for _, tt := range tests {
		v, err := f.GetCellValue(tt.sheet, tt.cell)
		if err != nil {
			t.Fatalf("GetCellValue(%s!%s): %v", tt.sheet, tt.cell, err)
		}
		if v != tt.want {
			t.Errorf("%s!%s = %q, want %q", tt.sheet, tt.cell, v, tt.want)
		}
	}

	rows, err := f.GetRows(TransactionsSheet)
	if err != nil || len(rows) != 4 {
		t.Errorf("transaction rows = %d (%v), want 4", len(rows), err)
	}
}

type fakeSheet struct {
	cleared []string
	written map[string][][]any
	failAt  string
}

func (f *fakeSheet) ClearSheet(_ context.Context, name string) error {
	if f.failAt == "clear" {
		return errors.New("quota exceeded")
	}
	f.cleared = append(f.cleared, name)
	return nil
}

func (f *fakeSheet) WriteRows(_ context.Context, name string, rows [][]any) error {
	if f.failAt == "write" {
		return errors.New("quota exceeded")
	}
	if f.written == nil {
		f.written = make(map[string][][]any)
	}
	f.written[name] = rows
	return nil
}

func TestSyncSheets(t *testing.T) {
	w := &fakeSheet{}
	n, err := SyncSheets(context.Background(), w, testSnapshot())
	if err != nil {
		t.Fatalf("SyncSheets: %v", err)
	}
	if n != 3 {
		t.Errorf("SyncSheets = %d, want 3", n)
	}
	if len(w.cleared) != 1 || w.cleared[0] != TransactionsSheet {
		t.Errorf("cleared = %v", w.cleared)
	}
	rows := w.written[TransactionsSheet]
	if len(rows) != 4 || rows[0][0] != "id" || rows[1][0] != "t2" {
		t.Errorf("rows = %v", rows)
	}

	for _, stage := range []string{"clear", "write"} {
		if _, err := SyncSheets(context.Background(), &fakeSheet{failAt: stage}, testSnapshot()); err == nil {
			t.Errorf("failure at %s: expected error", stage)
		}
	}
}
