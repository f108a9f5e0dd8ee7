package service

import (
	"testing"

	"fintrack/internal/model"
	"fintrack/internal/state"
)

func summarySnapshot() *state.Snapshot {
	s := state.Empty()
	s.Accounts = []model.Account{
		{ID: "a", Currency: model.CurrencyUZS, Balance: dec("1000")},
		{ID: "b", Currency: model.CurrencyUZS, Balance: dec("-250.5")},
		{ID: "c", Currency: model.CurrencyUSD, Balance: dec("20")},
	}
	s.Transactions = []model.Transaction{
		{ID: "1", Type: model.TxIncome, Amount: dec("1000"), Currency: model.CurrencyUZS, Category: "Зарплата", Date: "2024-05-10"},
		{ID: "2", Type: model.TxExpense, Amount: dec("300"), Currency: model.CurrencyUZS, Category: "Еда", Date: "2024-05-09"},
		{ID: "3", Type: model.TxExpense, Amount: dec("100"), Currency: model.CurrencyUZS, Category: "Такси", Date: "2024-05-08"},
		{ID: "4", Type: model.TxExpense, Amount: dec("100"), Currency: model.CurrencyUZS, Category: "Еда", Date: "2024-05-01"},
		{ID: "5", Type: model.TxExpense, Amount: dec("400"), Currency: model.CurrencyUZS, Category: "Еда", Date: "2024-04-30"},
		{ID: "6", Type: model.TxExpense, Amount: dec("5"), Currency: model.CurrencyUSD, Category: "Еда", Date: "2024-05-02"},
		{ID: "7", Type: model.TxTransfer, Amount: dec("50"), Currency: model.CurrencyUZS, Category: model.TransferCategory, Date: "2024-05-03"},
	}
	s.Budgets = []model.Budget{
		{ID: "b1", Category: "Еда", Limit: dec("600"), Currency: model.CurrencyUZS},
		{ID: "b2", Category: "Такси", Limit: dec("50"), Currency: model.CurrencyUZS},
	}
	return s
}

func TestTotals(t *testing.T) {
	got := Totals(summarySnapshot())
	want := []model.CurrencyTotal{
		{Currency: model.CurrencyUZS, Balance: dec("749.5")},
		{Currency: model.CurrencyUSD, Balance: dec("20")},
	}
	if len(got) != len(want) {
		t.Fatalf("Totals() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Currency != want[i].Currency || !got[i].Balance.Equal(want[i].Balance) {
			t.Errorf("Totals()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBudgetUsages(t *testing.T) {
	tests := []struct {
		month       string
		wantSpent   []string
		wantPercent []float64
	}{
		{"", []string{"800", "100"}, []float64{100, 100}},
		{"2024-05", []string{"400", "100"}, []float64{66.66, 100}},
		{"2024-04", []string{"400", "0"}, []float64{66.66, 0}},
	}
	for _, tt := range tests {
		got := BudgetUsages(summarySnapshot(), tt.month)
		for i, u := range got {
			if !u.Spent.Equal(dec(tt.wantSpent[i])) || u.Percent != tt.wantPercent[i] {
				t.Errorf("BudgetUsages(%q)[%d] = %s/%v, want %s/%v", tt.month, i, u.Spent, u.Percent, tt.wantSpent[i], tt.wantPercent[i])
			}
		}
	}
}

func TestMonthlySummary(t *testing.T) {
	got, err := MonthlySummary(summarySnapshot(), "2024-05", model.CurrencyUZS)
	if err != nil {
		t.Fatalf("MonthlySummary: %v", err)
	}
	if !got.Income.Equal(dec("1000")) || !got.Expense.Equal(dec("500")) || !got.Net.Equal(dec("500")) {
		t.Errorf("income/expense/net = %s/%s/%s", got.Income, got.Expense, got.Net)
	}
	if got.SavingsRate != 50 {
		t.Errorf("SavingsRate = %v, want 50", got.SavingsRate)
	}
	if got.ExpenseChange != 25 {
		t.Errorf("ExpenseChange = %v, want 25", got.ExpenseChange)
	}
	if len(got.ByCategory) != 2 || got.ByCategory[0].Category != "Еда" || got.ByCategory[0].Count != 2 {
		t.Errorf("ByCategory = %+v", got.ByCategory)
	}

	if _, err := MonthlySummary(summarySnapshot(), "2024/05", model.CurrencyUZS); err == nil {
		t.Errorf("MonthlySummary with bad month: want error")
	}
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2024-05", "2024-04"},
		{"2024-01", "2023-12"},
		{"bad", "bad"},
	}
	for _, tt := range tests {
		if got := previousMonth(tt.input); got != tt.want {
			t.Errorf("previousMonth(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTransactionsInMonth(t *testing.T) {
	got, err := TransactionsInMonth(summarySnapshot(), "2024-04")
	if err != nil {
		t.Fatalf("TransactionsInMonth: %v", err)
	}
	if len(got) != 1 || got[0].ID != "5" {
		t.Errorf("TransactionsInMonth = %+v", got)
	}
}
