package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/apperror"
	"fintrack/internal/model"
	"fintrack/internal/state"
)

var hundred = decimal.NewFromInt(100)

// Totals は通貨ごとの口座残高の合計を返す（口座が無い通貨は含めない）
func Totals(snap *state.Snapshot) []model.CurrencyTotal {
	sums := make(map[model.Currency]decimal.Decimal)
	for _, a := range snap.Accounts {
		sums[a.Currency] = sums[a.Currency].Add(a.Balance)
	}
	var result []model.CurrencyTotal
	for _, c := range model.Currencies {
		if bal, ok := sums[c]; ok {
			result = append(result, model.CurrencyTotal{Currency: c, Balance: bal})
		}
	}
	return result
}

// BudgetUsages は予算ごとの支出額と消化率を返す。
// month ("YYYY-MM") が空なら全期間の支出で計算する
func BudgetUsages(snap *state.Snapshot, month string) []model.BudgetUsage {
	result := make([]model.BudgetUsage, 0, len(snap.Budgets))
	for _, b := range snap.Budgets {
		spent := decimal.Zero
		for _, t := range snap.Transactions {
			if t.Type != model.TxExpense || t.Category != b.Category || t.Currency != b.Currency {
				continue
			}
			if month != "" && !strings.HasPrefix(t.Date, month) {
				continue
			}
			spent = spent.Add(t.Amount)
		}
		result = append(result, model.BudgetUsage{
			Budget:  b,
			Spent:   spent,
			Percent: percent(spent, b.Limit, true),
		})
	}
	return result
}

// MonthlySummary は指定月・通貨の収支、貯蓄率、前月比、カテゴリ別支出を返す
func MonthlySummary(snap *state.Snapshot, month string, currency model.Currency) (*model.MonthlySummary, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	if !currency.Valid() {
		return nil, apperror.Newf("不明な通貨です: %s", currency)
	}

	prevMonth := previousMonth(month)
	var income, expense, prevExpense decimal.Decimal
	byCategory := make(map[string]*model.CategorySummary)
	for _, t := range snap.Transactions {
		if t.Currency != currency {
			continue
		}
		switch {
		case strings.HasPrefix(t.Date, month):
			switch t.Type {
			case model.TxIncome:
				income = income.Add(t.Amount)
			case model.TxExpense:
				expense = expense.Add(t.Amount)
				cs, ok := byCategory[t.Category]
				if !ok {
					cs = &model.CategorySummary{Category: t.Category}
					byCategory[t.Category] = cs
				}
				cs.Amount = cs.Amount.Add(t.Amount)
				cs.Count++
			}
		case strings.HasPrefix(t.Date, prevMonth) && t.Type == model.TxExpense:
			prevExpense = prevExpense.Add(t.Amount)
		}
	}

	summary := &model.MonthlySummary{
		Month:      month,
		Currency:   currency,
		Income:     income,
		Expense:    expense,
		Net:        income.Sub(expense),
		ByCategory: make([]model.CategorySummary, 0, len(byCategory)),
	}
	if income.IsPositive() {
		summary.SavingsRate = percent(income.Sub(expense), income, false)
	}
	if prevExpense.IsPositive() {
		summary.ExpenseChange = percent(expense.Sub(prevExpense), prevExpense, false)
	}
	for _, cs := range byCategory {
		summary.ByCategory = append(summary.ByCategory, *cs)
	}
	sort.Slice(summary.ByCategory, func(i, j int) bool {
		a, b := summary.ByCategory[i], summary.ByCategory[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Category < b.Category
	})
	return summary, nil
}

// TransactionsInMonth は指定月の取引をスナップショットの並び順で返す
func TransactionsInMonth(snap *state.Snapshot, month string) ([]model.Transaction, error) {
	if err := validateMonth(month); err != nil {
		return nil, err
	}
	result := []model.Transaction{}
	for _, t := range snap.Transactions {
		if strings.HasPrefix(t.Date, month) {
			result = append(result, t)
		}
	}
	return result, nil
}

// percent は part/whole を百分率で返す（小数第2位で切り捨て）。capped なら 100 を上限にする
func percent(part, whole decimal.Decimal, capped bool) float64 {
	if !whole.IsPositive() {
		return 0
	}
	p := part.Mul(hundred).Div(whole).Truncate(2)
	if capped && p.GreaterThan(hundred) {
		p = hundred
	}
	f, _ := p.Float64()
	return f
}

func validateMonth(month string) error {
	if _, err := time.Parse("2006-01", month); err != nil {
		return apperror.Newf("月は YYYY-MM 形式で指定してください: %s", month)
	}
	return nil
}

// previousMonth は "YYYY-MM" の前月を返す
func previousMonth(month string) string {
	parts := strings.Split(month, "-")
	if len(parts) != 2 {
		return month
	}
	year, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])

	t := time.Date(year, time.Month(m), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return fmt.Sprintf("%04d-%02d", t.Year(), t.Month())
}
