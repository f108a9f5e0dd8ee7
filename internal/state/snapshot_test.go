package state

import (
	"reflect"
	"testing"
	"time"

	"fintrack/internal/model"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func TestDue(t *testing.T) {
	monthly := model.Subscription{ID: "m", PaymentDay: 15, Period: model.PeriodMonthly}
	yearly := model.Subscription{ID: "y", PaymentDay: 1, Period: model.PeriodYearly, LastPaid: ts("2024-02-01T08:00:00Z")}

	withPaid := func(s model.Subscription, paid string) model.Subscription {
		s.LastPaid = ts(paid)
		return s
	}

	tests := []struct {
		name  string
		subs  []model.Subscription
		today time.Time
		want  string
	}{
		{"monthly never paid", []model.Subscription{monthly}, day(2024, 5, 15), "m"},
		{"monthly other day", []model.Subscription{monthly}, day(2024, 5, 14), ""},
		{"monthly paid this month", []model.Subscription{withPaid(monthly, "2024-05-01T00:00:00Z")}, day(2024, 5, 15), ""},
		{"monthly paid last month", []model.Subscription{withPaid(monthly, "2024-04-15T00:00:00Z")}, day(2024, 5, 15), "m"},
		{"monthly paid same month last year", []model.Subscription{withPaid(monthly, "2023-05-15T00:00:00Z")}, day(2024, 5, 15), "m"},
		{"yearly later month same year", []model.Subscription{yearly}, day(2024, 7, 1), ""},
		{"yearly january next year", []model.Subscription{yearly}, day(2025, 1, 1), "y"},
		{"empty", nil, day(2024, 1, 1), ""},
	}
	for _, tt := range tests {
		got := Due(tt.subs, tt.today)
		gotID := ""
		if got != nil {
			gotID = got.ID
		}
		if gotID != tt.want {
			t.Errorf("%s: Due() = %q, want %q", tt.name, gotID, tt.want)
		}
	}
}

func TestDueFirstMatch(t *testing.T) {
	subs := []model.Subscription{
		{ID: "a", PaymentDay: 3, Period: model.PeriodMonthly},
		{ID: "b", PaymentDay: 3, Period: model.PeriodMonthly},
		{ID: "c", PaymentDay: 4, Period: model.PeriodMonthly},
	}
	today := day(2024, 6, 3)
	if got := Due(subs, today); got == nil || got.ID != "a" {
		t.Errorf("Due() = %v, want a", got)
	}
	all := AllDue(subs, today)
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("AllDue() = %v, want [a b]", all)
	}
}

func TestSettledUsesTodayLocation(t *testing.T) {
	tashkent := time.FixedZone("UZT", 5*60*60)
	// 2024-04-30T20:00Z は UZT では 5月1日
	sub := model.Subscription{ID: "s", PaymentDay: 10, Period: model.PeriodMonthly, LastPaid: ts("2024-04-30T20:00:00Z")}
	today := time.Date(2024, 5, 10, 9, 0, 0, 0, tashkent)
	if !Settled(sub, today) {
		t.Errorf("Settled() = false, want true")
	}
}

func TestNormalizeCategories(t *testing.T) {
	tests := []struct {
		name        string
		cats        []model.Category
		wantIncome  []string
		wantExpense []string
	}{
		{
			"empty",
			nil,
			[]string{model.DebtsCategory},
			[]string{model.DebtsCategory},
		},
		{
			"debts already present once",
			[]model.Category{
				{Type: model.CategoryIncome, Name: "Бонус"},
				{Type: model.CategoryIncome, Name: model.DebtsCategory},
				{Type: model.CategoryExpense, Name: "Такси"},
			},
			[]string{"Бонус", model.DebtsCategory},
			[]string{"Такси", model.DebtsCategory},
		},
		{
			"duplicates collapsed",
			[]model.Category{
				{Type: model.CategoryExpense, Name: model.DebtsCategory},
				{Type: model.CategoryExpense, Name: model.DebtsCategory},
				{Type: model.CategoryExpense, Name: "Еда"},
			},
			[]string{model.DebtsCategory},
			[]string{model.DebtsCategory, "Еда"},
		},
	}
	for _, tt := range tests {
		income, expense := NormalizeCategories(tt.cats)
		if !reflect.DeepEqual(income, tt.wantIncome) {
			t.Errorf("%s: income = %v, want %v", tt.name, income, tt.wantIncome)
		}
		if !reflect.DeepEqual(expense, tt.wantExpense) {
			t.Errorf("%s: expense = %v, want %v", tt.name, expense, tt.wantExpense)
		}
	}
}
