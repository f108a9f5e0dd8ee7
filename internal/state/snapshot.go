// Package state はセッションのスナップショットと、その純粋な状態遷移を定義する。
// Reduce は入力のスナップショットを変更せず、影響するスライスだけを新しいスライスに差し替える。
package state

import (
	"time"

	"fintrack/internal/model"
)

// Snapshot はユーザーの財務データのメモリ上のミラー
type Snapshot struct {
	Theme               model.Theme          `json:"theme"`
	Language            model.Language       `json:"language"`
	Accounts            []model.Account      `json:"accounts"`
	Transactions        []model.Transaction  `json:"transactions"`
	Debts               []model.Debt         `json:"debts"`
	Budgets             []model.Budget       `json:"budgets"`
	Subscriptions       []model.Subscription `json:"subscriptions"`
	IncomeCategories    []string             `json:"incomeCategories"`
	ExpenseCategories   []string             `json:"expenseCategories"`
	PendingSubscription *model.Subscription  `json:"pendingSubscription"`
}

// Empty は初期状態のスナップショットを返す
func Empty() *Snapshot {
	s := model.DefaultSettings()
	return emptyWith(s.Theme, s.Language)
}

func emptyWith(theme model.Theme, lang model.Language) *Snapshot {
	return &Snapshot{
		Theme:             theme,
		Language:          lang,
		Accounts:          []model.Account{},
		Transactions:      []model.Transaction{},
		Debts:             []model.Debt{},
		Budgets:           []model.Budget{},
		Subscriptions:     []model.Subscription{},
		IncomeCategories:  []string{},
		ExpenseCategories: []string{},
	}
}

func (s *Snapshot) Account(id string) (model.Account, bool) {
	for _, a := range s.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return model.Account{}, false
}

func (s *Snapshot) Debt(id string) (model.Debt, bool) {
	for _, d := range s.Debts {
		if d.ID == id {
			return d, true
		}
	}
	return model.Debt{}, false
}

func (s *Snapshot) Subscription(id string) (model.Subscription, bool) {
	for _, sub := range s.Subscriptions {
		if sub.ID == id {
			return sub, true
		}
	}
	return model.Subscription{}, false
}

func (s *Snapshot) Budget(id string) (model.Budget, bool) {
	for _, b := range s.Budgets {
		if b.ID == id {
			return b, true
		}
	}
	return model.Budget{}, false
}

// HasBudget は (category, currency) の予算が既にあるかを返す
func (s *Snapshot) HasBudget(category string, currency model.Currency) bool {
	for _, b := range s.Budgets {
		if b.Category == category && b.Currency == currency {
			return true
		}
	}
	return false
}

// CategoryNames は区分のカテゴリ名一覧を返す
func (s *Snapshot) CategoryNames(t model.CategoryType) []string {
	if t == model.CategoryIncome {
		return s.IncomeCategories
	}
	return s.ExpenseCategories
}

func (s *Snapshot) HasCategory(c model.Category) bool {
	return contains(s.CategoryNames(c.Type), c.Name)
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// Due は今日が支払日で今期未精算のサブスクリプションのうち、最初の1件を返す（無ければ nil）
func Due(subs []model.Subscription, today time.Time) *model.Subscription {
	for _, s := range subs {
		if isDue(s, today) {
			return &s
		}
	}
	return nil
}

// AllDue は今日が支払日で今期未精算のサブスクリプションをすべて返す
func AllDue(subs []model.Subscription, today time.Time) []model.Subscription {
	var out []model.Subscription
	for _, s := range subs {
		if isDue(s, today) {
			out = append(out, s)
		}
	}
	return out
}

func isDue(s model.Subscription, today time.Time) bool {
	return s.PaymentDay == today.Day() && !Settled(s, today)
}

// Settled は lastPaid が今期（年次なら今年、月次なら今月）に入っているかを返す
func Settled(s model.Subscription, today time.Time) bool {
	if s.LastPaid == nil {
		return false
	}
	paid := s.LastPaid.In(today.Location())
	switch s.Period {
	case model.PeriodYearly:
		return paid.Year() == today.Year()
	default:
		return paid.Year() == today.Year() && paid.Month() == today.Month()
	}
}

// NormalizeCategories はリモートのカテゴリを区分ごとの名前一覧にする。
// 両方の一覧に Долги をちょうど1つ含める。リモートに無いカテゴリはそれ以外に足さない
func NormalizeCategories(cats []model.Category) (income, expense []string) {
	income, expense = []string{}, []string{}
	for _, c := range cats {
		switch c.Type {
		case model.CategoryIncome:
			if !contains(income, c.Name) {
				income = append(income, c.Name)
			}
		case model.CategoryExpense:
			if !contains(expense, c.Name) {
				expense = append(expense, c.Name)
			}
		}
	}
	if !contains(income, model.DebtsCategory) {
		income = append(income, model.DebtsCategory)
	}
	if !contains(expense, model.DebtsCategory) {
		expense = append(expense, model.DebtsCategory)
	}
	return income, expense
}
