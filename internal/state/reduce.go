package state

import (
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/model"
)

// Event はスナップショットに対する状態遷移
type Event interface {
	apply(s *Snapshot)
}

// Reduce は s に e を適用した新しいスナップショットを返す。s は変更しない
func Reduce(s *Snapshot, e Event) *Snapshot {
	if s == nil {
		s = Empty()
	}
	next := *s
	e.apply(&next)
	return &next
}

// Loaded は全件取得の結果でスナップショットを置き換える
type Loaded struct {
	Next *Snapshot
}

func (e Loaded) apply(s *Snapshot) {
	if e.Next == nil {
		return
	}
	*s = *e.Next
}

// Cleared はテーマと言語を残して空にする
type Cleared struct{}

func (Cleared) apply(s *Snapshot) {
	*s = *emptyWith(s.Theme, s.Language)
}

// TransactionRecorded は取引を先頭に追加し口座残高を調整する
type TransactionRecorded struct {
	Tx model.Transaction
}

func (e TransactionRecorded) apply(s *Snapshot) {
	s.Transactions = prepend(s.Transactions, e.Tx)
	s.Accounts = applyBalances(s.Accounts, BalanceDeltas(e.Tx))
}

// BalanceDeltas は取引が口座残高に与える変化を返す。
// 振替でレートが無いか 0 の場合、入金側は amount をそのまま受け取る
func BalanceDeltas(tx model.Transaction) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal, 2)
	add := func(id string, d decimal.Decimal) {
		if id == "" {
			return
		}
		deltas[id] = deltas[id].Add(d)
	}
	switch tx.Type {
	case model.TxIncome:
		add(tx.AccountID, tx.Amount)
	case model.TxExpense:
		add(tx.AccountID, tx.Amount.Neg())
	case model.TxTransfer:
		add(tx.AccountID, tx.Amount.Neg())
		credit := tx.Amount
		if tx.ExchangeRate != nil && !tx.ExchangeRate.IsZero() {
			credit = tx.Amount.Mul(*tx.ExchangeRate)
		}
		add(tx.ToAccountID, credit)
	}
	return deltas
}

func applyBalances(accounts []model.Account, deltas map[string]decimal.Decimal) []model.Account {
	out := make([]model.Account, len(accounts))
	for i, a := range accounts {
		if d, ok := deltas[a.ID]; ok {
			a.Balance = a.Balance.Add(d)
		}
		out[i] = a
	}
	return out
}

type AccountAdded struct {
	Account model.Account
}

func (e AccountAdded) apply(s *Snapshot) {
	s.Accounts = appendCopy(s.Accounts, e.Account)
}

type AccountDeleted struct {
	ID string
}

func (e AccountDeleted) apply(s *Snapshot) {
	s.Accounts = removeWhere(s.Accounts, func(a model.Account) bool { return a.ID == e.ID })
}

// BudgetAdded は予算を追加する。同じ (category, currency) があれば何もしない
type BudgetAdded struct {
	Budget model.Budget
}

func (e BudgetAdded) apply(s *Snapshot) {
	if s.HasBudget(e.Budget.Category, e.Budget.Currency) {
		return
	}
	s.Budgets = appendCopy(s.Budgets, e.Budget)
}

type BudgetDeleted struct {
	ID string
}

func (e BudgetDeleted) apply(s *Snapshot) {
	s.Budgets = removeWhere(s.Budgets, func(b model.Budget) bool { return b.ID == e.ID })
}

type DebtAdded struct {
	Debt model.Debt
	// Companion は資金口座付きで登録したときの取引
	Companion *model.Transaction
}

func (e DebtAdded) apply(s *Snapshot) {
	if e.Companion != nil {
		TransactionRecorded{Tx: *e.Companion}.apply(s)
	}
	s.Debts = appendCopy(s.Debts, e.Debt)
}

type DebtDeleted struct {
	ID string
}

func (e DebtDeleted) apply(s *Snapshot) {
	s.Debts = removeWhere(s.Debts, func(d model.Debt) bool { return d.ID == e.ID })
}

// DebtToggled は isPaid を反転する。Companion があれば先に記録する
type DebtToggled struct {
	ID        string
	Companion *model.Transaction
}

func (e DebtToggled) apply(s *Snapshot) {
	if e.Companion != nil {
		TransactionRecorded{Tx: *e.Companion}.apply(s)
	}
	out := make([]model.Debt, len(s.Debts))
	for i, d := range s.Debts {
		if d.ID == e.ID {
			d.IsPaid = !d.IsPaid
		}
		out[i] = d
	}
	s.Debts = out
}

type SubscriptionAdded struct {
	Subscription model.Subscription
}

func (e SubscriptionAdded) apply(s *Snapshot) {
	s.Subscriptions = appendCopy(s.Subscriptions, e.Subscription)
}

type SubscriptionDeleted struct {
	ID string
}

func (e SubscriptionDeleted) apply(s *Snapshot) {
	s.Subscriptions = removeWhere(s.Subscriptions, func(sub model.Subscription) bool { return sub.ID == e.ID })
	if s.PendingSubscription != nil && s.PendingSubscription.ID == e.ID {
		s.PendingSubscription = nil
	}
}

// SubscriptionStamped は lastPaid を更新する。Companion は支払いを記録したときの取引
type SubscriptionStamped struct {
	ID        string
	At        time.Time
	Companion *model.Transaction
}

func (e SubscriptionStamped) apply(s *Snapshot) {
	if e.Companion != nil {
		TransactionRecorded{Tx: *e.Companion}.apply(s)
	}
	out := make([]model.Subscription, len(s.Subscriptions))
	for i, sub := range s.Subscriptions {
		if sub.ID == e.ID {
			at := e.At
			sub.LastPaid = &at
		}
		out[i] = sub
	}
	s.Subscriptions = out
	if s.PendingSubscription != nil && s.PendingSubscription.ID == e.ID {
		s.PendingSubscription = nil
	}
}

// CategoryAdded はカテゴリを追加する。既にあれば何もしない
type CategoryAdded struct {
	Category model.Category
}

func (e CategoryAdded) apply(s *Snapshot) {
	if s.HasCategory(e.Category) {
		return
	}
	switch e.Category.Type {
	case model.CategoryIncome:
		s.IncomeCategories = appendCopy(s.IncomeCategories, e.Category.Name)
	case model.CategoryExpense:
		s.ExpenseCategories = appendCopy(s.ExpenseCategories, e.Category.Name)
	}
}

type CategoryDeleted struct {
	Category model.Category
}

func (e CategoryDeleted) apply(s *Snapshot) {
	match := func(n string) bool { return n == e.Category.Name }
	switch e.Category.Type {
	case model.CategoryIncome:
		s.IncomeCategories = removeWhere(s.IncomeCategories, match)
	case model.CategoryExpense:
		s.ExpenseCategories = removeWhere(s.ExpenseCategories, match)
	}
}

type PendingSubscriptionSet struct {
	Subscription *model.Subscription
}

func (e PendingSubscriptionSet) apply(s *Snapshot) {
	if e.Subscription == nil {
		s.PendingSubscription = nil
		return
	}
	sub := *e.Subscription
	s.PendingSubscription = &sub
}

type ThemeSet struct {
	Theme model.Theme
}

func (e ThemeSet) apply(s *Snapshot) { s.Theme = e.Theme }

type LanguageSet struct {
	Language model.Language
}

func (e LanguageSet) apply(s *Snapshot) { s.Language = e.Language }

func prepend[T any](list []T, v T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, v)
	return append(out, list...)
}

func appendCopy[T any](list []T, v T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, list...)
	return append(out, v)
}

func removeWhere[T any](list []T, match func(T) bool) []T {
	out := make([]T, 0, len(list))
	for _, v := range list {
		if !match(v) {
			out = append(out, v)
		}
	}
	return out
}
