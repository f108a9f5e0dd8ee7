package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency は通貨コード
type Currency string

const (
	CurrencyUZS Currency = "UZS"
	CurrencyUSD Currency = "USD"
	CurrencyRUB Currency = "RUB"
)

// Currencies は表示順の通貨一覧
var Currencies = []Currency{CurrencyUZS, CurrencyUSD, CurrencyRUB}

func (c Currency) Valid() bool {
	return c == CurrencyUZS || c == CurrencyUSD || c == CurrencyRUB
}

// AccountType は口座種別
type AccountType string

const (
	AccountCash AccountType = "CASH"
	AccountCard AccountType = "CARD"
)

func (t AccountType) Valid() bool {
	return t == AccountCash || t == AccountCard
}

// TransactionType は取引種別
type TransactionType string

const (
	TxIncome   TransactionType = "INCOME"
	TxExpense  TransactionType = "EXPENSE"
	TxTransfer TransactionType = "TRANSFER"
)

func (t TransactionType) Valid() bool {
	return t == TxIncome || t == TxExpense || t == TxTransfer
}

// DebtType は借金の向き
type DebtType string

const (
	DebtIOwe     DebtType = "I_OWE"      // 自分が借りている
	DebtOwedToMe DebtType = "OWED_TO_ME" // 自分が貸している
)

func (t DebtType) Valid() bool {
	return t == DebtIOwe || t == DebtOwedToMe
}

// Period はサブスクリプションの請求周期
type Period string

const (
	PeriodMonthly Period = "MONTHLY"
	PeriodYearly  Period = "YEARLY"
)

func (p Period) Valid() bool {
	return p == PeriodMonthly || p == PeriodYearly
}

// CategoryType はカテゴリの収支区分
type CategoryType string

const (
	CategoryIncome  CategoryType = "INCOME"
	CategoryExpense CategoryType = "EXPENSE"
)

func (t CategoryType) Valid() bool {
	return t == CategoryIncome || t == CategoryExpense
}

// Theme は表示テーマ
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Language は表示言語
type Language string

const (
	LanguageRU Language = "ru"
	LanguageUZ Language = "uz"
)

func (l Language) Valid() bool {
	return l == LanguageRU || l == LanguageUZ
}

const (
	// DebtsCategory は収入・支出の両方に常に存在するカテゴリ
	DebtsCategory = "Долги"
	// TransferCategory は振替取引のカテゴリ
	TransferCategory = "Перевод"
	// DefaultExpenseCategory はカテゴリ未設定のサブスクリプション支払に使う
	DefaultExpenseCategory = "Еда"
	// UnknownPerson は相手名が取得できない借金の表示名
	UnknownPerson = "Неизвестный"
)

// DateLayout は取引日付の形式
const DateLayout = "2006-01-02"

// Account は口座。Balance は取引のたびに更新される累積残高
type Account struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     AccountType     `json:"type"`
	Currency Currency        `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// AccountInput は口座登録のリクエスト
type AccountInput struct {
	Name     string          `json:"name"`
	Type     AccountType     `json:"type"`
	Currency Currency        `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// Transaction は取引。作成後は変更されない
type Transaction struct {
	ID           string           `json:"id"`
	Type         TransactionType  `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     Currency         `json:"currency"`
	AccountID    string           `json:"accountId"`
	ToAccountID  string           `json:"toAccountId,omitempty"`  // TRANSFER のみ
	ExchangeRate *decimal.Decimal `json:"exchangeRate,omitempty"` // TRANSFER のみ
	Category     string           `json:"category"`
	Date         string           `json:"date"` // "YYYY-MM-DD"
	Note         string           `json:"note,omitempty"`
	Tags         []string         `json:"tags"`
	CreatedAt    string           `json:"createdAt,omitempty"`
}

// TransactionInput は取引登録のリクエスト
type TransactionInput struct {
	Type         TransactionType  `json:"type"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     Currency         `json:"currency"`
	AccountID    string           `json:"accountId"`
	ToAccountID  string           `json:"toAccountId,omitempty"`
	ExchangeRate *decimal.Decimal `json:"exchangeRate,omitempty"`
	Category     string           `json:"category"`
	Date         string           `json:"date"`
	Note         string           `json:"note,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
}

// Debt は貸し借りの記録
type Debt struct {
	ID         string          `json:"id"`
	Type       DebtType        `json:"type"`
	PersonName string          `json:"personName"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	DueDate    string          `json:"dueDate,omitempty"`
	Note       string          `json:"note,omitempty"`
	IsPaid     bool            `json:"isPaid"`
}

// DebtInput は借金登録のリクエスト
type DebtInput struct {
	Type       DebtType        `json:"type"`
	PersonName string          `json:"personName"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	DueDate    string          `json:"dueDate,omitempty"`
	Note       string          `json:"note,omitempty"`
	IsPaid     bool            `json:"isPaid"`
}

// Budget はカテゴリ×通貨ごとの予算
type Budget struct {
	ID       string          `json:"id"`
	Category string          `json:"category"`
	Limit    decimal.Decimal `json:"limit"`
	Currency Currency        `json:"currency"`
}

// BudgetInput は予算登録のリクエスト
type BudgetInput struct {
	Category string          `json:"category"`
	Limit    decimal.Decimal `json:"limit"`
	Currency Currency        `json:"currency"`
}

// Subscription は定期支払い。LastPaid は直近の精算日時
type Subscription struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	Period     Period          `json:"period"`
	Category   string          `json:"category"`
	PaymentDay int             `json:"paymentDay"` // 1-31
	LastPaid   *time.Time      `json:"lastPaid,omitempty"`
}

// SubscriptionInput はサブスクリプション登録のリクエスト
type SubscriptionInput struct {
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	Period     Period          `json:"period"`
	Category   string          `json:"category"`
	PaymentDay int             `json:"paymentDay"`
}

// Category はカテゴリ。(Type, Name) で一意
type Category struct {
	Type CategoryType `json:"type"`
	Name string       `json:"name"`
}

// Settings はユーザー設定
type Settings struct {
	Theme    Theme    `json:"theme"`
	Language Language `json:"language"`
}

// DefaultSettings は設定レコードが無いときの値
func DefaultSettings() Settings {
	return Settings{Theme: ThemeLight, Language: LanguageRU}
}

// User は認証ユーザー
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	SessionEpoch int    `json:"-"` // サインアウトのたびに加算し、発行済みトークンを失効させる
	CreatedAt    string `json:"createdAt"`
}

// CurrencyTotal は通貨別の残高合計
type CurrencyTotal struct {
	Currency Currency        `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

// BudgetUsage は予算の消化状況
type BudgetUsage struct {
	Budget  Budget          `json:"budget"`
	Spent   decimal.Decimal `json:"spent"`
	Percent float64         `json:"percent"` // 0-100 に丸める
}

// CategorySummary はカテゴリ別集計
type CategorySummary struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Count    int             `json:"count"`
}

// MonthlySummary は月別の収支集計
type MonthlySummary struct {
	Month         string            `json:"month"`
	Currency      Currency          `json:"currency"`
	Income        decimal.Decimal   `json:"income"`
	Expense       decimal.Decimal   `json:"expense"`
	Net           decimal.Decimal   `json:"net"`
	SavingsRate   float64           `json:"savingsRate"`
	ExpenseChange float64           `json:"expenseChange"` // 前月比（%）
	ByCategory    []CategorySummary `json:"byCategory"`
}

// APIResponse はアクション実行結果
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ActionRequest はアクション実行リクエスト
type ActionRequest struct {
	Action       string             `json:"action"`
	ID           string             `json:"id,omitempty"`
	AccountID    string             `json:"accountId,omitempty"` // 借金精算・サブスク支払いの資金口座
	Month        string             `json:"month,omitempty"`
	Currency     Currency           `json:"currency,omitempty"`
	Theme        Theme              `json:"theme,omitempty"`
	Language     Language           `json:"language,omitempty"`
	Transaction  *TransactionInput  `json:"transaction,omitempty"`
	Account      *AccountInput      `json:"account,omitempty"`
	Debt         *DebtInput         `json:"debt,omitempty"`
	Budget       *BudgetInput       `json:"budget,omitempty"`
	Subscription *SubscriptionInput `json:"subscription,omitempty"`
	Category     *Category          `json:"category,omitempty"`
}
