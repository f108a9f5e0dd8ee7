package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/model"
	"fintrack/internal/remote"
)

// DecodeError はリモート行をドメイン型に変換できなかったことを示す
type DecodeError struct {
	Collection remote.Collection
	ID         string
	Field      string
	Reason     string
}

func (e *DecodeError) Error() string {
	id := e.ID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("%s/%s: %s: %s", e.Collection, id, e.Field, e.Reason)
}

// DecodeErrors は取得時にスキップした不正行のエラー一覧
type DecodeErrors []*DecodeError

func (e DecodeErrors) Error() string {
	msgs := make([]string, len(e))
	for i, de := range e {
		msgs[i] = de.Error()
	}
	return fmt.Sprintf("%d 件の行を変換できません: %s", len(e), strings.Join(msgs, "; "))
}

// rowReader は最初のエラーだけを保持しながら列を読む
type rowReader struct {
	c   remote.Collection
	row remote.Row
	err *DecodeError
}

func newReader(c remote.Collection, row remote.Row) *rowReader {
	return &rowReader{c: c, row: row}
}

func (r *rowReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &DecodeError{Collection: r.c, ID: r.row.ID(), Field: field, Reason: reason}
	}
}

func (r *rowReader) result() error {
	if r.err != nil {
		return r.err
	}
	return nil
}

func (r *rowReader) str(field string, required bool) string {
	v, ok := r.row[field]
	if !ok || v == nil {
		if required {
			r.fail(field, "必須です")
		}
		return ""
	}
	switch s := v.(type) {
	case string:
		if required && s == "" {
			r.fail(field, "必須です")
		}
		return s
	case []byte:
		return string(s)
	default:
		r.fail(field, fmt.Sprintf("文字列ではありません (%T)", v))
		return ""
	}
}

// firstStr は候補の列を順に見て最初に値がある文字列を返す
func (r *rowReader) firstStr(fields ...string) string {
	for _, f := range fields {
		if s := r.str(f, false); s != "" {
			return s
		}
	}
	return ""
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case string:
		return decimal.NewFromString(n)
	case []byte:
		return decimal.NewFromString(string(n))
	case json.Number:
		return decimal.NewFromString(n.String())
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, fmt.Errorf("非数値 %v", n)
		}
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case bool, map[string]any, []any:
		return decimal.Zero, fmt.Errorf("数値ではありません (%T)", v)
	default:
		return decimal.NewFromString(fmt.Sprint(v))
	}
}

func (r *rowReader) decimal(field string, required bool) decimal.Decimal {
	v, ok := r.row[field]
	if !ok || v == nil {
		if required {
			r.fail(field, "必須です")
		}
		return decimal.Zero
	}
	d, err := toDecimal(v)
	if err != nil {
		r.fail(field, err.Error())
		return decimal.Zero
	}
	return d
}

func (r *rowReader) positive(field string) decimal.Decimal {
	d := r.decimal(field, true)
	if r.err == nil && !d.IsPositive() {
		r.fail(field, "正の数ではありません")
	}
	return d
}

func (r *rowReader) optDecimal(field string) *decimal.Decimal {
	v, ok := r.row[field]
	if !ok || v == nil {
		return nil
	}
	d, err := toDecimal(v)
	if err != nil {
		r.fail(field, err.Error())
		return nil
	}
	return &d
}

func (r *rowReader) integer(field string, def int) int {
	v, ok := r.row[field]
	if !ok || v == nil {
		return def
	}
	d, err := toDecimal(v)
	if err != nil || !d.Equal(d.Truncate(0)) {
		r.fail(field, "整数ではありません")
		return def
	}
	n := int(d.IntPart())
	if n == 0 {
		// 0 は未設定扱い
		return def
	}
	return n
}

func (r *rowReader) boolean(field string) bool {
	v, ok := r.row[field]
	if !ok || v == nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			r.fail(field, "真偽値ではありません")
		}
		return parsed
	default:
		r.fail(field, fmt.Sprintf("真偽値ではありません (%T)", v))
		return false
	}
}

func (r *rowReader) strings(field string) []string {
	v, ok := r.row[field]
	if !ok || v == nil {
		return []string{}
	}
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				r.fail(field, "文字列の配列ではありません")
				return []string{}
			}
			out = append(out, s)
		}
		return out
	default:
		r.fail(field, fmt.Sprintf("配列ではありません (%T)", v))
		return []string{}
	}
}

func (r *rowReader) date(field string, required bool) string {
	s := r.str(field, required)
	if s == "" || r.err != nil {
		return s
	}
	if _, err := time.Parse(model.DateLayout, s); err != nil {
		r.fail(field, "日付 (YYYY-MM-DD) ではありません")
	}
	return s
}

// timestampLayouts は受け付ける日時の形式。日付だけの値は UTC の0時とみなす
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	model.DateLayout,
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (r *rowReader) timestamp(field string) *time.Time {
	v, ok := r.row[field]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		if t == "" {
			return nil
		}
		parsed, ok := parseTimestamp(t)
		if !ok {
			r.fail(field, "日時ではありません")
			return nil
		}
		return &parsed
	default:
		r.fail(field, fmt.Sprintf("日時ではありません (%T)", v))
		return nil
	}
}

// DecodeAccount は accounts 行を変換する
func DecodeAccount(row remote.Row) (model.Account, error) {
	r := newReader(remote.Accounts, row)
	a := model.Account{
		ID:       r.str("id", true),
		Name:     r.str("name", true),
		Type:     model.AccountType(r.str("type", true)),
		Currency: model.Currency(r.str("currency", true)),
		Balance:  r.decimal("balance", false),
	}
	if r.err == nil && !a.Type.Valid() {
		r.fail("type", "不明な口座種別")
	}
	if r.err == nil && !a.Currency.Valid() {
		r.fail("currency", "不明な通貨")
	}
	return a, r.result()
}

// DecodeTransaction は transactions 行を変換する
func DecodeTransaction(row remote.Row) (model.Transaction, error) {
	r := newReader(remote.Transactions, row)
	tx := model.Transaction{
		ID:           r.str("id", true),
		Type:         model.TransactionType(r.str("type", true)),
		Amount:       r.positive("amount"),
		Currency:     model.Currency(r.str("currency", true)),
		AccountID:    r.str("account_id", true),
		ToAccountID:  r.str("to_account_id", false),
		ExchangeRate: r.optDecimal("exchange_rate"),
		Category:     r.str("category", false),
		Date:         r.date("date", true),
		Note:         r.str("note", false),
		Tags:         r.strings("tags"),
		CreatedAt:    r.str("created_at", false),
	}
	if r.err == nil && !tx.Type.Valid() {
		r.fail("type", "不明な取引種別")
	}
	if r.err == nil && !tx.Currency.Valid() {
		r.fail("currency", "不明な通貨")
	}
	if r.err == nil && tx.ExchangeRate != nil && tx.ExchangeRate.IsNegative() {
		r.fail("exchange_rate", "負のレート")
	}
	return tx, r.result()
}

// DecodeDebt は debts 行を変換する
func DecodeDebt(row remote.Row) (model.Debt, error) {
	r := newReader(remote.Debts, row)
	d := model.Debt{
		ID:         r.str("id", true),
		Type:       model.DebtType(r.str("type", true)),
		PersonName: r.firstStr("person_name", "personName"),
		Amount:     r.positive("amount"),
		Currency:   model.Currency(r.str("currency", true)),
		DueDate:    r.str("due_date", false),
		Note:       r.str("note", false),
		IsPaid:     r.boolean("is_paid"),
	}
	if d.PersonName == "" {
		d.PersonName = model.UnknownPerson
	}
	if r.err == nil && !d.Type.Valid() {
		r.fail("type", "不明な借金種別")
	}
	if r.err == nil && !d.Currency.Valid() {
		r.fail("currency", "不明な通貨")
	}
	return d, r.result()
}

// DecodeBudget は budgets 行を変換する
func DecodeBudget(row remote.Row) (model.Budget, error) {
	r := newReader(remote.Budgets, row)
	b := model.Budget{
		ID:       r.str("id", true),
		Category: r.str("category", true),
		Limit:    r.positive("limit_amount"),
		Currency: model.Currency(r.str("currency", true)),
	}
	if r.err == nil && !b.Currency.Valid() {
		r.fail("currency", "不明な通貨")
	}
	return b, r.result()
}

// DecodeSubscription は subscriptions 行を変換する
func DecodeSubscription(row remote.Row) (model.Subscription, error) {
	r := newReader(remote.Subscriptions, row)
	s := model.Subscription{
		ID:         r.str("id", true),
		Name:       r.str("name", true),
		Amount:     r.positive("amount"),
		Currency:   model.Currency(r.str("currency", true)),
		Period:     model.Period(r.str("period", true)),
		Category:   r.str("category", false),
		PaymentDay: r.integer("payment_day", 1),
		LastPaid:   r.timestamp("last_paid"),
	}
	if r.err == nil && !s.Currency.Valid() {
		r.fail("currency", "不明な通貨")
	}
	if r.err == nil && !s.Period.Valid() {
		r.fail("period", "不明な周期")
	}
	if r.err == nil && (s.PaymentDay < 1 || s.PaymentDay > 31) {
		r.fail("payment_day", "1-31 の範囲外")
	}
	return s, r.result()
}

// DecodeCategory は categories 行を変換する
func DecodeCategory(row remote.Row) (model.Category, error) {
	r := newReader(remote.Categories, row)
	c := model.Category{
		Type: model.CategoryType(r.str("type", true)),
		Name: r.str("name", true),
	}
	if r.err == nil && !c.Type.Valid() {
		r.fail("type", "不明なカテゴリ区分")
	}
	return c, r.result()
}

// DecodeSettings は user_settings 行を変換する（未設定の項目は既定値）
func DecodeSettings(row remote.Row) (model.Settings, error) {
	r := newReader(remote.UserSettings, row)
	s := model.DefaultSettings()
	if theme := model.Theme(r.str("theme", false)); theme != "" {
		s.Theme = theme
	}
	if lang := model.Language(r.str("language", false)); lang != "" {
		s.Language = lang
	}
	if r.err == nil && !s.Theme.Valid() {
		r.fail("theme", "不明なテーマ")
	}
	if r.err == nil && !s.Language.Valid() {
		r.fail("language", "不明な言語")
	}
	return s, r.result()
}

func encodeAccount(in *model.AccountInput) remote.Row {
	return remote.Row{
		"name":     in.Name,
		"type":     string(in.Type),
		"currency": string(in.Currency),
		"balance":  in.Balance.String(),
	}
}

func encodeTransaction(in *model.TransactionInput) remote.Row {
	row := remote.Row{
		"type":       string(in.Type),
		"amount":     in.Amount.String(),
		"currency":   string(in.Currency),
		"account_id": in.AccountID,
		"category":   in.Category,
		"date":       in.Date,
		"tags":       append([]string{}, in.Tags...),
	}
	if in.ToAccountID != "" {
		row["to_account_id"] = in.ToAccountID
	}
	if in.ExchangeRate != nil {
		row["exchange_rate"] = in.ExchangeRate.String()
	}
	if in.Note != "" {
		row["note"] = in.Note
	}
	return row
}

func encodeDebt(in *model.DebtInput) remote.Row {
	row := remote.Row{
		"type":        string(in.Type),
		"person_name": in.PersonName,
		"amount":      in.Amount.String(),
		"currency":    string(in.Currency),
		"is_paid":     in.IsPaid,
	}
	if in.DueDate != "" {
		row["due_date"] = in.DueDate
	}
	if in.Note != "" {
		row["note"] = in.Note
	}
	return row
}

func encodeBudget(in *model.BudgetInput) remote.Row {
	return remote.Row{
		"category":     in.Category,
		"limit_amount": in.Limit.String(),
		"currency":     string(in.Currency),
	}
}

func encodeSubscription(in *model.SubscriptionInput) remote.Row {
	return remote.Row{
		"name":        in.Name,
		"amount":      in.Amount.String(),
		"currency":    string(in.Currency),
		"period":      string(in.Period),
		"category":    in.Category,
		"payment_day": in.PaymentDay,
	}
}

func encodeCategory(c model.Category) remote.Row {
	return remote.Row{
		"type": string(c.Type),
		"name": c.Name,
	}
}

func encodeSettings(s model.Settings) remote.Row {
	return remote.Row{
		"theme":    string(s.Theme),
		"language": string(s.Language),
	}
}
