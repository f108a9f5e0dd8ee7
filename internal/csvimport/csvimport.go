// Package csvimport は CSV ファイルを取引の入力に変換する。
//
// 1行目はヘッダーで、列は名前で識別する（順不同、大文字小文字は区別しない）:
//
//	date, type, amount, currency, account, to_account, rate, category, note, tags
//
// date, type, amount は必須。account は口座 id か口座名で、空なら既定の口座を使う。
// tags は ";" 区切り。
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"fintrack/internal/model"
)

var nonNumeric = regexp.MustCompile(`[^\d,.\-]`)

// CleanAmount は "25 000", "1.234,56", "1,234.56", "12 500 сум" などの金額表記を decimal にする。
// "," と "." が両方ある場合は後ろにある方を小数点とみなす
func CleanAmount(s string) (decimal.Decimal, error) {
	clean := nonNumeric.ReplaceAllString(s, "")
	if clean == "" || clean == "-" {
		return decimal.Zero, fmt.Errorf("金額が不正です: %q", s)
	}
	comma, dot := strings.LastIndex(clean, ","), strings.LastIndex(clean, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		clean = strings.ReplaceAll(clean, ",", "")
	case comma >= 0:
		clean = strings.ReplaceAll(clean, ",", ".")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("金額が不正です: %q", s)
	}
	return d, nil
}

// Parse は CSV を読み、取引の入力を返す。
// accounts は account 列の口座名解決に使う。不正な行があれば全行分のエラーをまとめて返す
func Parse(r io.Reader, accounts []model.Account, defaultAccountID string) ([]model.TransactionInput, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("CSV 読み込みに失敗: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("データがありません")
	}

	cols := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, req := range []string{"date", "type", "amount"} {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("ヘッダーに %s 列がありません", req)
		}
	}

	resolve := accountResolver(accounts)
	var inputs []model.TransactionInput
	var problems []string
	for i, row := range records[1:] {
		line := i + 2
		get := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}

		in, err := parseRow(get, resolve, defaultAccountID)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%d行目: %v", line, err))
			continue
		}
		inputs = append(inputs, in)
	}
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "\n"))
	}
	return inputs, nil
}

func parseRow(get func(string) string, resolve func(string) string, defaultAccountID string) (model.TransactionInput, error) {
	in := model.TransactionInput{
		Type:     model.TransactionType(strings.ToUpper(get("type"))),
		Currency: model.Currency(strings.ToUpper(get("currency"))),
		Category: get("category"),
		Date:     get("date"),
		Note:     get("note"),
	}
	if !in.Type.Valid() {
		return in, fmt.Errorf("種別が不正です: %q", get("type"))
	}
	amount, err := CleanAmount(get("amount"))
	if err != nil {
		return in, err
	}
	in.Amount = amount.Abs()

	in.AccountID = defaultAccountID
	if a := get("account"); a != "" {
		in.AccountID = resolve(a)
	}
	if in.AccountID == "" {
		return in, errors.New("口座が指定されていません")
	}
	if to := get("to_account"); to != "" {
		in.ToAccountID = resolve(to)
	}
	if rate := get("rate"); rate != "" {
		r, err := CleanAmount(rate)
		if err != nil {
			return in, fmt.Errorf("レートが不正です: %q", rate)
		}
		in.ExchangeRate = &r
	}
	for _, tag := range strings.Split(get("tags"), ";") {
		if tag = strings.TrimSpace(tag); tag != "" {
			in.Tags = append(in.Tags, tag)
		}
	}
	return in, nil
}

// accountResolver は口座名を id に解決する。該当が無ければ id として扱う
func accountResolver(accounts []model.Account) func(string) string {
	byName := make(map[string]string, len(accounts))
	for _, a := range accounts {
		byName[strings.ToLower(a.Name)] = a.ID
	}
	return func(s string) string {
		if id, ok := byName[strings.ToLower(s)]; ok {
			return id
		}
		return s
	}
}
