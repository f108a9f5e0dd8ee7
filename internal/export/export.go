// Package export はスナップショットを XLSX ファイルと Google スプレッドシートに書き出す。
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"fintrack/internal/model"
	"fintrack/internal/state"
)

// TransactionsSheet はバックアップ先のシート名
const TransactionsSheet = "transactions"

// table は1シート分のデータ
type table struct {
	name   string
	header []any
	rows   [][]any
}

func accountNames(snap *state.Snapshot) map[string]string {
	names := make(map[string]string, len(snap.Accounts))
	for _, a := range snap.Accounts {
		names[a.ID] = a.Name
	}
	return names
}

// nameOr は口座名を返す。削除済みの口座は id のまま
func nameOr(names map[string]string, id string) string {
	if n, ok := names[id]; ok {
		return n
	}
	return id
}

func transactionsTable(snap *state.Snapshot) table {
	names := accountNames(snap)
	t := table{
		name:   TransactionsSheet,
		header: []any{"id", "date", "type", "amount", "currency", "account", "to_account", "exchange_rate", "category", "note", "tags", "created_at"},
	}
	for _, tx := range snap.Transactions {
		var to, rate any = "", ""
		if tx.ToAccountID != "" {
			to = nameOr(names, tx.ToAccountID)
		}
		if tx.ExchangeRate != nil {
			rate = tx.ExchangeRate.InexactFloat64()
		}
		t.rows = append(t.rows, []any{
			tx.ID,
			tx.Date,
			string(tx.Type),
			tx.Amount.InexactFloat64(),
			string(tx.Currency),
			nameOr(names, tx.AccountID),
			to,
			rate,
			tx.Category,
			tx.Note,
			strings.Join(tx.Tags, ", "),
			tx.CreatedAt,
		})
	}
	return t
}

func accountsTable(snap *state.Snapshot) table {
	t := table{name: "accounts", header: []any{"id", "name", "type", "currency", "balance"}}
	for _, a := range snap.Accounts {
		t.rows = append(t.rows, []any{a.ID, a.Name, string(a.Type), string(a.Currency), a.Balance.InexactFloat64()})
	}
	return t
}

func debtsTable(snap *state.Snapshot) table {
	t := table{name: "debts", header: []any{"id", "type", "person", "amount", "currency", "due_date", "note", "paid"}}
	for _, d := range snap.Debts {
		t.rows = append(t.rows, []any{d.ID, string(d.Type), d.PersonName, d.Amount.InexactFloat64(), string(d.Currency), d.DueDate, d.Note, d.IsPaid})
	}
	return t
}

func subscriptionsTable(snap *state.Snapshot) table {
	t := table{name: "subscriptions", header: []any{"id", "name", "amount", "currency", "period", "category", "payment_day", "last_paid"}}
	for _, s := range snap.Subscriptions {
		lastPaid := ""
		if s.LastPaid != nil {
			lastPaid = s.LastPaid.Format(model.DateLayout)
		}
		t.rows = append(t.rows, []any{s.ID, s.Name, s.Amount.InexactFloat64(), string(s.Currency), string(s.Period), s.Category, s.PaymentDay, lastPaid})
	}
	return t
}

// WriteXLSX はスナップショットを4シート（取引・口座・借金・サブスクリプション）の XLSX にして w に書く
func WriteXLSX(w io.Writer, snap *state.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("スタイルの作成に失敗: %w", err)
	}

	tables := []table{transactionsTable(snap), accountsTable(snap), debtsTable(snap), subscriptionsTable(snap)}
	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.name); err != nil {
				return fmt.Errorf("シート名の変更に失敗: %w", err)
			}
		} else if _, err := f.NewSheet(t.name); err != nil {
			return fmt.Errorf("シート %q の作成に失敗: %w", t.name, err)
		}
		if err := writeTable(f, t, bold); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("XLSX の書き出しに失敗: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, t table, headerStyle int) error {
	rows := append([][]any{t.header}, t.rows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.name, cell, &row); err != nil {
			return fmt.Errorf("シート %q の %d 行目の書き込みに失敗: %w", t.name, i+1, err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(t.header), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(t.name, "A1", last, headerStyle)
}

// SheetWriter はスプレッドシートの書き込み先
type SheetWriter interface {
	ClearSheet(ctx context.Context, sheetName string) error
	WriteRows(ctx context.Context, sheetName string, rows [][]any) error
}

// SyncSheets は取引シートをスナップショットの内容で全件洗い替えし、書き込んだ取引の件数を返す
func SyncSheets(ctx context.Context, w SheetWriter, snap *state.Snapshot) (int, error) {
	t := transactionsTable(snap)
	if err := w.ClearSheet(ctx, t.name); err != nil {
		return 0, fmt.Errorf("sheet clear failed: %w", err)
	}
	rows := append([][]any{t.header}, t.rows...)
	if err := w.WriteRows(ctx, t.name, rows); err != nil {
		return 0, fmt.Errorf("sheet write failed: %w", err)
	}
	return len(t.rows), nil
}
