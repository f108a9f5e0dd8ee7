// Package gateway は remote.Store の行をドメイン型に変換する境界アダプタ。
// 型付けされていない行はこのパッケージの外に出さない。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/model"
	"fintrack/internal/remote"
)

// PartialError は非アトミックな書き込み列が途中で失敗したことを示す。
// Applied は成功した書き込みの件数
type PartialError struct {
	Applied int
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d 件目の書き込みに失敗: %v", e.Applied+1, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Gateway は型付きのリモート読み書きを提供する
type Gateway struct {
	rs remote.Store
}

// New は Gateway を生成する
func New(rs remote.Store) *Gateway {
	return &Gateway{rs: rs}
}

// Atomic はストアが複数書き込みを1トランザクションで適用できるかを返す
func (g *Gateway) Atomic() bool {
	_, ok := g.rs.(remote.Batcher)
	return ok
}

// Changes は変更通知を購読する
func (g *Gateway) Changes(ctx context.Context) (<-chan remote.Change, error) {
	return g.rs.Subscribe(ctx)
}

// fetch は全行を取得して変換する。不正な行はスキップし DecodeErrors として返す
func fetch[T any](ctx context.Context, rs remote.Store, c remote.Collection, decode func(remote.Row) (T, error)) ([]T, error) {
	rows, err := rs.FetchAll(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%s の取得に失敗: %w", c, err)
	}
	out := make([]T, 0, len(rows))
	var bad DecodeErrors
	for _, row := range rows {
		v, err := decode(row)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				bad = append(bad, de)
				continue
			}
			return nil, err
		}
		out = append(out, v)
	}
	if len(bad) > 0 {
		return out, bad
	}
	return out, nil
}

func (g *Gateway) Accounts(ctx context.Context) ([]model.Account, error) {
	return fetch(ctx, g.rs, remote.Accounts, DecodeAccount)
}

// Transactions は取引を date 降順、created_at 降順で返す
func (g *Gateway) Transactions(ctx context.Context) ([]model.Transaction, error) {
	txs, err := fetch(ctx, g.rs, remote.Transactions, DecodeTransaction)
	SortTransactions(txs)
	return txs, err
}

func (g *Gateway) Debts(ctx context.Context) ([]model.Debt, error) {
	return fetch(ctx, g.rs, remote.Debts, DecodeDebt)
}

func (g *Gateway) Budgets(ctx context.Context) ([]model.Budget, error) {
	return fetch(ctx, g.rs, remote.Budgets, DecodeBudget)
}

func (g *Gateway) Subscriptions(ctx context.Context) ([]model.Subscription, error) {
	return fetch(ctx, g.rs, remote.Subscriptions, DecodeSubscription)
}

func (g *Gateway) Categories(ctx context.Context) ([]model.Category, error) {
	return fetch(ctx, g.rs, remote.Categories, DecodeCategory)
}

// Settings は最初の設定行を返す。行が無ければ既定値
func (g *Gateway) Settings(ctx context.Context) (model.Settings, error) {
	rows, err := g.rs.FetchAll(ctx, remote.UserSettings)
	if err != nil {
		return model.DefaultSettings(), fmt.Errorf("user_settings の取得に失敗: %w", err)
	}
	if len(rows) == 0 {
		return model.DefaultSettings(), nil
	}
	s, err := DecodeSettings(rows[0])
	if err != nil {
		return model.DefaultSettings(), DecodeErrors{err.(*DecodeError)}
	}
	return s, nil
}

// SortTransactions は date 降順、created_at 降順に安定ソートする
func SortTransactions(txs []model.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Date != txs[j].Date {
			return txs[i].Date > txs[j].Date
		}
		return txs[i].CreatedAt > txs[j].CreatedAt
	})
}

func (g *Gateway) InsertAccount(ctx context.Context, in *model.AccountInput) (model.Account, error) {
	row, err := g.rs.Insert(ctx, remote.Accounts, encodeAccount(in))
	if err != nil {
		return model.Account{}, fmt.Errorf("口座の登録に失敗: %w", err)
	}
	return DecodeAccount(row)
}

func (g *Gateway) InsertBudget(ctx context.Context, in *model.BudgetInput) (model.Budget, error) {
	row, err := g.rs.Insert(ctx, remote.Budgets, encodeBudget(in))
	if err != nil {
		return model.Budget{}, fmt.Errorf("予算の登録に失敗: %w", err)
	}
	return DecodeBudget(row)
}

func (g *Gateway) InsertSubscription(ctx context.Context, in *model.SubscriptionInput) (model.Subscription, error) {
	row, err := g.rs.Insert(ctx, remote.Subscriptions, encodeSubscription(in))
	if err != nil {
		return model.Subscription{}, fmt.Errorf("サブスクリプションの登録に失敗: %w", err)
	}
	return DecodeSubscription(row)
}

func (g *Gateway) InsertCategory(ctx context.Context, c model.Category) error {
	if _, err := g.rs.Insert(ctx, remote.Categories, encodeCategory(c)); err != nil {
		return fmt.Errorf("カテゴリの登録に失敗: %w", err)
	}
	return nil
}

// Delete は id の行を削除する
func (g *Gateway) Delete(ctx context.Context, c remote.Collection, id string) error {
	if err := g.rs.Delete(ctx, c, id); err != nil {
		return fmt.Errorf("%s/%s の削除に失敗: %w", c, id, err)
	}
	return nil
}

// DeleteCategory は (type, name) が一致するカテゴリ行をすべて削除する
func (g *Gateway) DeleteCategory(ctx context.Context, c model.Category) error {
	rows, err := g.rs.FetchAll(ctx, remote.Categories)
	if err != nil {
		return fmt.Errorf("カテゴリの取得に失敗: %w", err)
	}
	for _, row := range rows {
		got, err := DecodeCategory(row)
		if err != nil || got != c {
			continue
		}
		if err := g.rs.Delete(ctx, remote.Categories, row.ID()); err != nil {
			return fmt.Errorf("カテゴリの削除に失敗: %w", err)
		}
	}
	return nil
}

// SaveSettings は設定行があれば更新し、無ければ作成する
func (g *Gateway) SaveSettings(ctx context.Context, s model.Settings) error {
	rows, err := g.rs.FetchAll(ctx, remote.UserSettings)
	if err != nil {
		return fmt.Errorf("user_settings の取得に失敗: %w", err)
	}
	if len(rows) > 0 {
		if err := g.rs.Update(ctx, remote.UserSettings, rows[0].ID(), encodeSettings(s)); err != nil {
			return fmt.Errorf("設定の更新に失敗: %w", err)
		}
		return nil
	}
	if _, err := g.rs.Insert(ctx, remote.UserSettings, encodeSettings(s)); err != nil {
		return fmt.Errorf("設定の登録に失敗: %w", err)
	}
	return nil
}

// Balance は口座の現在残高をリモートから読む
func (g *Gateway) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	accounts, err := g.Accounts(ctx)
	var de DecodeErrors
	if err != nil && !errors.As(err, &de) {
		return decimal.Zero, err
	}
	for _, a := range accounts {
		if a.ID == accountID {
			return a.Balance, nil
		}
	}
	return decimal.Zero, fmt.Errorf("口座 %s: %w", accountID, remote.ErrNotFound)
}

// Plan は1つのアクションで行う書き込みの列
type Plan struct {
	ops []remote.Op
}

func (p *Plan) Len() int { return len(p.ops) }

func (p *Plan) InsertTransaction(in *model.TransactionInput) *Plan {
	p.ops = append(p.ops, remote.Op{Kind: remote.OpInsert, Collection: remote.Transactions, Row: encodeTransaction(in)})
	return p
}

func (p *Plan) InsertDebt(in *model.DebtInput) *Plan {
	p.ops = append(p.ops, remote.Op{Kind: remote.OpInsert, Collection: remote.Debts, Row: encodeDebt(in)})
	return p
}

func (p *Plan) SetBalance(accountID string, balance decimal.Decimal) *Plan {
	p.ops = append(p.ops, remote.Op{
		Kind: remote.OpUpdate, Collection: remote.Accounts, ID: accountID,
		Row: remote.Row{"balance": balance.String()},
	})
	return p
}

func (p *Plan) SetDebtPaid(id string, paid bool) *Plan {
	p.ops = append(p.ops, remote.Op{
		Kind: remote.OpUpdate, Collection: remote.Debts, ID: id,
		Row: remote.Row{"is_paid": paid},
	})
	return p
}

func (p *Plan) StampSubscription(id string, at time.Time) *Plan {
	p.ops = append(p.ops, remote.Op{
		Kind: remote.OpUpdate, Collection: remote.Subscriptions, ID: id,
		Row: remote.Row{"last_paid": at.UTC().Format(time.RFC3339Nano)},
	})
	return p
}

// Result は Commit で登録された行
type Result struct {
	Applied      int
	Transactions []model.Transaction
	Debts        []model.Debt
}

// Commit は書き込み列を適用する。ストアが Batcher なら全件かゼロ件、
// そうでなければ順に適用し、途中で失敗すると *PartialError を返す（Result はそこまでの分）
func (g *Gateway) Commit(ctx context.Context, p *Plan) (*Result, error) {
	res := &Result{}
	if b, ok := g.rs.(remote.Batcher); ok {
		rows, err := b.Apply(ctx, p.ops)
		if err != nil {
			return res, fmt.Errorf("一括書き込みに失敗: %w", err)
		}
		for i, op := range p.ops {
			if err := res.collect(op, rows[i]); err != nil {
				return res, err
			}
		}
		res.Applied = len(p.ops)
		return res, nil
	}

	for i, op := range p.ops {
		var row remote.Row
		var err error
		switch op.Kind {
		case remote.OpInsert:
			row, err = g.rs.Insert(ctx, op.Collection, op.Row)
		case remote.OpUpdate:
			err = g.rs.Update(ctx, op.Collection, op.ID, op.Row)
		case remote.OpDelete:
			err = g.rs.Delete(ctx, op.Collection, op.ID)
		}
		if err != nil {
			if i == 0 {
				return res, fmt.Errorf("%s への書き込みに失敗: %w", op.Collection, err)
			}
			return res, &PartialError{Applied: i, Err: err}
		}
		if err := res.collect(op, row); err != nil {
			return res, &PartialError{Applied: i + 1, Err: err}
		}
		res.Applied = i + 1
	}
	return res, nil
}

func (r *Result) collect(op remote.Op, row remote.Row) error {
	if op.Kind != remote.OpInsert {
		return nil
	}
	switch op.Collection {
	case remote.Transactions:
		tx, err := DecodeTransaction(row)
		if err != nil {
			return err
		}
		r.Transactions = append(r.Transactions, tx)
	case remote.Debts:
		d, err := DecodeDebt(row)
		if err != nil {
			return err
		}
		r.Debts = append(r.Debts, d)
	}
	return nil
}
