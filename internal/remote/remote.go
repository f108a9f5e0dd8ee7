// Package remote はホスト型バックエンドへのレコード操作の境界を定義する。
// 行は型付けされていない map として扱い、ドメイン型への変換は gateway が行う。
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Collection はリモートのコレクション名
type Collection string

const (
	Accounts      Collection = "accounts"
	Transactions  Collection = "transactions"
	Debts         Collection = "debts"
	Budgets       Collection = "budgets"
	Subscriptions Collection = "subscriptions"
	Categories    Collection = "categories"
	UserSettings  Collection = "user_settings"
)

// AllCollections は変更通知の対象となる全コレクション
var AllCollections = []Collection{Accounts, Transactions, Debts, Budgets, Subscriptions, Categories, UserSettings}

// ErrNotFound は更新対象のレコードが存在しないことを示す
var ErrNotFound = errors.New("record not found")

// Row はリモートの1レコード（キーはスネークケースの列名）
type Row map[string]any

// Clone は Row の浅いコピーを返す（[]string は複製する）
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if s, ok := v.([]string); ok {
			v = append([]string(nil), s...)
		}
		out[k] = v
	}
	return out
}

// ID は行の id を返す
func (r Row) ID() string {
	s, _ := r["id"].(string)
	return s
}

// OpKind は書き込み操作の種別
type OpKind string

const (
	OpInsert OpKind = "INSERT"
	OpUpdate OpKind = "UPDATE"
	OpDelete OpKind = "DELETE"
)

// Op は1件の書き込み操作。Insert では Row 全体、Update では差分を持つ
type Op struct {
	Kind       OpKind
	Collection Collection
	ID         string
	Row        Row
}

// Change は変更通知。ペイロードの差分は持たず再取得のトリガーとしてのみ使う
type Change struct {
	Collection Collection
	Op         OpKind
	ID         string
}

// Store はユーザーに紐づいたリモートストア
type Store interface {
	// FetchAll はコレクションの全行を返す（transactions は date 降順、created_at 降順）
	FetchAll(ctx context.Context, c Collection) ([]Row, error)
	// Insert は行を追加し、採番済みの id を含む行を返す
	Insert(ctx context.Context, c Collection, row Row) (Row, error)
	// Update は id の行に patch を部分適用する
	Update(ctx context.Context, c Collection, id string, patch Row) error
	// Delete は id の行を削除する
	Delete(ctx context.Context, c Collection, id string) error
	// Subscribe は ctx が終わるまで変更通知を流す
	Subscribe(ctx context.Context) (<-chan Change, error)
}

// Batcher は複数の書き込みを1トランザクションで適用できるストア。
// 戻り値は ops と同じ並びで、Insert の位置には採番済みの行が入る
type Batcher interface {
	Apply(ctx context.Context, ops []Op) ([]Row, error)
}

// TimestampLayout は created_at の形式（固定桁で文字列比較できる）
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// PrepareInsert は id と created_at が無ければ補完した行を返す
func PrepareInsert(row Row, now time.Time) Row {
	out := row.Clone()
	if out.ID() == "" {
		out["id"] = uuid.New().String()
	}
	if _, ok := out["created_at"]; !ok {
		out["created_at"] = now.UTC().Format(TimestampLayout)
	}
	return out
}
