package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fintrack/internal/model"
)

// Memory はプロセス内のリモートストア（ローカル開発・テスト用）
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[Collection][]Row // userID → collection → 行（挿入順）
	users   map[string]model.User           // email → user
	subs    map[string]map[chan Change]struct{}
	now     func() time.Time
	last    time.Time
}

// NewMemory は空の Memory を生成する
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[Collection][]Row),
		users:   make(map[string]model.User),
		subs:    make(map[string]map[chan Change]struct{}),
		now:     time.Now,
	}
}

// ForUser は userID にスコープされた Store を返す
func (m *Memory) ForUser(userID string) Store {
	return &memoryView{m: m, userID: userID}
}

// UserByEmail はメールアドレスのユーザーを返す（nil = 未登録）
func (m *Memory) UserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// PutUser はユーザーを保存する（作成・更新兼用）
func (m *Memory) PutUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(u.Email)] = *u
	return nil
}

// tick は単調増加する時刻を返す（created_at の並びを挿入順と一致させる）
func (m *Memory) tick() time.Time {
	t := m.now().UTC().Truncate(time.Microsecond)
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

type memoryView struct {
	m      *Memory
	userID string
}

var _ Batcher = (*memoryView)(nil)

func (v *memoryView) FetchAll(_ context.Context, c Collection) ([]Row, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	rows := v.m.records[v.userID][c]
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	if c == Transactions {
		SortTransactionRows(out)
	}
	return out, nil
}

func (v *memoryView) Insert(ctx context.Context, c Collection, row Row) (Row, error) {
	rows, err := v.Apply(ctx, []Op{{Kind: OpInsert, Collection: c, Row: row}})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (v *memoryView) Update(ctx context.Context, c Collection, id string, patch Row) error {
	_, err := v.Apply(ctx, []Op{{Kind: OpUpdate, Collection: c, ID: id, Row: patch}})
	return err
}

func (v *memoryView) Delete(ctx context.Context, c Collection, id string) error {
	_, err := v.Apply(ctx, []Op{{Kind: OpDelete, Collection: c, ID: id}})
	return err
}

// Apply は ops をコピー上で適用し、全件成功した場合のみ差し替える
func (v *memoryView) Apply(_ context.Context, ops []Op) ([]Row, error) {
	v.m.mu.Lock()
	current := v.m.records[v.userID]
	next := make(map[Collection][]Row, len(current))
	for c, rows := range current {
		next[c] = append([]Row(nil), rows...)
	}

	results := make([]Row, len(ops))
	changes := make([]Change, 0, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case OpInsert:
			row := PrepareInsert(op.Row, v.m.tick())
			next[op.Collection] = append(next[op.Collection], row)
			results[i] = row.Clone()
			changes = append(changes, Change{Collection: op.Collection, Op: OpInsert, ID: row.ID()})
		case OpUpdate:
			idx := indexOf(next[op.Collection], op.ID)
			if idx < 0 {
				v.m.mu.Unlock()
				return nil, fmt.Errorf("%s/%s: %w", op.Collection, op.ID, ErrNotFound)
			}
			row := next[op.Collection][idx].Clone()
			for k, val := range op.Row {
				row[k] = val
			}
			next[op.Collection][idx] = row
			changes = append(changes, Change{Collection: op.Collection, Op: OpUpdate, ID: op.ID})
		case OpDelete:
			idx := indexOf(next[op.Collection], op.ID)
			if idx >= 0 {
				rows := next[op.Collection]
				next[op.Collection] = append(rows[:idx:idx], rows[idx+1:]...)
			}
			changes = append(changes, Change{Collection: op.Collection, Op: OpDelete, ID: op.ID})
		default:
			v.m.mu.Unlock()
			return nil, fmt.Errorf("unknown op kind %q", op.Kind)
		}
	}
	v.m.records[v.userID] = next
	// 購読側の close と競合しないようロック中に送る（送信はノンブロッキング）
	for ch := range v.m.subs[v.userID] {
		for _, c := range changes {
			select {
			case ch <- c:
			default:
				// 受信側が詰まっている場合は捨てる（再取得トリガーなので1件届けば十分）
			}
		}
	}
	v.m.mu.Unlock()
	return results, nil
}

func (v *memoryView) Subscribe(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)
	v.m.mu.Lock()
	if v.m.subs[v.userID] == nil {
		v.m.subs[v.userID] = make(map[chan Change]struct{})
	}
	v.m.subs[v.userID][ch] = struct{}{}
	v.m.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.m.mu.Lock()
		delete(v.m.subs[v.userID], ch)
		v.m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func indexOf(rows []Row, id string) int {
	for i, r := range rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

// SortTransactionRows は date 降順、created_at 降順に並べる
func SortTransactionRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		di, _ := rows[i]["date"].(string)
		dj, _ := rows[j]["date"].(string)
		if di != dj {
			return di > dj
		}
		ci, _ := rows[i]["created_at"].(string)
		cj, _ := rows[j]["created_at"].(string)
		return ci > cj
	})
}
