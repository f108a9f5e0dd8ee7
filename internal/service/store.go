// Package service はスナップショットを所有し、リモート書き込み → 状態遷移の二段階でアクションを実行する。
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmkteam/embedlog"

	"fintrack/internal/gateway"
	"fintrack/internal/model"
	"fintrack/internal/remote"
	"fintrack/internal/state"
)

// Store はセッションのスナップショットとアクションを提供する
type Store struct {
	gw  *gateway.Gateway
	log embedlog.Logger
	now func() time.Time
	loc *time.Location

	mu   sync.RWMutex
	snap *state.Snapshot

	// actMu はアクションと全件取得を1つずつ実行させる
	actMu   sync.Mutex
	repairs map[string]decimal.Decimal // accountID → 未反映の残高差分
}

// Option は Store の設定を変更する
type Option func(*Store)

// WithClock は現在時刻の取得元を差し替える
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation は「今日」を判定するタイムゾーンを指定する
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewStore は空のスナップショットを持つ Store を生成する
func NewStore(gw *gateway.Gateway, log embedlog.Logger, opts ...Option) *Store {
	s := &Store{
		gw:      gw,
		log:     log,
		now:     time.Now,
		loc:     time.Local,
		snap:    state.Empty(),
		repairs: make(map[string]decimal.Decimal),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot は現在のスナップショットを返す。返り値は変更しないこと
func (s *Store) Snapshot() *state.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) dispatch(e state.Event) {
	s.mu.Lock()
	s.snap = state.Reduce(s.snap, e)
	s.mu.Unlock()
}

func (s *Store) today() time.Time {
	return s.now().In(s.loc)
}

// Load は未反映の残高を修復した後、全コレクションを取得してスナップショットを置き換える。
// 取得に失敗したコレクションはログに残して空にする
func (s *Store) Load(ctx context.Context) error {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) error {
	s.flushRepairs(ctx)

	next := s.fetch(ctx)
	if err := ctx.Err(); err != nil {
		refreshesTotal.WithLabelValues("canceled").Inc()
		return err
	}
	s.dispatch(state.Loaded{Next: next})
	refreshesTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Store) fetch(ctx context.Context) *state.Snapshot {
	current := s.Snapshot()
	next := state.Empty()
	next.Theme, next.Language = current.Theme, current.Language

	var (
		wg   sync.WaitGroup
		cats []model.Category
	)
	run := func(c remote.Collection, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil {
				s.logReadError(ctx, c, err)
			}
		}()
	}

	run(remote.Accounts, func() error {
		v, err := s.gw.Accounts(ctx)
		next.Accounts = orEmpty(v)
		return err
	})
	run(remote.Transactions, func() error {
		v, err := s.gw.Transactions(ctx)
		next.Transactions = orEmpty(v)
		return err
	})
	run(remote.Debts, func() error {
		v, err := s.gw.Debts(ctx)
		next.Debts = orEmpty(v)
		return err
	})
	run(remote.Budgets, func() error {
		v, err := s.gw.Budgets(ctx)
		next.Budgets = orEmpty(v)
		return err
	})
	run(remote.Subscriptions, func() error {
		v, err := s.gw.Subscriptions(ctx)
		next.Subscriptions = orEmpty(v)
		return err
	})
	run(remote.Categories, func() error {
		v, err := s.gw.Categories(ctx)
		cats = v
		return err
	})
	run(remote.UserSettings, func() error {
		v, err := s.gw.Settings(ctx)
		var de gateway.DecodeErrors
		if err == nil || errors.As(err, &de) {
			next.Theme, next.Language = v.Theme, v.Language
		}
		return err
	})
	wg.Wait()

	next.IncomeCategories, next.ExpenseCategories = state.NormalizeCategories(cats)
	next.PendingSubscription = state.Due(next.Subscriptions, s.today())
	return next
}

func (s *Store) logReadError(ctx context.Context, c remote.Collection, err error) {
	var de gateway.DecodeErrors
	if errors.As(err, &de) {
		for _, e := range de {
			s.log.Error(ctx, "skipped malformed row", "collection", string(c), "id", e.ID, "field", e.Field, "reason", e.Reason)
		}
		decodeRejectsTotal.WithLabelValues(string(c)).Add(float64(len(de)))
		return
	}
	s.log.Error(ctx, "remote read failed", "collection", string(c), "err", err)
	readFailuresTotal.WithLabelValues(string(c)).Inc()
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Clear は未反映の残高差分を書き込んでから、テーマと言語を残してスナップショットを空にする（サインアウト時）。
// 書き込めなかった差分はログに残して捨てる
func (s *Store) Clear(ctx context.Context) {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	s.flushRepairs(ctx)
	for id, delta := range s.repairs {
		s.log.Error(ctx, "balance repair discarded", "account_id", id, "delta", delta.String())
	}
	s.repairs = make(map[string]decimal.Decimal)
	pendingRepairs.Set(0)
	s.dispatch(state.Cleared{})
}

// SetPendingSubscription は通知中のサブスクリプションを置き換える（nil で解除）
func (s *Store) SetPendingSubscription(sub *model.Subscription) {
	s.dispatch(state.PendingSubscriptionSet{Subscription: sub})
}

// FlushRepairs は未反映の残高差分を書き込み、残った件数を返す
func (s *Store) FlushRepairs(ctx context.Context) int {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	s.flushRepairs(ctx)
	return len(s.repairs)
}

// PendingRepairs は未反映の残高差分の件数を返す
func (s *Store) PendingRepairs() int {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return len(s.repairs)
}

// Sync は変更通知を受けるたびに全件取得をやり直す。ctx が終わるかチャネルが閉じると戻る
func (s *Store) Sync(ctx context.Context, changes <-chan remote.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			// 溜まっている通知はまとめて1回の再取得にする
			drain(changes)
			s.log.Print(ctx, "remote change received", "collection", string(ch.Collection), "op", string(ch.Op), "id", ch.ID)
			if err := s.Load(ctx); err != nil && ctx.Err() == nil {
				s.log.Error(ctx, "background refresh failed", "err", err)
			}
		}
	}
}

func drain(changes <-chan remote.Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
