package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/gateway"
	"fintrack/internal/model"
	"fintrack/internal/remote"
	"fintrack/internal/state"
)

// writePlan は残高更新を末尾に置いた書き込み列。
// core は残高以外の書き込みの件数、lastTx は直前に積んだ取引登録の位置
type writePlan struct {
	plan   gateway.Plan
	core   int
	lastTx int
	deltas map[int]balanceDelta
}

// balanceDelta は txIndex の取引登録に対応する残高変化
type balanceDelta struct {
	accountID string
	delta     decimal.Decimal
	txIndex   int
}

func newWritePlan() *writePlan {
	return &writePlan{lastTx: -1, deltas: make(map[int]balanceDelta)}
}

func (w *writePlan) insertTransaction(in *model.TransactionInput) {
	w.lastTx = w.plan.Len()
	w.plan.InsertTransaction(in)
	w.core++
}

func (w *writePlan) insertDebt(in *model.DebtInput) {
	w.plan.InsertDebt(in)
	w.core++
}

func (w *writePlan) setDebtPaid(id string, paid bool) {
	w.plan.SetDebtPaid(id, paid)
	w.core++
}

func (w *writePlan) stampSubscription(id string, at time.Time) {
	w.plan.StampSubscription(id, at)
	w.core++
}

// balances は取引の残高変化をローカルの残高に足した値で書き込む（振替は出金側が先）
func (w *writePlan) balances(tx model.Transaction, accounts func(string) (model.Account, bool)) {
	deltas := state.BalanceDeltas(tx)
	for _, id := range []string{tx.AccountID, tx.ToAccountID} {
		d, ok := deltas[id]
		if !ok {
			continue
		}
		delete(deltas, id)
		acc, ok := accounts(id)
		if !ok {
			continue
		}
		w.deltas[w.plan.Len()] = balanceDelta{accountID: id, delta: d, txIndex: w.lastTx}
		w.plan.SetBalance(id, acc.Balance.Add(d))
	}
}

// commit は書き込み列を適用する。
// 1件も適用されなかった場合は通常のエラーを返す。
// 未適用の残高更新は、対応する取引が登録済みのものだけ修復キューに積む。
// 残高以外の書き込みがすべて成功していれば nil、途中で止まった場合は *gateway.PartialError を返す（Result は適用済みの分）
func (s *Store) commit(ctx context.Context, action string, w *writePlan) (*gateway.Result, error) {
	res, err := s.gw.Commit(ctx, &w.plan)
	var pe *gateway.PartialError
	switch {
	case err == nil:
		writesTotal.WithLabelValues(action, "ok").Inc()
		return res, nil
	case !errors.As(err, &pe):
		writesTotal.WithLabelValues(action, "error").Inc()
		s.log.Error(ctx, "remote write failed", "action", action, "err", err)
		return nil, err
	}

	if pe.Applied == 0 {
		writesTotal.WithLabelValues(action, "error").Inc()
		s.log.Error(ctx, "remote write failed", "action", action, "err", pe.Err)
		return nil, fmt.Errorf("書き込みに失敗: %w", pe.Err)
	}

	writesTotal.WithLabelValues(action, "partial").Inc()
	for i := pe.Applied; i < w.plan.Len(); i++ {
		d, ok := w.deltas[i]
		if !ok {
			continue
		}
		if pe.Applied <= d.txIndex {
			s.log.Print(ctx, "balance change dropped, transaction not recorded", "account_id", d.accountID, "delta", d.delta.String())
			continue
		}
		s.queueRepair(ctx, d.accountID, d.delta)
	}
	s.log.Error(ctx, "remote write sequence stopped", "action", action, "applied", pe.Applied, "total", w.plan.Len(), "err", pe.Err)
	if pe.Applied >= w.core {
		return res, nil
	}
	return res, pe
}

func (s *Store) queueRepair(ctx context.Context, accountID string, delta decimal.Decimal) {
	s.repairs[accountID] = s.repairs[accountID].Add(delta)
	pendingRepairs.Set(float64(len(s.repairs)))
	s.log.Print(ctx, "balance repair queued", "account_id", accountID, "delta", delta.String())
}

// flushRepairs は未反映の残高差分をリモートの現在残高に足して書き込む。
// 失敗したものは次回に持ち越す
func (s *Store) flushRepairs(ctx context.Context) {
	for id, delta := range s.repairs {
		bal, err := s.gw.Balance(ctx, id)
		if errors.Is(err, remote.ErrNotFound) {
			s.log.Print(ctx, "balance repair dropped, account is gone", "account_id", id)
			delete(s.repairs, id)
			continue
		}
		if err != nil {
			s.log.Error(ctx, "balance repair read failed", "account_id", id, "err", err)
			continue
		}
		var p gateway.Plan
		if _, err := s.gw.Commit(ctx, p.SetBalance(id, bal.Add(delta))); err != nil {
			s.log.Error(ctx, "balance repair write failed", "account_id", id, "err", err)
			continue
		}
		s.log.Print(ctx, "balance repaired", "account_id", id, "delta", delta.String())
		repairsTotal.Inc()
		delete(s.repairs, id)
	}
	pendingRepairs.Set(float64(len(s.repairs)))
}
