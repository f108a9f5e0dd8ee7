package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fintrack/internal/apperror"
	"fintrack/internal/gateway"
	"fintrack/internal/model"
	"fintrack/internal/remote"
	"fintrack/internal/state"
)

// AddSubscription は定期支払いを登録する
func (s *Store) AddSubscription(ctx context.Context, in *model.SubscriptionInput) (*model.Subscription, error) {
	if in == nil || strings.TrimSpace(in.Name) == "" {
		return nil, apperror.New("名前は必須です")
	}
	if !in.Amount.IsPositive() || in.PaymentDay < 1 || in.PaymentDay > 31 {
		return nil, apperror.New("金額（正の数）、支払日（1-31）は必須です")
	}
	if !in.Period.Valid() {
		return nil, apperror.New("周期は MONTHLY, YEARLY のいずれかを指定してください")
	}
	if !in.Currency.Valid() {
		return nil, apperror.Newf("不明な通貨です: %s", in.Currency)
	}

	s.actMu.Lock()
	defer s.actMu.Unlock()

	sub, err := s.gw.InsertSubscription(ctx, in)
	if err != nil {
		writesTotal.WithLabelValues("add_subscription", "error").Inc()
		return nil, err
	}
	writesTotal.WithLabelValues("add_subscription", "ok").Inc()
	s.dispatch(state.SubscriptionAdded{Subscription: sub})
	s.log.Print(ctx, "subscription created", "id", sub.ID, "name", sub.Name, "payment_day", sub.PaymentDay)
	return &sub, nil
}

// DeleteSubscription は定期支払いを削除する
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	s.actMu.Lock()
	defer s.actMu.Unlock()

	if _, ok := s.Snapshot().Subscription(id); !ok {
		return apperror.NotFound("サブスクリプションが見つかりません: %s", id)
	}
	if err := s.remove(ctx, "delete_subscription", remote.Subscriptions, id); err != nil {
		return err
	}
	s.dispatch(state.SubscriptionDeleted{ID: id})
	return nil
}

// ResolveSubscription は支払通知を処理する。fundingAccountID を指定すると支出を記録し（支払った）、
// 空なら記録しない（支払わない）。どちらの場合も lastPaid に現在時刻を入れ、今期の通知を止める。
// 処理後、同じ日に支払日を迎える別のサブスクリプションがあれば次の通知にする
func (s *Store) ResolveSubscription(ctx context.Context, id string, fundingAccountID string) (*model.Transaction, error) {
	s.actMu.Lock()
	defer s.actMu.Unlock()

	snap := s.Snapshot()
	sub, ok := snap.Subscription(id)
	if !ok {
		return nil, apperror.NotFound("サブスクリプションが見つかりません: %s", id)
	}

	now := s.now()
	w := newWritePlan()
	w.stampSubscription(id, now)
	if fundingAccountID != "" {
		acc, err := fundingAccount(snap, fundingAccountID, sub.Currency)
		if err != nil {
			return nil, err
		}
		payment := &model.TransactionInput{
			Type:      model.TxExpense,
			Amount:    sub.Amount,
			Currency:  sub.Currency,
			AccountID: acc.ID,
			Category:  sub.Category,
			Date:      now.In(s.loc).Format(model.DateLayout),
			Note:      "Подписка: " + sub.Name,
		}
		if payment.Category == "" {
			payment.Category = model.DefaultExpenseCategory
		}
		w.insertTransaction(payment)
		w.balances(inputTransaction(payment), snap.Account)
	}

	res, err := s.commit(ctx, "resolve_subscription", w)
	var pe *gateway.PartialError
	if err != nil && !errors.As(err, &pe) {
		return nil, err
	}
	ev := state.SubscriptionStamped{ID: id, At: now}
	if len(res.Transactions) > 0 {
		ev.Companion = &res.Transactions[0]
	}
	s.dispatch(ev)
	s.dispatch(state.PendingSubscriptionSet{Subscription: state.Due(s.Snapshot().Subscriptions, s.today())})
	s.log.Print(ctx, "subscription resolved", "id", id, "paid", ev.Companion != nil)
	if pe != nil {
		return nil, fmt.Errorf("通知は処理しましたが支払の記録に失敗: %w", pe)
	}
	return ev.Companion, nil
}
