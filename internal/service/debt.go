package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/apperror"
	"fintrack/internal/gateway"
	"fintrack/internal/model"
	"fintrack/internal/remote"
	"fintrack/internal/state"
)

// AddDebt は借金を登録する。fundingAccountID を指定すると、貸した場合は支出、
// 借りた場合は収入の取引を同時に記録する
func (s *Store) AddDebt(ctx context.Context, in *model.DebtInput, fundingAccountID string) (*model.Debt, error) {
	if in == nil {
		return nil, apperror.New("借金データは必須です")
	}
	input := *in
	input.PersonName = strings.TrimSpace(input.PersonName)
	if input.PersonName == "" {
		return nil, apperror.New("相手の名前は必須です")
	}
	if !input.Type.Valid() {
		return nil, apperror.New("種別は I_OWE, OWED_TO_ME のいずれかを指定してください")
	}
	if !input.Amount.IsPositive() {
		return nil, apperror.New("金額は0より大きい値を指定してください")
	}
	if !input.Currency.Valid() {
		return nil, apperror.Newf("不明な通貨です: %s", input.Currency)
	}
	if input.DueDate != "" {
		if _, err := time.Parse(model.DateLayout, input.DueDate); err != nil {
			return nil, apperror.Newf("期日は YYYY-MM-DD 形式で指定してください: %s", input.DueDate)
		}
	}

	s.actMu.Lock()
	defer s.actMu.Unlock()

	snap := s.Snapshot()
	w := newWritePlan()
	w.insertDebt(&input)
	var companion *model.TransactionInput
	if fundingAccountID != "" {
		acc, err := fundingAccount(snap, fundingAccountID, input.Currency)
		if err != nil {
			return nil, err
		}
		lending := input.Type == model.DebtOwedToMe
		companion = &model.TransactionInput{
			Type:      model.TxIncome,
			Amount:    input.Amount,
			Currency:  input.Currency,
			AccountID: acc.ID,
			Category:  model.DebtsCategory,
			Date:      s.today().Format(model.DateLayout),
			Note:      "Взял в долг: " + input.PersonName,
		}
		if lending {
			companion.Type = model.TxExpense
			companion.Note = "Дал в долг: " + input.PersonName
		}
		w.insertTransaction(companion)
		w.balances(inputTransaction(companion), snap.Account)
	}

	res, err := s.commit(ctx, "add_debt", w)
	var pe *gateway.PartialError
	if err != nil && !errors.As(err, &pe) {
		return nil, err
	}
	if len(res.Debts) == 0 {
		return nil, errors.New("登録した借金を取得できません")
	}
	debt := res.Debts[0]
	ev := state.DebtAdded{Debt: debt}
	if len(res.Transactions) > 0 {
		ev.Companion = &res.Transactions[0]
	}
	s.dispatch(ev)
	s.log.Print(ctx, "debt created", "id", debt.ID, "type", string(debt.Type), "person", debt.PersonName, "funded", ev.Companion != nil)
	if pe != nil {
		return &debt, fmt.Errorf("借金は登録しましたが取引の記録に失敗: %w", pe)
	}
	return &debt, nil
}

// DeleteDebt は借金を削除する。記録済みの取引は残る
func (s *Store) DeleteDebt(ctx context.Context, id string) error {
	s.actMu.Lock()
	defer s.actMu.Unlock()

	if _, ok := s.Snapshot().Debt(id); !ok {
		return apperror.NotFound("借金が見つかりません: %s", id)
	}
	if err := s.remove(ctx, "delete_debt", remote.Debts, id); err != nil {
		return err
	}
	s.dispatch(state.DebtDeleted{ID: id})
	return nil
}

// ToggleDebt は isPaid を反転する。未払い → 支払済みで fundingAccountID を指定すると、
// 自分の借金なら支出、貸した分の回収なら収入の取引を記録する。支払済み → 未払いは取引を戻さない
func (s *Store) ToggleDebt(ctx context.Context, id string, fundingAccountID string) (*model.Debt, error) {
	s.actMu.Lock()
	defer s.actMu.Unlock()

	snap := s.Snapshot()
	debt, ok := snap.Debt(id)
	if !ok {
		return nil, apperror.NotFound("借金が見つかりません: %s", id)
	}

	w := newWritePlan()
	w.setDebtPaid(id, !debt.IsPaid)
	if !debt.IsPaid && fundingAccountID != "" {
		acc, err := fundingAccount(snap, fundingAccountID, debt.Currency)
		if err != nil {
			return nil, err
		}
		companion := &model.TransactionInput{
			Type:      model.TxIncome,
			Amount:    debt.Amount,
			Currency:  debt.Currency,
			AccountID: acc.ID,
			Category:  model.DebtsCategory,
			Date:      s.today().Format(model.DateLayout),
			Note:      "Мне вернули долг: " + debt.PersonName,
		}
		if debt.Type == model.DebtIOwe {
			companion.Type = model.TxExpense
			companion.Note = "Вернул долг: " + debt.PersonName
		}
		w.insertTransaction(companion)
		w.balances(inputTransaction(companion), snap.Account)
	}

	res, err := s.commit(ctx, "toggle_debt", w)
	var pe *gateway.PartialError
	if err != nil && !errors.As(err, &pe) {
		return nil, err
	}
	ev := state.DebtToggled{ID: id}
	if len(res.Transactions) > 0 {
		ev.Companion = &res.Transactions[0]
	}
	s.dispatch(ev)
	debt.IsPaid = !debt.IsPaid
	s.log.Print(ctx, "debt toggled", "id", id, "is_paid", debt.IsPaid, "funded", ev.Companion != nil)
	if pe != nil {
		return &debt, fmt.Errorf("支払状態は更新しましたが取引の記録に失敗: %w", pe)
	}
	return &debt, nil
}

// fundingAccount は資金口座を取得する。通貨が異なる口座は使えない
func fundingAccount(snap *state.Snapshot, id string, currency model.Currency) (model.Account, error) {
	acc, ok := snap.Account(id)
	if !ok {
		return model.Account{}, apperror.NotFound("口座が見つかりません: %s", id)
	}
	if acc.Currency != currency {
		return model.Account{}, apperror.Newf("口座の通貨 (%s) と金額の通貨 (%s) が異なります", acc.Currency, currency)
	}
	return acc, nil
}
