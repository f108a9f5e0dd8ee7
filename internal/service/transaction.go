package service

import (
	"context"
	"errors"
	"time"

	"fintrack/internal/apperror"
	"fintrack/internal/gateway"
	"fintrack/internal/model"
	"fintrack/internal/state"
)

// RecordTransaction は取引を登録し、関係する口座の残高を更新する
func (s *Store) RecordTransaction(ctx context.Context, in *model.TransactionInput) (*model.Transaction, error) {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return s.recordTransaction(ctx, in)
}

func (s *Store) recordTransaction(ctx context.Context, in *model.TransactionInput) (*model.Transaction, error) {
	snap := s.Snapshot()
	input, err := s.prepareTransaction(snap, in)
	if err != nil {
		return nil, err
	}

	w := newWritePlan()
	w.insertTransaction(&input)
	w.balances(inputTransaction(&input), snap.Account)
	res, err := s.commit(ctx, "record_transaction", w)
	if err != nil {
		return nil, err
	}
	tx, err := insertedTransaction(res)
	if err != nil {
		return nil, err
	}

	s.dispatch(state.TransactionRecorded{Tx: tx})
	s.log.Print(ctx, "transaction recorded", "id", tx.ID, "type", string(tx.Type), "amount", tx.Amount.String(), "account_id", tx.AccountID)
	return &tx, nil
}

// ImportTransactions は取引を一括登録する。
// 全件バリデーション後に1件ずつ登録し、失敗した時点で登録済みの分とエラーを返す
func (s *Store) ImportTransactions(ctx context.Context, inputs []model.TransactionInput) ([]model.Transaction, error) {
	if len(inputs) == 0 {
		return nil, apperror.New("登録する取引データがありません")
	}

	s.actMu.Lock()
	defer s.actMu.Unlock()

	snap := s.Snapshot()
	for i := range inputs {
		if _, err := s.prepareTransaction(snap, &inputs[i]); err != nil {
			return nil, apperror.Newf("%d件目: %s", i+1, err.Error())
		}
	}

	created := make([]model.Transaction, 0, len(inputs))
	for i := range inputs {
		tx, err := s.recordTransaction(ctx, &inputs[i])
		if err != nil {
			return created, apperror.Newf("%d件目 (%s) の登録に失敗しました: %v", i+1, inputs[i].Date, err)
		}
		created = append(created, *tx)
	}
	s.log.Print(ctx, "transactions imported", "count", len(created))
	return created, nil
}

// prepareTransaction は入力を検証し、登録する形に正規化したコピーを返す
func (s *Store) prepareTransaction(snap *state.Snapshot, in *model.TransactionInput) (model.TransactionInput, error) {
	if in == nil {
		return model.TransactionInput{}, apperror.New("取引データは必須です")
	}
	out := *in
	out.Tags = append([]string{}, in.Tags...)

	if !out.Type.Valid() {
		return out, apperror.New("種別は INCOME, EXPENSE, TRANSFER のいずれかを指定してください")
	}
	if !out.Amount.IsPositive() {
		return out, apperror.New("金額は0より大きい値を指定してください")
	}
	from, ok := snap.Account(out.AccountID)
	if !ok {
		return out, apperror.NotFound("口座が見つかりません: %s", out.AccountID)
	}
	if out.Currency == "" {
		out.Currency = from.Currency
	}
	if !out.Currency.Valid() {
		return out, apperror.Newf("不明な通貨です: %s", out.Currency)
	}
	if out.Date == "" {
		out.Date = s.today().Format(model.DateLayout)
	}
	if _, err := time.Parse(model.DateLayout, out.Date); err != nil {
		return out, apperror.Newf("日付は YYYY-MM-DD 形式で指定してください: %s", out.Date)
	}

	if out.Type != model.TxTransfer {
		out.ToAccountID = ""
		out.ExchangeRate = nil
		if out.Category == "" {
			return out, apperror.New("カテゴリは必須です")
		}
		return out, nil
	}

	to, ok := snap.Account(out.ToAccountID)
	if !ok {
		return out, apperror.NotFound("振替先の口座が見つかりません: %s", out.ToAccountID)
	}
	if to.ID == from.ID {
		return out, apperror.New("振替元と振替先が同じ口座です")
	}
	if out.Category == "" {
		out.Category = model.TransferCategory
	}
	if from.Currency == to.Currency {
		out.ExchangeRate = nil
		return out, nil
	}
	if out.ExchangeRate == nil || !out.ExchangeRate.IsPositive() {
		return out, apperror.Newf("通貨の異なる振替 (%s → %s) にはレートが必要です", from.Currency, to.Currency)
	}
	return out, nil
}

// inputTransaction は登録前の入力を残高計算用の取引にする
func inputTransaction(in *model.TransactionInput) model.Transaction {
	return model.Transaction{
		Type:         in.Type,
		Amount:       in.Amount,
		Currency:     in.Currency,
		AccountID:    in.AccountID,
		ToAccountID:  in.ToAccountID,
		ExchangeRate: in.ExchangeRate,
		Category:     in.Category,
		Date:         in.Date,
		Note:         in.Note,
		Tags:         in.Tags,
	}
}

func insertedTransaction(res *gateway.Result) (model.Transaction, error) {
	if res == nil || len(res.Transactions) == 0 {
		return model.Transaction{}, errors.New("登録した取引を取得できません")
	}
	return res.Transactions[0], nil
}
