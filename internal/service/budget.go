package service

import (
	"context"
	"strings"

	"fintrack/internal/apperror"
	"fintrack/internal/model"
	"fintrack/internal/remote"
	"fintrack/internal/state"
)

// AddBudget は予算を作成する。同じ (category, currency) の予算があれば何もせず既存の予算を返す
func (s *Store) AddBudget(ctx context.Context, in *model.BudgetInput) (*model.Budget, error) {
	if in == nil || strings.TrimSpace(in.Category) == "" {
		return nil, apperror.New("カテゴリは必須です")
	}
	if !in.Limit.IsPositive() {
		return nil, apperror.New("上限は0より大きい値を指定してください")
	}
	if !in.Currency.Valid() {
		return nil, apperror.Newf("不明な通貨です: %s", in.Currency)
	}

	s.actMu.Lock()
	defer s.actMu.Unlock()

	for _, b := range s.Snapshot().Budgets {
		if b.Category == in.Category && b.Currency == in.Currency {
			s.log.Print(ctx, "duplicate budget ignored", "category", in.Category, "currency", string(in.Currency))
			return &b, nil
		}
	}

	b, err := s.gw.InsertBudget(ctx, in)
	if err != nil {
		writesTotal.WithLabelValues("add_budget", "error").Inc()
		return nil, err
	}
	writesTotal.WithLabelValues("add_budget", "ok").Inc()
	s.dispatch(state.BudgetAdded{Budget: b})
	return &b, nil
}

// DeleteBudget は予算を削除する
func (s *Store) DeleteBudget(ctx context.Context, id string) error {
	s.actMu.Lock()
	defer s.actMu.Unlock()

	if _, ok := s.Snapshot().Budget(id); !ok {
		return apperror.NotFound("予算が見つかりません: %s", id)
	}
	if err := s.remove(ctx, "delete_budget", remote.Budgets, id); err != nil {
		return err
	}
	s.dispatch(state.BudgetDeleted{ID: id})
	return nil
}
