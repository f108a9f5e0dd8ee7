package service

import (
	"context"
	"strings"

	"fintrack/internal/apperror"
	"fintrack/internal/model"
	"fintrack/internal/remote"
	"fintrack/internal/state"
)

// AddAccount は口座を作成する
func (s *Store) AddAccount(ctx context.Context, in *model.AccountInput) (*model.Account, error) {
	if in == nil || strings.TrimSpace(in.Name) == "" {
		return nil, apperror.New("名前は必須です")
	}
	if !in.Type.Valid() {
		return nil, apperror.New("種別は CASH, CARD のいずれかを指定してください")
	}
	if !in.Currency.Valid() {
		return nil, apperror.Newf("不明な通貨です: %s", in.Currency)
	}

	s.actMu.Lock()
	defer s.actMu.Unlock()

	acc, err := s.gw.InsertAccount(ctx, in)
	if err != nil {
		writesTotal.WithLabelValues("add_account", "error").Inc()
		return nil, err
	}
	writesTotal.WithLabelValues("add_account", "ok").Inc()
	s.dispatch(state.AccountAdded{Account: acc})
	s.log.Print(ctx, "account created", "id", acc.ID, "name", acc.Name, "currency", string(acc.Currency))
	return &acc, nil
}

// DeleteAccount は口座を削除する。取引は残る
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.actMu.Lock()
	defer s.actMu.Unlock()

	if _, ok := s.Snapshot().Account(id); !ok {
		return apperror.NotFound("口座が見つかりません: %s", id)
	}
	if err := s.remove(ctx, "delete_account", remote.Accounts, id); err != nil {
		return err
	}
	delete(s.repairs, id)
	pendingRepairs.Set(float64(len(s.repairs)))
	s.dispatch(state.AccountDeleted{ID: id})
	return nil
}

// remove は1件削除の書き込みを行う
func (s *Store) remove(ctx context.Context, action string, c remote.Collection, id string) error {
	if err := s.gw.Delete(ctx, c, id); err != nil {
		writesTotal.WithLabelValues(action, "error").Inc()
		s.log.Error(ctx, "remote write failed", "action", action, "id", id, "err", err)
		return err
	}
	writesTotal.WithLabelValues(action, "ok").Inc()
	s.log.Print(ctx, "record deleted", "collection", string(c), "id", id)
	return nil
}
